package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/harrison/rootcause/internal/models"
)

// runCommand executes the root command with an isolated store and log dir.
func runCommand(t *testing.T, env *testEnv, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	full := append([]string{}, args...)
	full = append(full, "--db-path", env.dbPath, "--log-dir", env.logDir, "--backend", "none")
	root.SetArgs(full)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

type testEnv struct {
	dir    string
	dbPath string
	logDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return &testEnv{
		dir:    dir,
		dbPath: filepath.Join(dir, "learning", "rootcause.db"),
		logDir: filepath.Join(dir, "logs"),
	}
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	want := []string{"classify", "batch", "learning", "rules"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command missing subcommand %q", name)
		}
	}

	for _, flag := range []string{"config", "log-level", "log-dir", "db-path", "backend", "model"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("root command missing persistent flag --%s", flag)
		}
	}
}

func TestRootCommand_Version(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), Version) {
		t.Errorf("version output %q does not contain %q", out.String(), Version)
	}
}

func TestRootCommand_InvalidConfigFlag(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := runCommand(t, env, "rules", "list", "--log-level", "verbose")
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q should mention log_level", err)
	}
}

func TestRootCommand_ConfigFile(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, ".rootcause/config.yaml", "log_level: warn\nclassification:\n  concurrency: -1\n")

	_, _, err := runCommand(t, env, "rules", "list")
	if err == nil {
		t.Fatal("expected error from invalid concurrency in config file")
	}
	if !strings.Contains(err.Error(), "concurrency") {
		t.Errorf("error %q should mention concurrency", err)
	}
}

func TestModeFlagUsage_ListsEveryMode(t *testing.T) {
	for _, c := range []*cobra.Command{NewClassifyCommand(), NewBatchCommand()} {
		flag := c.Flags().Lookup("mode")
		if flag == nil {
			t.Fatalf("%s is missing --mode", c.Name())
		}
		for _, mode := range []models.LearningMode{models.LearningOff, models.LearningPassive, models.LearningActive, models.LearningAggressive} {
			if !strings.Contains(flag.Usage, string(mode)) {
				t.Errorf("%s --mode usage %q does not mention %s", c.Name(), flag.Usage, mode)
			}
		}
	}
}
