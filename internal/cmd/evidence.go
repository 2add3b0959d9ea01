package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrison/rootcause/internal/models"
)

// evidenceFlags collects the evidence-related flags of classify.
type evidenceFlags struct {
	file         string
	taskID       string
	framework    string
	failureLog   string
	logFile      string
	snapshot     string
	snapshotFile string
	actionsFile  string
	timestamp    string
}

func (f *evidenceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "evidence", "e", "", "Evidence bundle file (YAML or JSON, \"-\" for stdin)")
	cmd.Flags().StringVar(&f.taskID, "task-id", "", "Task identifier")
	cmd.Flags().StringVar(&f.framework, "framework", "", "Automation framework (e.g. playwright, selenium)")
	cmd.Flags().StringVar(&f.failureLog, "log", "", "Failure log text")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Read the failure log from a file")
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "DOM snapshot HTML")
	cmd.Flags().StringVar(&f.snapshotFile, "snapshot-file", "", "Read the DOM snapshot from a file")
	cmd.Flags().StringVar(&f.actionsFile, "actions-file", "", "Recorded actions (YAML or JSON list)")
	cmd.Flags().StringVar(&f.timestamp, "timestamp", "", "Failure time, RFC 3339 (default: now)")
}

// build assembles the bundle. A bundle file is the base; individual flags
// override its fields.
func (f *evidenceFlags) build(stdin io.Reader) (models.EvidenceBundle, error) {
	var ev models.EvidenceBundle
	if f.file != "" {
		data, err := readInput(f.file, stdin)
		if err != nil {
			return ev, err
		}
		if ev, err = decodeBundle(data, f.file); err != nil {
			return ev, err
		}
	}

	if f.taskID != "" {
		ev.TaskID = f.taskID
	}
	if f.framework != "" {
		ev.Framework = f.framework
	}
	if f.failureLog != "" && f.logFile != "" {
		return ev, fmt.Errorf("--log and --log-file are mutually exclusive")
	}
	if f.snapshot != "" && f.snapshotFile != "" {
		return ev, fmt.Errorf("--snapshot and --snapshot-file are mutually exclusive")
	}
	if f.failureLog != "" {
		ev.FailureLog = f.failureLog
	}
	if f.logFile != "" {
		data, err := os.ReadFile(f.logFile)
		if err != nil {
			return ev, fmt.Errorf("read log file: %w", err)
		}
		ev.FailureLog = string(data)
	}
	if f.snapshot != "" {
		ev.DOMSnapshot = f.snapshot
	}
	if f.snapshotFile != "" {
		data, err := os.ReadFile(f.snapshotFile)
		if err != nil {
			return ev, fmt.Errorf("read snapshot file: %w", err)
		}
		ev.DOMSnapshot = string(data)
	}
	if f.actionsFile != "" {
		data, err := os.ReadFile(f.actionsFile)
		if err != nil {
			return ev, fmt.Errorf("read actions file: %w", err)
		}
		var actions []models.Action
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &actions)
		} else {
			err = yaml.Unmarshal(data, &actions)
		}
		if err != nil {
			return ev, fmt.Errorf("parse actions file: %w", err)
		}
		ev.Actions = actions
	}
	if f.timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, f.timestamp)
		if err != nil {
			return ev, fmt.Errorf("invalid --timestamp: %w", err)
		}
		ev.Timestamp = ts
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evidence file: %w", err)
	}
	return data, nil
}

// decodeBundle parses one bundle; a document starting with '{' is JSON,
// anything else YAML.
func decodeBundle(data []byte, name string) (models.EvidenceBundle, error) {
	var ev models.EvidenceBundle
	var err error
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &ev)
	} else {
		err = yaml.Unmarshal(data, &ev)
	}
	if err != nil {
		return ev, fmt.Errorf("parse evidence %s: %w", name, err)
	}
	return ev, nil
}

// bundleSource is one bundle read by batch, or the error that prevented reading it.
type bundleSource struct {
	name     string
	evidence models.EvidenceBundle
	err      error
}

var bundleExts = map[string]bool{".yaml": true, ".yml": true, ".json": true, ".jsonl": true}

// collectBundles expands files and directories into bundles. Directories
// contribute their *.yaml, *.yml, *.json and *.jsonl files in name order;
// a .jsonl file contributes one bundle per non-empty line.
func collectBundles(paths []string) ([]bundleSource, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", p, err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && bundleExts[strings.ToLower(filepath.Ext(e.Name()))] {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}

	var out []bundleSource
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		if strings.EqualFold(filepath.Ext(file), ".jsonl") {
			out = append(out, decodeLines(data, file)...)
			continue
		}
		ev, err := decodeBundle(data, file)
		out = append(out, bundleSource{name: file, evidence: ev, err: err})
	}
	return out, nil
}

func decodeLines(data []byte, file string) []bundleSource {
	var out []bundleSource
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		name := fmt.Sprintf("%s:%d", file, line)
		var ev models.EvidenceBundle
		err := json.Unmarshal(text, &ev)
		if err != nil {
			err = fmt.Errorf("parse evidence %s: %w", name, err)
		}
		out = append(out, bundleSource{name: name, evidence: ev, err: err})
	}
	if err := scanner.Err(); err != nil {
		out = append(out, bundleSource{name: file, err: fmt.Errorf("read %s: %w", file, err)})
	}
	return out
}
