package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/harrison/rootcause/internal/models"
)

// classifyFixture records one deterministic case and returns its id.
func classifyFixture(t *testing.T, env *testEnv) string {
	t.Helper()
	path := env.write(t, "evidence.yaml", serverErrorEvidence)
	stdout, _, err := runCommand(t, env, "classify", "-e", path, "--domain", "dropdown", "-f", "json")
	if err != nil {
		t.Fatalf("classify error = %v", err)
	}
	var outcome models.HybridOutcome
	if err := json.Unmarshal([]byte(stdout), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.CaseID == "" {
		t.Fatal("fixture case was not recorded")
	}
	return outcome.CaseID
}

func TestLearningStatsCommand(t *testing.T) {
	env := newTestEnv(t)
	classifyFixture(t, env)

	stdout, _, err := runCommand(t, env, "learning", "stats")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	for _, want := range []string{"Learning Statistics", "Cases:       1", "Schema:      v", "deterministic", string(models.WebsiteStateFailure)} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stats output missing %q:\n%s", want, stdout)
		}
	}

	stdout, _, err = runCommand(t, env, "learning", "stats", "--domain", "login_form")
	if err != nil {
		t.Fatalf("stats --domain error = %v", err)
	}
	if !strings.Contains(stdout, "Cases:       0") {
		t.Errorf("expected no cases for login_form:\n%s", stdout)
	}
}

func TestLearningListAndShowCommands(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, err := runCommand(t, env, "learning", "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(stdout, "No cases recorded.") {
		t.Errorf("expected empty list message, got:\n%s", stdout)
	}

	caseID := classifyFixture(t, env)

	stdout, _, err = runCommand(t, env, "learning", "list", "--domain", "dropdown", "--status", "pending")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(stdout, caseID) || !strings.Contains(stdout, "task-503") {
		t.Errorf("list output missing case %s:\n%s", caseID, stdout)
	}

	stdout, _, err = runCommand(t, env, "learning", "show", caseID, "--format", "json")
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	var c models.LearningCase
	if err := json.Unmarshal([]byte(stdout), &c); err != nil {
		t.Fatalf("show output is not JSON: %v", err)
	}
	if c.ID != caseID || c.Evidence.TaskID != "task-503" {
		t.Errorf("show returned %+v", c)
	}

	stdout, _, err = runCommand(t, env, "learning", "list", "--label", "website state failure")
	if err != nil {
		t.Fatalf("list --label error = %v", err)
	}
	if !strings.Contains(stdout, caseID) {
		t.Errorf("label filter dropped case %s:\n%s", caseID, stdout)
	}
	stdout, _, err = runCommand(t, env, "learning", "list", "--label", "DOM_PARSING_FAILURE")
	if err != nil {
		t.Fatalf("list --label error = %v", err)
	}
	if !strings.Contains(stdout, "No cases recorded.") {
		t.Errorf("expected no DOM parsing cases:\n%s", stdout)
	}
	if _, _, err := runCommand(t, env, "learning", "list", "--label", "timeout"); err == nil {
		t.Error("expected error for unknown label")
	}

	if _, _, err := runCommand(t, env, "learning", "list", "--status", "approved"); err == nil {
		t.Error("expected error for invalid status filter")
	}
	if _, _, err := runCommand(t, env, "learning", "show", "case-missing"); err == nil {
		t.Error("expected error for unknown case")
	}
}

func TestLearningValidateCommand(t *testing.T) {
	env := newTestEnv(t)
	caseID := classifyFixture(t, env)

	stdout, _, err := runCommand(t, env, "learning", "validate", caseID, "validated")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(stdout, "marked validated") {
		t.Errorf("unexpected output: %s", stdout)
	}

	stdout, _, err = runCommand(t, env, "learning", "list", "--status", "validated")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(stdout, caseID) {
		t.Errorf("validated case missing from list:\n%s", stdout)
	}

	if _, _, err := runCommand(t, env, "learning", "validate", caseID, "approved"); err == nil {
		t.Error("expected error for invalid status")
	}
	if _, _, err := runCommand(t, env, "learning", "validate", "case-missing", "rejected"); err == nil {
		t.Error("expected error for unknown case")
	}
}

func TestLearningSimilarCommand_NoOracleCases(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t, "query.yaml", serverErrorEvidence)

	stdout, _, err := runCommand(t, env, "learning", "similar", path, "--domain", "dropdown")
	if err != nil {
		t.Fatalf("similar error = %v", err)
	}
	if !strings.Contains(stdout, "No similar cases in domain dropdown") {
		t.Errorf("unexpected output:\n%s", stdout)
	}
}

func TestLearningProposeCommand_NothingToPropose(t *testing.T) {
	env := newTestEnv(t)
	classifyFixture(t, env)

	stdout, _, err := runCommand(t, env, "learning", "propose")
	if err != nil {
		t.Fatalf("propose error = %v", err)
	}
	if !strings.Contains(stdout, "No new rule updates proposed.") {
		t.Errorf("unexpected output:\n%s", stdout)
	}
}
