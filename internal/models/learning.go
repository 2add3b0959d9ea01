package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ValidationStatus is the review flag on a learning case.
type ValidationStatus string

const (
	CasePending   ValidationStatus = "pending"
	CaseValidated ValidationStatus = "validated"
	CaseRejected  ValidationStatus = "rejected"
)

// ParseValidationStatus validates a case status string.
func ParseValidationStatus(s string) (ValidationStatus, error) {
	switch st := ValidationStatus(s); st {
	case CasePending, CaseValidated, CaseRejected:
		return st, nil
	default:
		return "", fmt.Errorf("invalid validation status %q", s)
	}
}

// CaseID derives the stable learning-case id from a task id and the evidence timestamp.
func CaseID(taskID string, ts time.Time) string {
	sum := sha256.Sum256([]byte(taskID + "|" + ts.UTC().Format(time.RFC3339Nano)))
	return "case-" + hex.EncodeToString(sum[:])[:16]
}

// LearningCase is an append-only record in the learning store.
type LearningCase struct {
	ID            string               `json:"id" yaml:"id"`
	Domain        string               `json:"domain" yaml:"domain"`
	Evidence      EvidenceBundle       `json:"evidence" yaml:"evidence"`
	Deterministic *DeterministicResult `json:"deterministic,omitempty" yaml:"deterministic,omitempty"`
	AI            *AIFinding           `json:"ai,omitempty" yaml:"ai,omitempty"`
	Status        ValidationStatus     `json:"status" yaml:"status"`
	CreatedAt     time.Time            `json:"created_at" yaml:"created_at"`
}

// PatternMatch is the transient result of a similarity query.
type PatternMatch struct {
	PatternID        string    `json:"pattern_id" yaml:"pattern_id"`
	Similarity       float64   `json:"similarity" yaml:"similarity"`
	CaseIDs          []string  `json:"case_ids" yaml:"case_ids"`
	RecommendedLabel RootCause `json:"recommended_label" yaml:"recommended_label"`
	ConfidenceBoost  float64   `json:"confidence_boost" yaml:"confidence_boost"`
}

// UpdateStatus is the lifecycle state of a rule update.
type UpdateStatus string

const (
	UpdatePending    UpdateStatus = "pending"
	UpdateApplied    UpdateStatus = "applied"
	UpdateRejected   UpdateStatus = "rejected"
	UpdateRolledBack UpdateStatus = "rolled_back"
)

// RuleUpdate is a proposed or applied change to a domain's rule table.
type RuleUpdate struct {
	ID              string       `json:"id" yaml:"id"`
	Domain          string       `json:"domain" yaml:"domain"`
	Keywords        []string     `json:"keywords" yaml:"keywords"`
	DOMPatterns     []string     `json:"dom_patterns" yaml:"dom_patterns"`
	Frameworks      []string     `json:"frameworks" yaml:"frameworks"`
	ExpectedLabel   RootCause    `json:"expected_label" yaml:"expected_label"`
	Confidence      float64      `json:"confidence" yaml:"confidence"`
	SupportingCases []string     `json:"supporting_cases" yaml:"supporting_cases"`
	Status          UpdateStatus `json:"status" yaml:"status"`
	BackupTaken     bool         `json:"backup_taken" yaml:"backup_taken"`

	// Signature de-duplicates proposals with identical trigger conditions.
	Signature      string     `json:"signature" yaml:"signature"`
	AppliedVersion int        `json:"applied_version,omitempty" yaml:"applied_version,omitempty"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// RuleVersion is one persisted revision of a domain's rule table.
type RuleVersion struct {
	Domain  string `json:"domain" yaml:"domain"`
	Version int    `json:"version" yaml:"version"`

	// Parent is the version this one was derived from, 0 for a root.
	Parent int `json:"parent" yaml:"parent"`

	// Source describes the origin: builtin, file, learned:<update id>.
	Source    string    `json:"source" yaml:"source"`
	Spec      string    `json:"spec" yaml:"spec"`
	Active    bool      `json:"active" yaml:"active"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
