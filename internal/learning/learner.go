package learning

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/harrison/rootcause/internal/models"
)

// Applier mutates the live rule tables. The rule registry implements it.
type Applier interface {
	Apply(ctx context.Context, u *models.RuleUpdate) error
}

// Logger is the subset of the application logger used here.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Result reports what one learning pass did.
type Result struct {
	CaseID            string
	Duplicate         bool
	Matches           []models.PatternMatch
	PatternDiscovered bool

	// RuleUpdates lists the ids of updates applied (aggressive) or queued
	// (active) by this pass.
	RuleUpdates []string
}

// Learner applies the learning-mode policy on top of a Store.
type Learner struct {
	store   *Store
	applier Applier
	logger  Logger

	updates *prometheus.CounterVec
}

// NewLearner wires a learner. applier, logger, and reg may be nil; without an
// applier updates are only ever queued.
func NewLearner(store *Store, applier Applier, logger Logger, reg prometheus.Registerer) *Learner {
	return &Learner{
		store:   store,
		applier: applier,
		logger:  logger,
		updates: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rootcause_rule_updates_total",
			Help: "Rule updates by resulting status.",
		}, []string{"status"}),
	}
}

// Store returns the underlying learning store.
func (l *Learner) Store() *Store {
	return l.store
}

// Learn records outcome and, depending on mode, searches for similar cases
// and proposes or applies rule updates. Only a failure to record is returned;
// later failures are logged and leave the outcome as recorded. A duplicate
// case stops the pass.
func (l *Learner) Learn(ctx context.Context, outcome models.HybridOutcome, ev models.EvidenceBundle, mode models.LearningMode) (Result, error) {
	if !mode.Records() {
		return Result{}, nil
	}

	caseID, inserted, err := l.store.record(ctx, outcome, ev)
	if err != nil {
		return Result{}, fmt.Errorf("record case: %w", err)
	}
	res := Result{CaseID: caseID, Duplicate: !inserted, RuleUpdates: []string{}}
	if !inserted {
		return res, nil
	}

	candidate := l.isCandidate(outcome)

	matches, err := l.store.FindSimilar(ctx, ev, outcome.Domain)
	if err != nil {
		l.warnf("Similarity search for %s failed: %v", caseID, err)
	} else {
		res.Matches = matches
		for _, m := range matches {
			if candidate && m.RecommendedLabel == outcome.AI.Label && len(m.CaseIDs)+1 >= l.store.Tuning.MinOccurrences {
				res.PatternDiscovered = true
				break
			}
		}
	}

	if mode.Proposes() && candidate {
		res.RuleUpdates = l.propose(ctx, outcome.Domain, mode)
	}

	if err := l.store.AnnotateOutcome(ctx, caseID, res.PatternDiscovered, res.RuleUpdates); err != nil {
		l.warnf("Failed to annotate outcome %s: %v", caseID, err)
	}
	return res, nil
}

// isCandidate reports whether an outcome is the kind the store learns from:
// the oracle named a concrete failure where the deterministic tier did not.
func (l *Learner) isCandidate(o models.HybridOutcome) bool {
	if o.AI == nil || !o.AI.Success || !o.AI.Label.IsFailure() {
		return false
	}
	d := o.Deterministic
	return d == nil || !d.Success || d.Confidence < l.store.Tuning.LowConfidence || d.Label == models.Unknown
}

func (l *Learner) propose(ctx context.Context, domain string, mode models.LearningMode) []string {
	proposals, err := l.store.ProposeUpdates(ctx, domain)
	if err != nil {
		l.warnf("Proposing rule updates for %s failed: %v", domain, err)
		return []string{}
	}

	ids := []string{}
	for _, u := range proposals {
		if mode != models.LearningAggressive || l.applier == nil {
			l.updates.WithLabelValues(string(models.UpdatePending)).Inc()
			l.infof("Queued rule update %s for %s (%s, %d cases)", u.ID, domain, u.ExpectedLabel, len(u.SupportingCases))
			ids = append(ids, u.ID)
			continue
		}
		if err := l.apply(ctx, u); err != nil {
			l.warnf("Rule update %s not applied: %v", u.ID, err)
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids
}

// apply hands u to the applier and persists any status change.
func (l *Learner) apply(ctx context.Context, u *models.RuleUpdate) error {
	before := u.Status
	applyErr := l.applier.Apply(ctx, u)
	if u.Status != before {
		l.updates.WithLabelValues(string(u.Status)).Inc()
		if err := l.store.SaveUpdateState(ctx, u); err != nil {
			l.warnf("Failed to save state of rule update %s: %v", u.ID, err)
		}
	}
	return applyErr
}

// ApplyUpdate applies a pending update on operator request. With
// requireValidation every supporting case must be validated first.
func (l *Learner) ApplyUpdate(ctx context.Context, id string, requireValidation bool) (*models.RuleUpdate, error) {
	if l.applier == nil {
		return nil, fmt.Errorf("apply %s: no rule registry configured", id)
	}
	u, err := l.store.GetUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != models.UpdatePending {
		return u, fmt.Errorf("rule update %s is %s, not pending", id, u.Status)
	}
	if requireValidation {
		ok, err := l.store.AllValidated(ctx, u.SupportingCases)
		if err != nil {
			return u, err
		}
		if !ok {
			return u, fmt.Errorf("rule update %s: %w", id, ErrNotValidated)
		}
	}
	return u, l.apply(ctx, u)
}

// RejectUpdate marks a pending update rejected.
func (l *Learner) RejectUpdate(ctx context.Context, id string) (*models.RuleUpdate, error) {
	u, err := l.store.GetUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != models.UpdatePending {
		return u, fmt.Errorf("rule update %s is %s, not pending", id, u.Status)
	}
	u.Status = models.UpdateRejected
	now := l.store.now()
	u.UpdatedAt = &now
	if err := l.store.SaveUpdateState(ctx, u); err != nil {
		return u, err
	}
	l.updates.WithLabelValues(string(u.Status)).Inc()
	return u, nil
}

func (l *Learner) infof(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Infof(format, args...)
	}
}

func (l *Learner) warnf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Warnf(format, args...)
	}
}
