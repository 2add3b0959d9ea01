// Package router decides which tier classifies a failure. It runs the
// deterministic cascade, escalates to the oracle when the cascade is not
// confident, merges both into a models.HybridOutcome, and hands the outcome to
// the learner.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harrison/rootcause/internal/cascade"
	"github.com/harrison/rootcause/internal/learning"
	"github.com/harrison/rootcause/internal/models"
)

// Router states, in the order they can be visited.
const (
	StateStart         = "START"
	StateDeterministic = "DETERMINISTIC"
	StateAccept        = "ACCEPT"
	StateEscalate      = "ESCALATE"
	StateAI            = "AI"
	StateMerge         = "MERGE"
	StateRecord        = "RECORD"
	StateDone          = "DONE"
)

// UnknownDomain is used when auto-detection finds no matching table.
const UnknownDomain = "unknown"

// TableSource provides the current rule tables. The rule registry implements it.
type TableSource interface {
	Table(domain string) (*cascade.Table, bool)
	Tables() []*cascade.Table
}

// Consulter asks the oracle about a failure. It must not return before timeout
// elapses unless it has an answer or has failed.
type Consulter interface {
	Consult(ctx context.Context, ev models.EvidenceBundle, timeout time.Duration) models.AIFinding
}

// Learner records outcomes. *learning.Learner implements it.
type Learner interface {
	Learn(ctx context.Context, outcome models.HybridOutcome, ev models.EvidenceBundle, mode models.LearningMode) (learning.Result, error)
}

// Logger is the subset of the application logger used by the router.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Config holds routing policy.
type Config struct {
	// Threshold is the minimum deterministic confidence accepted without
	// consulting the oracle.
	Threshold float64

	// OracleTimeout bounds the whole escalation, retries included.
	OracleTimeout time.Duration

	// MaxOracleAttempts is how many times a failed consultation may be tried
	// while OracleTimeout has not elapsed.
	MaxOracleAttempts int

	// DefaultDomain is used when a request carries no domain hint.
	DefaultDomain string

	// Mode is the learning mode for requests that do not set one.
	Mode models.LearningMode
}

// DefaultConfig returns the standard routing policy.
func DefaultConfig() Config {
	return Config{
		Threshold:         0.75,
		OracleTimeout:     60 * time.Second,
		MaxOracleAttempts: 1,
		DefaultDomain:     cascade.AutoDomain,
		Mode:              models.LearningPassive,
	}
}

// Request is one classification.
type Request struct {
	Evidence models.EvidenceBundle

	// DomainHint names a rule table, or "auto" to select by keyword overlap.
	DomainHint string

	// Threshold overrides Config.Threshold when set.
	Threshold *float64

	// Mode overrides Config.Mode when set.
	Mode models.LearningMode
}

// Router is safe for concurrent use; it holds no per-request state.
type Router struct {
	tables  TableSource
	oracle  Consulter
	learner Learner
	logger  Logger
	cfg     Config
	metrics *metrics
	now     func() time.Time
}

// New creates a router. oracle, learner, logger, and reg may be nil. A nil
// oracle makes every escalation fall back.
func New(tables TableSource, oracle Consulter, learner Learner, logger Logger, cfg Config, reg prometheus.Registerer) *Router {
	if cfg.MaxOracleAttempts < 1 {
		cfg.MaxOracleAttempts = 1
	}
	if cfg.DefaultDomain == "" {
		cfg.DefaultDomain = cascade.AutoDomain
	}
	if cfg.Mode == "" {
		cfg.Mode = models.LearningPassive
	}
	return &Router{
		tables:  tables,
		oracle:  oracle,
		learner: learner,
		logger:  logger,
		cfg:     cfg,
		metrics: newMetrics(reg),
		now:     time.Now,
	}
}

// Resolve classifies one evidence bundle. The only error is invalid input;
// oracle and learning failures are absorbed into the outcome.
func (r *Router) Resolve(ctx context.Context, req Request) (models.HybridOutcome, error) {
	start := r.now()

	ev := req.Evidence.Clone()
	if err := ev.Validate(); err != nil {
		return models.HybridOutcome{}, err
	}
	threshold := r.cfg.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return models.HybridOutcome{}, fmt.Errorf("%w: confidence threshold %v outside [0,1]", models.ErrInvalidEvidence, threshold)
	}
	mode := r.cfg.Mode
	if req.Mode != "" {
		m, err := models.ParseLearningMode(string(req.Mode))
		if err != nil {
			return models.HybridOutcome{}, err
		}
		mode = m
	}

	out := models.HybridOutcome{
		TaskID:      ev.TaskID,
		Domain:      r.ResolveDomain(req.DomainHint, ev),
		RuleUpdates: []string{},
		Timestamp:   ev.Timestamp,
		States:      []string{StateStart},
	}

	var table *cascade.Table
	if r.tables != nil {
		table, _ = r.tables.Table(out.Domain)
	}
	det := cascade.Classify(table, ev)
	out.Deterministic = &det
	out.States = append(out.States, StateDeterministic)

	if det.Success && det.Confidence >= threshold {
		out.States = append(out.States, StateAccept)
		out.Method = models.MethodDeterministic
		out.Label = det.Label
		out.Confidence = det.Confidence
		r.debugf("Task %s: %s accepted at %.2f (threshold %.2f)", ev.TaskID, det.Label, det.Confidence, threshold)
	} else {
		out.States = append(out.States, StateEscalate, StateAI)
		r.debugf("Task %s: escalating %s at %.2f (threshold %.2f)", ev.TaskID, det.Label, det.Confidence, threshold)
		finding := r.consult(ctx, ev)
		out.OracleInvoked = true
		out.AI = &finding
		if finding.Success {
			out.Method = models.MethodAI
			out.Label = finding.Label
			out.Confidence = finding.Confidence
		} else {
			out.Method = models.MethodFallback
			out.Label = models.Unknown
			out.Confidence = 0
		}
	}
	out.States = append(out.States, StateMerge)
	out.LatencyMs = r.now().Sub(start).Milliseconds()

	if mode.Records() && r.learner != nil {
		out.States = append(out.States, StateRecord)
		out.CaseID = models.CaseID(ev.TaskID, ev.Timestamp)
		res, err := r.learner.Learn(ctx, out, ev, mode)
		if err != nil {
			r.warnf("Learning skipped for task %s: %v", ev.TaskID, err)
		} else {
			out.CaseID = res.CaseID
			out.PatternDiscovered = res.PatternDiscovered
			if len(res.RuleUpdates) > 0 {
				out.RuleUpdates = res.RuleUpdates
			}
		}
	}
	out.States = append(out.States, StateDone)

	r.metrics.classifications.WithLabelValues(string(out.Method)).Inc()
	r.metrics.latency.Observe(r.now().Sub(start).Seconds())
	return out, nil
}

// ResolveDomain maps a hint onto a domain. An empty hint uses the configured
// default; "auto" selects the table with the greatest keyword overlap.
func (r *Router) ResolveDomain(hint string, ev models.EvidenceBundle) string {
	if hint == "" {
		hint = r.cfg.DefaultDomain
	}
	if hint != cascade.AutoDomain {
		return hint
	}
	if r.tables == nil {
		return UnknownDomain
	}
	if d := cascade.DetectDomain(r.tables.Tables(), ev); d != "" {
		return d
	}
	return UnknownDomain
}

// consult calls the oracle up to MaxOracleAttempts times within one
// OracleTimeout budget.
func (r *Router) consult(ctx context.Context, ev models.EvidenceBundle) models.AIFinding {
	if r.oracle == nil {
		r.metrics.oracleCalls.WithLabelValues("unavailable").Inc()
		return models.FailedFinding("no oracle backend configured")
	}

	budget := r.cfg.OracleTimeout
	if budget <= 0 {
		budget = DefaultConfig().OracleTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	deadline, _ := ctx.Deadline()

	var finding models.AIFinding
	for attempt := 1; attempt <= r.cfg.MaxOracleAttempts; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		finding = r.oracle.Consult(ctx, ev, remaining)
		if finding.Success {
			r.metrics.oracleCalls.WithLabelValues("success").Inc()
			return finding
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < r.cfg.MaxOracleAttempts {
			r.warnf("Oracle attempt %d/%d for task %s failed: %s", attempt, r.cfg.MaxOracleAttempts, ev.TaskID, finding.Error)
		}
	}

	if ctx.Err() != nil {
		r.metrics.oracleCalls.WithLabelValues("timeout").Inc()
		if finding.Error == "" {
			finding = models.FailedFinding(fmt.Sprintf("oracle timed out after %s", budget))
		}
		return finding
	}
	r.metrics.oracleCalls.WithLabelValues("failure").Inc()
	return finding
}

func (r *Router) debugf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Debugf(format, args...)
	}
}

func (r *Router) warnf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Warnf(format, args...)
	}
}
