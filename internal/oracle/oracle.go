// Package oracle consults an external reasoning service about a failure and
// turns its free-text reply into a structured models.AIFinding.
//
// The Adapter makes exactly one backend call per Consult. It never retries and
// never returns an error: transport, timeout, and parse failures all produce a
// finding with Success=false and root cause AI_ANALYSIS_FAILED.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/rootcause/internal/models"
)

// DefaultTimeout applies when Consult is called without a timeout.
const DefaultTimeout = 60 * time.Second

// Prompt is what is sent to a backend.
type Prompt struct {
	System string
	User   string
}

// Backend sends one prompt to a reasoning service and returns its reply text.
// Implementations must honor ctx cancellation.
type Backend interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Logger is the subset of the console logger used by the adapter.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Adapter builds bounded prompts, calls a Backend, and parses the reply.
// Safe for concurrent use.
type Adapter struct {
	Backend Backend
	Parser  Parser
	Limits  Limits

	// Timeout is used when Consult receives a non-positive timeout.
	Timeout time.Duration

	Logger Logger
}

// NewAdapter creates an adapter with default limits and the markdown parser.
func NewAdapter(backend Backend, logger Logger) *Adapter {
	return &Adapter{
		Backend: backend,
		Parser:  NewMarkdownParser(),
		Limits:  DefaultLimits(),
		Timeout: DefaultTimeout,
		Logger:  logger,
	}
}

type reply struct {
	text string
	err  error
}

// Consult asks the backend about ev, waiting at most timeout. A reply that
// arrives after the deadline is dropped.
func (a *Adapter) Consult(ctx context.Context, ev models.EvidenceBundle, timeout time.Duration) models.AIFinding {
	start := time.Now()
	finding := a.consult(ctx, ev, timeout)
	finding.LatencyMs = time.Since(start).Milliseconds()
	if a != nil && a.Backend != nil {
		finding.Backend = a.Backend.Name()
	}
	return finding
}

func (a *Adapter) consult(ctx context.Context, ev models.EvidenceBundle, timeout time.Duration) models.AIFinding {
	if a == nil || a.Backend == nil {
		return models.FailedFinding("no oracle backend configured")
	}
	if timeout <= 0 {
		timeout = a.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := BuildPrompt(ev, a.Limits)
	a.debugf("Consulting %s for task %s (timeout %s)", a.Backend.Name(), ev.TaskID, timeout)

	// Buffered so an abandoned call can still deliver and exit.
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		text, err := a.Backend.Complete(callCtx, prompt)
		ch <- reply{text: text, err: err}
	}()

	var r reply
	select {
	case <-callCtx.Done():
		reason := fmt.Sprintf("oracle timed out after %s", timeout)
		if errors.Is(callCtx.Err(), context.Canceled) {
			reason = "oracle call canceled"
		}
		a.warnf("%s for task %s", reason, ev.TaskID)
		return models.FailedFinding(reason)
	case r = <-ch:
	}

	if r.err != nil {
		a.warnf("Oracle call failed for task %s: %v", ev.TaskID, r.err)
		return models.FailedFinding(fmt.Sprintf("oracle call failed: %v", r.err))
	}

	parser := a.Parser
	if parser == nil {
		parser = NewMarkdownParser()
	}
	parsed, err := parser.Parse(r.text)
	if err != nil {
		a.warnf("Oracle reply for task %s could not be parsed: %v", ev.TaskID, err)
		return models.FailedFinding(fmt.Sprintf("oracle reply unparseable: %v", err))
	}

	finding := parsed.Finding
	finding.Label = models.InferRootCause(finding.Primary())
	if finding.Label == models.Unknown {
		finding.Label = models.InferRootCause(r.text)
	}
	finding.Confidence = ScoreConfidence(r.text, parsed)
	finding.Success = true
	return finding
}

func (a *Adapter) debugf(format string, args ...interface{}) {
	if a.Logger != nil {
		a.Logger.Debugf(format, args...)
	}
}

func (a *Adapter) warnf(format string, args ...interface{}) {
	if a.Logger != nil {
		a.Logger.Warnf(format, args...)
	}
}
