package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harrison/rootcause/internal/cascade"
	"github.com/harrison/rootcause/internal/models"
)

// LearnedRuleID is the id a rule update takes inside the rule table.
func LearnedRuleID(updateID string) string {
	short := strings.ReplaceAll(updateID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	return "learned-" + short
}

// Apply turns a pending rule update into a new version of its domain's table.
//
// The current version is kept as the backup. The new version is compiled,
// swapped in, and persisted; if any of that fails the backup pointer is
// restored, the update is marked rolled_back, and the returned error wraps
// ErrRolledBack. On success the update is marked applied.
//
// Preconditions (known domain, pending status) are checked before anything is
// touched; violating them returns an error and leaves the update unchanged.
func (r *Registry) Apply(ctx context.Context, u *models.RuleUpdate) error {
	if u == nil {
		return errors.New("apply: nil rule update")
	}
	if u.Status != models.UpdatePending {
		return fmt.Errorf("%w: %s is %s", ErrUpdateNotPending, u.ID, u.Status)
	}
	e := r.entry(u.Domain)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, u.Domain)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	backup := e.current.Load()
	if backup == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, u.Domain)
	}
	u.BackupTaken = true

	err := r.applyLocked(ctx, u.Domain, e, backup, u)
	now := r.now()
	u.UpdatedAt = &now
	if err != nil {
		u.Status = models.UpdateRolledBack
		u.Error = err.Error()
		r.warnf("Rule update %s on %s rolled back to v%d: %v", u.ID, u.Domain, backup.number, err)
		return fmt.Errorf("%w: %s: %v", ErrRolledBack, u.ID, err)
	}
	u.Status = models.UpdateApplied
	u.Error = ""
	r.infof("Applied rule update %s to %s as v%d", u.ID, u.Domain, u.AppliedVersion)
	return nil
}

func (r *Registry) applyLocked(ctx context.Context, domain string, e *entry, backup *version, u *models.RuleUpdate) (err error) {
	histLen := len(e.history)
	var next *version
	var saved bool

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during apply: %v", rec)
		}
		if err == nil {
			return
		}
		e.current.Store(backup)
		e.history = e.history[:histLen]
		if r.store == nil || next == nil {
			return
		}
		if saved {
			if derr := r.store.DeleteRuleVersions(ctx, domain, []int{next.number}); derr != nil {
				r.warnf("Failed to discard rule version %s v%d: %v", domain, next.number, derr)
			}
		}
		if aerr := r.store.SetActiveRuleVersion(ctx, domain, backup.number); aerr != nil {
			r.warnf("Failed to reactivate rule version %s v%d: %v", domain, backup.number, aerr)
		}
	}()

	spec := backup.spec.Clone()
	spec.Learned = append(spec.Learned, cascade.LearnedRuleSpec{
		ID:          LearnedRuleID(u.ID),
		UpdateID:    u.ID,
		Keywords:    append([]string(nil), u.Keywords...),
		DOMPatterns: append([]string(nil), u.DOMPatterns...),
		Frameworks:  append([]string(nil), u.Frameworks...),
		Label:       u.ExpectedLabel,
		Confidence:  u.Confidence,
	})

	next, err = newVersion(spec, e.nextNumber(), backup.number, "learned:"+u.ID, r.now())
	if err != nil {
		return err
	}
	e.history = append(e.history, next)
	e.current.Store(next)

	saved, err = r.persist(ctx, domain, next)
	if err != nil {
		return err
	}
	u.AppliedVersion = next.number
	return nil
}
