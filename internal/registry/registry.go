// Package registry holds the live, versioned set of cascade rule tables.
//
// Each domain keeps an append-only list of compiled versions and an atomic
// pointer to the current one. Readers load the pointer without locking and
// always see a whole table. Writers take the domain's own mutex, so applying
// an update to one domain never blocks another.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harrison/rootcause/internal/cascade"
	"github.com/harrison/rootcause/internal/models"
)

var (
	// ErrUnknownDomain is returned for operations on a domain with no table.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrNoPreviousVersion is returned by Rollback on a root version.
	ErrNoPreviousVersion = errors.New("no previous version")

	// ErrUpdateNotPending is returned by Apply for updates that were already decided.
	ErrUpdateNotPending = errors.New("rule update is not pending")

	// ErrRolledBack wraps the cause of a failed Apply after the backup was restored.
	ErrRolledBack = errors.New("rule update rolled back")
)

// Logger is the subset of the console logger used by the registry.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// VersionStore persists rule-table versions. The learning store implements it.
type VersionStore interface {
	SaveRuleVersion(ctx context.Context, v models.RuleVersion) error
	SetActiveRuleVersion(ctx context.Context, domain string, version int) error
	LoadRuleVersions(ctx context.Context, domain string) ([]models.RuleVersion, error)
	RuleDomains(ctx context.Context) ([]string, error)
	DeleteRuleVersions(ctx context.Context, domain string, versions []int) error
}

type version struct {
	number    int
	parent    int
	source    string
	spec      cascade.TableSpec
	table     *cascade.Table
	createdAt time.Time
}

type entry struct {
	mu      sync.Mutex
	current atomic.Pointer[version]
	history []*version // ascending by number, guarded by mu
}

func (e *entry) nextNumber() int {
	if len(e.history) == 0 {
		return 1
	}
	return e.history[len(e.history)-1].number + 1
}

func (e *entry) find(number int) *version {
	for _, v := range e.history {
		if v.number == number {
			return v
		}
	}
	return nil
}

// Registry maps domain names to versioned rule tables.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*entry

	store  VersionStore
	logger Logger
	now    func() time.Time
}

// New creates an empty registry. store and logger may be nil.
func New(store VersionStore, logger Logger) *Registry {
	return &Registry{
		domains: make(map[string]*entry),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

func newVersion(spec cascade.TableSpec, number, parent int, source string, createdAt time.Time) (*version, error) {
	table, err := cascade.Compile(spec, number)
	if err != nil {
		return nil, err
	}
	return &version{
		number:    number,
		parent:    parent,
		source:    source,
		spec:      spec.Clone(),
		table:     table,
		createdAt: createdAt,
	}, nil
}

func (r *Registry) entry(domain string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.domains[domain]
}

func (r *Registry) entryOrCreate(domain string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.domains[domain]
	if !ok {
		e = &entry{}
		r.domains[domain] = e
	}
	return e
}

// Register compiles spec as the next version of its domain and makes it current.
func (r *Registry) Register(ctx context.Context, spec cascade.TableSpec, source string) (int, error) {
	e := r.entryOrCreate(spec.Domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	parent := 0
	if cur := e.current.Load(); cur != nil {
		parent = cur.number
	}
	v, err := newVersion(spec, e.nextNumber(), parent, source, r.now())
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", spec.Domain, err)
	}
	if _, err := r.persist(ctx, spec.Domain, v); err != nil {
		return 0, fmt.Errorf("register %s: %w", spec.Domain, err)
	}
	e.history = append(e.history, v)
	e.current.Store(v)
	r.infof("Registered rule table %s v%d (%s)", spec.Domain, v.number, source)
	return v.number, nil
}

// Load restores every domain persisted in the version store. Domains already
// present in the registry are left untouched.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	domains, err := r.store.RuleDomains(ctx)
	if err != nil {
		return fmt.Errorf("load rule domains: %w", err)
	}
	for _, domain := range domains {
		if r.entry(domain) != nil {
			continue
		}
		records, err := r.store.LoadRuleVersions(ctx, domain)
		if err != nil {
			return fmt.Errorf("load rule versions for %s: %w", domain, err)
		}
		if len(records) == 0 {
			continue
		}

		e := r.entryOrCreate(domain)
		e.mu.Lock()
		var active *version
		for _, rec := range records {
			spec, err := cascade.ParseSpec([]byte(rec.Spec))
			if err != nil {
				e.mu.Unlock()
				return fmt.Errorf("rule table %s v%d: %w", domain, rec.Version, err)
			}
			v, err := newVersion(spec, rec.Version, rec.Parent, rec.Source, rec.CreatedAt)
			if err != nil {
				e.mu.Unlock()
				return fmt.Errorf("rule table %s v%d: %w", domain, rec.Version, err)
			}
			e.history = append(e.history, v)
			if rec.Active {
				active = v
			}
		}
		sort.Slice(e.history, func(i, j int) bool { return e.history[i].number < e.history[j].number })
		if active == nil {
			active = e.history[len(e.history)-1]
		}
		e.current.Store(active)
		e.mu.Unlock()
		r.infof("Restored rule table %s v%d", domain, active.number)
	}
	return nil
}

// Bootstrap restores persisted tables and registers any embedded built-in
// table whose domain is still missing.
func (r *Registry) Bootstrap(ctx context.Context) error {
	if err := r.Load(ctx); err != nil {
		return err
	}
	specs, err := cascade.BuiltinSpecs()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if _, ok := r.Table(spec.Domain); ok {
			continue
		}
		if _, err := r.Register(ctx, spec, "builtin"); err != nil {
			return err
		}
	}
	return nil
}

// Reset registers the embedded table of domain as a new version, discarding
// learned rules and rules_dir edits from the active table. Earlier versions
// are retained, so a reset can itself be rolled back.
func (r *Registry) Reset(ctx context.Context, domain string) (int, error) {
	spec, ok, err := cascade.BuiltinSpec(domain)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: no builtin table for %s", ErrUnknownDomain, domain)
	}
	return r.Register(ctx, spec, "builtin")
}

// Table returns the current compiled table for domain.
func (r *Registry) Table(domain string) (*cascade.Table, bool) {
	e := r.entry(domain)
	if e == nil {
		return nil, false
	}
	v := e.current.Load()
	if v == nil {
		return nil, false
	}
	return v.table, true
}

// Tables returns the current table of every domain, ordered by domain name.
func (r *Registry) Tables() []*cascade.Table {
	var out []*cascade.Table
	for _, d := range r.Domains() {
		if t, ok := r.Table(d); ok {
			out = append(out, t)
		}
	}
	return out
}

// Domains lists registered domains in sorted order.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.domains))
	for d, e := range r.domains {
		if e.current.Load() != nil {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// Spec returns a copy of the current spec and its version number.
func (r *Registry) Spec(domain string) (cascade.TableSpec, int, error) {
	e := r.entry(domain)
	if e == nil || e.current.Load() == nil {
		return cascade.TableSpec{}, 0, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	v := e.current.Load()
	return v.spec.Clone(), v.number, nil
}

// Snapshot renders the current table of domain as YAML.
func (r *Registry) Snapshot(domain string) ([]byte, error) {
	spec, _, err := r.Spec(domain)
	if err != nil {
		return nil, err
	}
	return spec.Marshal()
}

// History lists every retained version of domain, oldest first.
func (r *Registry) History(domain string) ([]models.RuleVersion, error) {
	e := r.entry(domain)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	out := make([]models.RuleVersion, 0, len(e.history))
	for _, v := range e.history {
		rec, err := v.record(domain)
		if err != nil {
			return nil, err
		}
		rec.Active = cur != nil && v.number == cur.number
		out = append(out, rec)
	}
	return out, nil
}

// Rollback restores the parent of the current version of domain.
func (r *Registry) Rollback(ctx context.Context, domain string) (int, error) {
	e := r.entry(domain)
	if e == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	if cur == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	prev := e.find(cur.parent)
	if prev == nil {
		return 0, fmt.Errorf("%w: %s v%d", ErrNoPreviousVersion, domain, cur.number)
	}
	if r.store != nil {
		if err := r.store.SetActiveRuleVersion(ctx, domain, prev.number); err != nil {
			return 0, fmt.Errorf("rollback %s: %w", domain, err)
		}
	}
	e.current.Store(prev)
	r.infof("Rolled back rule table %s from v%d to v%d", domain, cur.number, prev.number)
	return prev.number, nil
}

// Prune drops all but the newest keep versions of domain. The current version
// is always retained. It returns the number of versions removed.
func (r *Registry) Prune(ctx context.Context, domain string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	e := r.entry(domain)
	if e == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) <= keep {
		return 0, nil
	}
	cur := e.current.Load()
	cutoff := len(e.history) - keep
	var kept []*version
	var dropped []int
	for i, v := range e.history {
		if i < cutoff && (cur == nil || v.number != cur.number) {
			dropped = append(dropped, v.number)
			continue
		}
		kept = append(kept, v)
	}
	if len(dropped) == 0 {
		return 0, nil
	}
	if r.store != nil {
		if err := r.store.DeleteRuleVersions(ctx, domain, dropped); err != nil {
			return 0, fmt.Errorf("prune %s: %w", domain, err)
		}
	}
	e.history = kept
	return len(dropped), nil
}

// persist writes v and marks it active. saved reports whether the version row
// was written, so a failed activation can clean it up.
func (r *Registry) persist(ctx context.Context, domain string, v *version) (saved bool, err error) {
	if r.store == nil {
		return false, nil
	}
	rec, err := v.record(domain)
	if err != nil {
		return false, err
	}
	if err := r.store.SaveRuleVersion(ctx, rec); err != nil {
		return false, fmt.Errorf("save rule version: %w", err)
	}
	if err := r.store.SetActiveRuleVersion(ctx, domain, v.number); err != nil {
		return true, fmt.Errorf("activate rule version: %w", err)
	}
	return true, nil
}

func (v *version) record(domain string) (models.RuleVersion, error) {
	data, err := v.spec.Marshal()
	if err != nil {
		return models.RuleVersion{}, err
	}
	return models.RuleVersion{
		Domain:    domain,
		Version:   v.number,
		Parent:    v.parent,
		Source:    v.source,
		Spec:      string(data),
		CreatedAt: v.createdAt,
	}, nil
}

func (r *Registry) infof(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Infof(format, args...)
	}
}

func (r *Registry) warnf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Warnf(format, args...)
	}
}
