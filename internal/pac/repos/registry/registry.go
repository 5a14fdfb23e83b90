package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-pac/internal/pac/common/clock"
	"github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/common/utils"
	"github.com/haukened/rr-pac/internal/pac/domain"
	"github.com/haukened/rr-pac/internal/pac/pacscript"
	"github.com/haukened/rr-pac/internal/pac/repos/state"
)

// ErrNoDomains is returned by Sync when the registry publishes an empty blocklist.
var ErrNoDomains = errors.New("registry returned no domains")

// Fetcher reads the remote registry.
type Fetcher interface {
	FetchDomains(ctx context.Context) ([]string, error)
	FetchDistributors(ctx context.Context) ([]domain.Distributor, error)
}

// Options configures a Registry. State is required. A nil Fetcher makes the
// registry read-only: Load works, Sync fails.
type Options struct {
	State   state.Store
	Fetcher Fetcher
	Logger  log.Logger
	Clock   clock.Clock
	FPRate  float64
}

// snapshot is an immutable registry generation.
type snapshot struct {
	domains      []string
	filter       *prefilter
	distributors map[string]bool
	syncedAt     time.Time
}

// Registry holds the current blocklist and distributor registry. Readers load
// the published snapshot; Sync and Load replace it wholesale.
type Registry struct {
	mu      sync.Mutex
	snap    atomic.Pointer[snapshot]
	state   state.Store
	fetcher Fetcher
	logger  log.Logger
	clock   clock.Clock
	fpRate  float64
}

// New returns an empty Registry. Call Load to restore the last synced snapshot.
func New(opts Options) (*Registry, error) {
	if opts.State == nil {
		return nil, fmt.Errorf("registry: state store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	r := &Registry{
		state:   opts.State,
		fetcher: opts.Fetcher,
		logger:  log.With(opts.Logger, map[string]any{"component": "registry"}),
		clock:   opts.Clock,
		fpRate:  opts.FPRate,
	}
	r.snap.Store(&snapshot{distributors: map[string]bool{}})
	return r, nil
}

// GetDomains returns a copy of the current blocklist, sorted.
func (r *Registry) GetDomains(ctx context.Context) []string {
	return slices.Clone(r.snap.Load().domains)
}

// CheckDomains reports whether host is on the blocklist, matching either the
// exact host or its second-level reduction.
func (r *Registry) CheckDomains(ctx context.Context, host string) bool {
	host = utils.NormalizeHostname(host)
	if host == "" {
		return false
	}
	snap := r.snap.Load()
	for _, candidate := range []string{pacscript.SecondLevel(host), host} {
		if !snap.filter.MightContain(candidate) {
			continue
		}
		if _, ok := slices.BinarySearch(snap.domains, candidate); ok {
			return true
		}
	}
	return false
}

// CheckDistributors looks host up in the distributor registry, first as given
// and then by its registrable domain. found is false for unlisted hosts.
func (r *Registry) CheckDistributors(ctx context.Context, host string) (cooperationRefused bool, found bool) {
	host = utils.NormalizeHostname(utils.DisplayHostname(host))
	if host == "" {
		return false, false
	}
	snap := r.snap.Load()
	if refused, ok := snap.distributors[host]; ok {
		return refused, true
	}
	if apex := utils.ApexDomain(host); apex != host {
		if refused, ok := snap.distributors[apex]; ok {
			return refused, true
		}
	}
	return false, false
}

// GetLastSyncTimestamp returns the last successful sync in display form, or
// an empty string when the registry was never synced.
func (r *Registry) GetLastSyncTimestamp(ctx context.Context) string {
	at := r.snap.Load().syncedAt
	if at.IsZero() {
		return ""
	}
	return at.Local().Format(domain.LastSyncLayout)
}

// Load restores the last persisted snapshot.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domains, err := state.GetStrings(ctx, r.state, domain.KeyRegistryDomains)
	if err != nil {
		return fmt.Errorf("load registry domains: %w", err)
	}
	var dists []domain.Distributor
	if _, err := r.state.Get(ctx, domain.KeyRegistryDistributors, &dists); err != nil {
		return fmt.Errorf("load registry distributors: %w", err)
	}
	var syncedAt time.Time
	if _, err := r.state.Get(ctx, domain.KeyRegistryLastSync, &syncedAt); err != nil {
		return fmt.Errorf("load registry sync time: %w", err)
	}

	r.snap.Store(r.build(domains, dists, syncedAt))
	r.logger.Info(map[string]any{"domains": len(domains), "distributors": len(dists)}, "Registry loaded")
	return nil
}

// Sync fetches the registry, publishes the new snapshot and persists it. A
// failed fetch leaves the current snapshot in place.
func (r *Registry) Sync(ctx context.Context) error {
	if r.fetcher == nil {
		return fmt.Errorf("%w: no registry fetcher configured", domain.ErrConfiguration)
	}

	var (
		domains []string
		dists   []domain.Distributor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		domains, err = r.fetcher.FetchDomains(gctx)
		if err != nil {
			return fmt.Errorf("fetch domains: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		dists, err = r.fetcher.FetchDistributors(gctx)
		if err != nil {
			return fmt.Errorf("fetch distributors: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.build(domains, dists, r.clock.Now())
	if len(next.domains) == 0 {
		return ErrNoDomains
	}
	r.snap.Store(next)
	r.logger.Info(map[string]any{"domains": len(next.domains), "distributors": len(dists)}, "Registry synced")

	if err := r.persist(ctx, next, dists); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, snap *snapshot, dists []domain.Distributor) error {
	if err := r.state.Set(ctx, domain.KeyRegistryDomains, snap.domains); err != nil {
		return err
	}
	if err := r.state.Set(ctx, domain.KeyRegistryDistributors, dists); err != nil {
		return err
	}
	return r.state.Set(ctx, domain.KeyRegistryLastSync, snap.syncedAt)
}

func (r *Registry) build(domains []string, dists []domain.Distributor, syncedAt time.Time) *snapshot {
	prepared := pacscript.Prepare(canonical(domains))
	byHost := make(map[string]bool)
	for _, d := range dists {
		for _, h := range d.Domains {
			h = utils.NormalizeHostname(utils.DisplayHostname(h))
			if h == "" {
				continue
			}
			byHost[h] = byHost[h] || d.CooperationRefused
		}
	}
	return &snapshot{
		domains:      prepared,
		filter:       newPrefilter(prepared, r.fpRate),
		distributors: byHost,
		syncedAt:     syncedAt,
	}
}

func canonical(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		out = append(out, utils.NormalizeHostname(d))
	}
	return out
}
