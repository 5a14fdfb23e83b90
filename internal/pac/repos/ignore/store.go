package ignore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/common/utils"
	"github.com/haukened/rr-pac/internal/pac/domain"
	"github.com/haukened/rr-pac/internal/pac/repos/state"
)

const (
	DefaultFetchInterval  = 15 * time.Minute
	DefaultSaveInterval   = 30 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
	DefaultCacheSize      = 4096
)

// Fetcher returns the remote ignore list.
type Fetcher interface {
	FetchList(ctx context.Context) ([]string, error)
}

// Options configures a Store. State is required; a nil Fetcher disables
// remote refresh.
type Options struct {
	State          state.Store
	Fetcher        Fetcher
	Logger         log.Logger
	CacheSize      int
	FetchInterval  time.Duration
	SaveInterval   time.Duration
	RequestTimeout time.Duration
}

// snapshot is an immutable view of both sets. Writers build a new one and
// publish it; readers never lock.
type snapshot struct {
	gen       uint64
	durable   map[string]struct{}
	transient map[string]struct{}
}

func (s *snapshot) with(durable, transient map[string]struct{}) *snapshot {
	return &snapshot{gen: s.gen + 1, durable: durable, transient: transient}
}

// Store holds the hosts that must never be proxied. All mutations go through
// mu so there is a single writer; Contains reads the published snapshot.
type Store struct {
	mu      sync.Mutex
	snap    atomic.Pointer[snapshot]
	cache   verdictCache
	refresh singleflight.Group

	state   state.Store
	fetcher Fetcher
	logger  log.Logger

	fetchInterval  time.Duration
	saveInterval   time.Duration
	requestTimeout time.Duration
}

// New constructs a Store with empty sets. Call Load to hydrate the durable
// set from storage.
func New(opts Options) (*Store, error) {
	if opts.State == nil {
		return nil, fmt.Errorf("ignore: state store is required")
	}
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = DefaultFetchInterval
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = DefaultSaveInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	cache, err := newVerdictCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("ignore: create cache: %w", err)
	}
	s := &Store{
		cache:          cache,
		state:          opts.State,
		fetcher:        opts.Fetcher,
		logger:         log.With(opts.Logger, map[string]any{"component": "ignore"}),
		fetchInterval:  opts.FetchInterval,
		saveInterval:   opts.SaveInterval,
		requestTimeout: opts.RequestTimeout,
	}
	s.snap.Store(&snapshot{durable: map[string]struct{}{}, transient: map[string]struct{}{}})
	return s, nil
}

// Load replaces the in-memory durable set with the persisted list.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := state.GetStrings(ctx, s.state, domain.KeyIgnoredHosts)
	if err != nil {
		return fmt.Errorf("load ignored hosts: %w", err)
	}
	cur := s.snap.Load()
	s.publish(cur.with(toSet(stored), cur.transient))
	s.logger.Info(map[string]any{"count": len(stored)}, "Ignored hosts loaded")
	return nil
}

// RefreshFromRemote merges the remote ignore list into the durable set and
// persists the union. Failures are logged and leave state untouched. It
// returns how many hosts were new.
func (s *Store) RefreshFromRemote(ctx context.Context) int {
	if s.fetcher == nil {
		return 0
	}

	v, err, _ := s.refresh.Do("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
		return s.fetcher.FetchList(fctx)
	})
	if err != nil {
		s.logger.Warn(map[string]any{"error": err}, "Fetching ignored domains failed")
		return 0
	}
	remote := v.([]string)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := state.GetStrings(ctx, s.state, domain.KeyIgnoredHosts)
	if err != nil {
		s.logger.Warn(map[string]any{"error": err}, "Reading ignored hosts failed")
		return 0
	}

	cur := s.snap.Load()
	merged := union(cur.durable, stored, remote)
	if err := s.state.Set(ctx, domain.KeyIgnoredHosts, sortedKeys(merged)); err != nil {
		s.logger.Warn(map[string]any{"error": err}, "Persisting fetched ignored hosts failed")
		return 0
	}

	added := len(merged) - len(cur.durable)
	s.publish(cur.with(merged, cur.transient))
	s.logger.Info(map[string]any{"fetched": len(remote), "added": added, "total": len(merged)}, "Ignored domains fetched")
	return added
}

// Persist writes the durable set to storage and reads the stored list back
// into memory, so both sides end up holding the union.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := state.GetStrings(ctx, s.state, domain.KeyIgnoredHosts)
	if err != nil {
		return fmt.Errorf("read ignored hosts: %w", err)
	}
	cur := s.snap.Load()
	merged := union(cur.durable, stored)
	if err := s.state.Set(ctx, domain.KeyIgnoredHosts, sortedKeys(merged)); err != nil {
		return fmt.Errorf("write ignored hosts: %w", err)
	}
	if len(merged) != len(cur.durable) {
		s.publish(cur.with(merged, cur.transient))
	}
	s.logger.Debug(map[string]any{"count": len(merged)}, "All ignored domains saved")
	return nil
}

// Clear empties both sets and persists an empty durable list. Memory is
// cleared even when the write fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publish(s.snap.Load().with(map[string]struct{}{}, map[string]struct{}{}))
	if err := s.state.Set(ctx, domain.KeyIgnoredHosts, []string{}); err != nil {
		return fmt.Errorf("clear ignored hosts: %w", err)
	}
	s.logger.Info(nil, "Ignored hosts cleared")
	return nil
}

// Add ignores the host of rawURL. Temporary hosts live for the process only;
// others are persisted. Re-adding a present host changes nothing.
func (s *Store) Add(ctx context.Context, rawURL string, temporary bool) error {
	host, err := utils.ExtractHostname(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", domain.ErrClassificationInput, rawURL, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if temporary {
		if _, ok := cur.transient[host]; ok {
			return nil
		}
		transient := clone(cur.transient)
		transient[host] = struct{}{}
		s.publish(cur.with(cur.durable, transient))
		s.logger.Info(map[string]any{"host": host, "temporary": true}, "Added to ignore")
		return nil
	}

	stored, err := state.GetStrings(ctx, s.state, domain.KeyIgnoredHosts)
	if err != nil {
		return fmt.Errorf("read ignored hosts: %w", err)
	}
	merged := union(cur.durable, stored, []string{host})
	if err := s.state.Set(ctx, domain.KeyIgnoredHosts, sortedKeys(merged)); err != nil {
		return fmt.Errorf("write ignored hosts: %w", err)
	}
	s.publish(cur.with(merged, cur.transient))
	s.logger.Info(map[string]any{"host": host, "temporary": false}, "Added to ignore")
	return nil
}

// Contains reports whether traffic to rawURL must bypass the proxy: the host
// is in either set, is localhost, or is a special-purpose IP literal.
// Unparseable input is never ignored.
func (s *Store) Contains(rawURL string) bool {
	host, err := utils.ExtractHostname(rawURL)
	if err != nil {
		return false
	}

	snap := s.snap.Load()
	if v, ok := s.cache.Get(host, snap.gen); ok {
		return v
	}
	ignored := classify(snap, host)
	s.cache.Put(host, snap.gen, ignored)
	if ignored {
		s.logger.Debug(map[string]any{"host": host}, "Ignoring host")
	}
	return ignored
}

// Hosts returns sorted copies of the durable and transient sets.
func (s *Store) Hosts() (durable, transient []string) {
	snap := s.snap.Load()
	return sortedKeys(snap.durable), sortedKeys(snap.transient)
}

// CacheStats exposes the Contains cache counters.
func (s *Store) CacheStats() CacheStats { return s.cache.Stats() }

// Run drives the refresh and persist tickers until ctx is done. The two loops
// are independent so a slow store never delays a fetch and vice versa.
func (s *Store) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(ctx, s.fetchInterval, func(ctx context.Context) {
			s.RefreshFromRemote(ctx)
		})
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, s.saveInterval, func(ctx context.Context) {
			if err := s.Persist(ctx); err != nil {
				s.logger.Warn(map[string]any{"error": err}, "Saving ignored domains failed")
			}
		})
		return nil
	})
	return g.Wait()
}

func (s *Store) loop(ctx context.Context, every time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// publish must be called with mu held.
func (s *Store) publish(next *snapshot) {
	s.snap.Store(next)
	s.cache.Purge()
}

func classify(snap *snapshot, host string) bool {
	if _, ok := snap.durable[host]; ok {
		return true
	}
	if _, ok := snap.transient[host]; ok {
		return true
	}
	if isLocalhost(host) {
		return true
	}
	return IsSpecialPurposeIP(host)
}

// isLocalhost matches "localhost" and any name under the .localhost TLD.
func isLocalhost(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}

func toSet(hosts []string) map[string]struct{} {
	m := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if h = utils.NormalizeHostname(h); h != "" {
			m[h] = struct{}{}
		}
	}
	return m
}

func clone(m map[string]struct{}) map[string]struct{} {
	cp := make(map[string]struct{}, len(m)+1)
	for k := range m {
		cp[k] = struct{}{}
	}
	return cp
}

// union returns a new set holding base and every canonical, non-empty entry of lists.
func union(base map[string]struct{}, lists ...[]string) map[string]struct{} {
	out := clone(base)
	for _, l := range lists {
		for _, h := range l {
			if h = utils.NormalizeHostname(h); h != "" {
				out[h] = struct{}{}
			}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
