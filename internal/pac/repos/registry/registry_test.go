package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-pac/internal/pac/common/clock"
	"github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/domain"
	"github.com/haukened/rr-pac/internal/pac/repos/state"
)

type fakeFetcher struct {
	domains      []string
	distributors []domain.Distributor
	domainsErr   error
	distErr      error
	calls        int32
}

func (f *fakeFetcher) FetchDomains(ctx context.Context) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.domainsErr != nil {
		return nil, f.domainsErr
	}
	return f.domains, nil
}

func (f *fakeFetcher) FetchDistributors(ctx context.Context) ([]domain.Distributor, error) {
	if f.distErr != nil {
		return nil, f.distErr
	}
	return f.distributors, nil
}

var syncTime = time.Date(2024, 3, 5, 14, 7, 0, 0, time.Local)

func newTestRegistry(t *testing.T, st state.Store, f Fetcher) *Registry {
	t.Helper()
	if st == nil {
		st = state.NewMemory()
	}
	r, err := New(Options{
		State:   st,
		Fetcher: f,
		Logger:  log.NewNoopLogger(),
		Clock:   &clock.MockClock{CurrentTime: syncTime},
	})
	require.NoError(t, err)
	return r
}

func sampleFetcher() *fakeFetcher {
	return &fakeFetcher{
		domains: []string{"zeta.org", "Example.com.", "alpha.net", "example.com"},
		distributors: []domain.Distributor{
			{Domains: []string{"refuser.com", "www.refuser-mirror.net"}, CooperationRefused: true},
			{Domains: []string{"friendly.org"}},
		},
	}
}

func TestNew_RequiresState(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestEmptyRegistry(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	ctx := context.Background()

	assert.Empty(t, r.GetDomains(ctx))
	assert.False(t, r.CheckDomains(ctx, "example.com"))
	_, found := r.CheckDistributors(ctx, "example.com")
	assert.False(t, found)
	assert.Equal(t, "", r.GetLastSyncTimestamp(ctx))
}

func TestSync_PublishesSortedDedupedSnapshot(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil, sampleFetcher())

	require.NoError(t, r.Sync(ctx))
	assert.Equal(t, []string{"alpha.net", "example.com", "zeta.org"}, r.GetDomains(ctx))
	assert.Equal(t, "05.03.2024 14:07", r.GetLastSyncTimestamp(ctx))
}

func TestGetDomains_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil, sampleFetcher())
	require.NoError(t, r.Sync(ctx))

	d := r.GetDomains(ctx)
	d[0] = "mutated"
	assert.Equal(t, "alpha.net", r.GetDomains(ctx)[0])
}

func TestCheckDomains(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil, sampleFetcher())
	require.NoError(t, r.Sync(ctx))

	cases := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"EXAMPLE.com.", true},
		{"www.example.com", true},
		{"a.b.zeta.org", true},
		{"example.org", false},
		{"notexample.com", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.host, func(t *testing.T) {
			assert.Equal(t, tc.want, r.CheckDomains(ctx, tc.host))
		})
	}
}

func TestCheckDistributors(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil, sampleFetcher())
	require.NoError(t, r.Sync(ctx))

	refused, found := r.CheckDistributors(ctx, "refuser.com")
	assert.True(t, found)
	assert.True(t, refused)

	refused, found = r.CheckDistributors(ctx, "www.refuser-mirror.net")
	assert.True(t, found)
	assert.True(t, refused)

	refused, found = r.CheckDistributors(ctx, "cdn.friendly.org")
	assert.True(t, found, "subdomain resolves through registrable domain")
	assert.False(t, refused)

	_, found = r.CheckDistributors(ctx, "unknown.org")
	assert.False(t, found)
}

func TestSync_IDNStoredAsPunycode(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil, &fakeFetcher{
		domains:      []string{"пример.рф", "example.com"},
		distributors: []domain.Distributor{{Domains: []string{"www.bücher.de"}, CooperationRefused: true}},
	})
	require.NoError(t, r.Sync(ctx))

	assert.Equal(t, []string{"example.com", "xn--e1afmkfd.xn--p1ai"}, r.GetDomains(ctx))
	assert.True(t, r.CheckDomains(ctx, "пример.рф"))
	assert.True(t, r.CheckDomains(ctx, "sub.xn--e1afmkfd.xn--p1ai"))

	refused, found := r.CheckDistributors(ctx, "xn--bcher-kva.de")
	assert.True(t, found)
	assert.True(t, refused)
	_, found = r.CheckDistributors(ctx, "bücher.de")
	assert.True(t, found)
}

func TestSync_FetchFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := sampleFetcher()
	r := newTestRegistry(t, nil, f)
	require.NoError(t, r.Sync(ctx))

	f.domainsErr = errors.New("down")
	require.Error(t, r.Sync(ctx))
	assert.Len(t, r.GetDomains(ctx), 3)

	f.domainsErr = nil
	f.distErr = errors.New("down")
	require.Error(t, r.Sync(ctx))
	assert.Len(t, r.GetDomains(ctx), 3)
}

func TestSync_EmptyListRejected(t *testing.T) {
	ctx := context.Background()
	f := sampleFetcher()
	r := newTestRegistry(t, nil, f)
	require.NoError(t, r.Sync(ctx))

	f.domains = []string{" ", ""}
	err := r.Sync(ctx)
	require.ErrorIs(t, err, ErrNoDomains)
	assert.Len(t, r.GetDomains(ctx), 3)
}

func TestSync_WithoutFetcher(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	err := r.Sync(context.Background())
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestSyncThenLoad_RestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	st := state.NewMemory()
	r := newTestRegistry(t, st, sampleFetcher())
	require.NoError(t, r.Sync(ctx))

	restored := newTestRegistry(t, st, nil)
	require.NoError(t, restored.Load(ctx))

	assert.Equal(t, r.GetDomains(ctx), restored.GetDomains(ctx))
	assert.True(t, restored.CheckDomains(ctx, "www.example.com"))
	refused, found := restored.CheckDistributors(ctx, "refuser.com")
	assert.True(t, found)
	assert.True(t, refused)
	assert.Equal(t, "05.03.2024 14:07", restored.GetLastSyncTimestamp(ctx))
}

func TestLoad_EmptyState(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	require.NoError(t, r.Load(context.Background()))
	assert.Empty(t, r.GetDomains(context.Background()))
	assert.Equal(t, "", r.GetLastSyncTimestamp(context.Background()))
}
