package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logpkg "github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/domain"
)

func newRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/domains/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# blocklist\nexample.com\nblocked.org\n"))
	})
	mux.HandleFunc("/api/distributors/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"domains":["dist.example"],"cooperationRefused":true}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRegistryClient_Fetch(t *testing.T) {
	srv := newRegistryServer(t)
	c := NewRegistryClient(srv.URL+"/api/", time.Second, logpkg.NewNoopLogger())

	domains, err := c.FetchDomains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "blocked.org"}, domains)

	dists, err := c.FetchDistributors(context.Background())
	require.NoError(t, err)
	require.Len(t, dists, 1)
	assert.Equal(t, domain.Distributor{Domains: []string{"dist.example"}, CooperationRefused: true}, dists[0])
}

func TestRegistryClient_DistributorsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewRegistryClient(srv.URL, time.Second, logpkg.NewNoopLogger())
	_, err := c.FetchDistributors(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport))
}
