package feed

import (
	"context"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/domain"
)

// RegistryClient reads the blocklist and distributor registry from a remote
// registry API rooted at a base URL.
type RegistryClient struct {
	domains      *Client
	distributors *Client
}

// NewRegistryClient returns a client for base/domains/ and base/distributors/.
func NewRegistryClient(base string, timeout time.Duration, logger logpkg.Logger) *RegistryClient {
	base = strings.TrimRight(base, "/")
	return &RegistryClient{
		domains:      NewClient(base+"/domains/", timeout, logger),
		distributors: NewClient(base+"/distributors/", timeout, logger),
	}
}

// FetchDomains returns the blocklist as published by the registry.
func (r *RegistryClient) FetchDomains(ctx context.Context) ([]string, error) {
	return r.domains.FetchList(ctx)
}

// FetchDistributors returns the distributor registry.
func (r *RegistryClient) FetchDistributors(ctx context.Context) ([]domain.Distributor, error) {
	var out []domain.Distributor
	if err := r.distributors.FetchJSON(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
