package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haukened/rr-pac/internal/pac/domain"
)

// AutoConfigInstaller publishes the payload as a blob and points the platform
// at its URL. Platforms of this family gate proxy use in private windows.
//
// The committed blob is the one the platform currently points at. It stays
// live until a newer build is committed or the installer is released.
type AutoConfigInstaller struct {
	mu        sync.Mutex
	blobs     *BlobStore
	private   PrivateBrowsing
	committed string
	pending   string
}

// NewAutoConfigInstaller returns an installer publishing into blobs. A nil
// pb means private browsing is never allowed.
func NewAutoConfigInstaller(blobs *BlobStore, pb PrivateBrowsing) *AutoConfigInstaller {
	if pb == nil {
		pb = StaticPrivateBrowsing(false)
	}
	return &AutoConfigInstaller{blobs: blobs, private: pb}
}

// Mode reports ProxyModeAutoConfig.
func (a *AutoConfigInstaller) Mode() domain.ProxyMode { return domain.ProxyModeAutoConfig }

// Build publishes payload. The committed blob keeps serving until Commit.
func (a *AutoConfigInstaller) Build(ctx context.Context, payload, endpoint string) (domain.ProxyConfig, error) {
	if strings.TrimSpace(payload) == "" {
		return domain.ProxyConfig{}, fmt.Errorf("%w: empty PAC payload", domain.ErrEmptyPolicy)
	}
	cfg := domain.ProxyConfig{Mode: domain.ProxyModeAutoConfig, EndpointURI: endpoint, PACPayload: payload}

	a.mu.Lock()
	defer a.mu.Unlock()
	url := a.blobs.Publish(payload)
	if a.pending != url {
		a.dropPendingLocked()
	}
	a.pending = url
	cfg.AutoConfigURL = url
	return cfg, nil
}

// Commit promotes the last build to the installed blob and revokes the blob
// it replaces.
func (a *AutoConfigInstaller) Commit(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == "" {
		return nil
	}
	if a.committed != "" && a.committed != a.pending {
		a.blobs.Revoke(a.committed)
	}
	a.committed, a.pending = a.pending, ""
	a.blobs.Activate(a.committed)
	return nil
}

// Rollback revokes the last build unless it is the committed blob.
func (a *AutoConfigInstaller) Rollback(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropPendingLocked()
	return nil
}

// Release revokes every blob this installer published.
func (a *AutoConfigInstaller) Release(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropPendingLocked()
	if a.committed != "" {
		a.blobs.Revoke(a.committed)
		a.committed = ""
	}
	return nil
}

// GatesPrivateBrowsing is always true for auto-config platforms.
func (a *AutoConfigInstaller) GatesPrivateBrowsing() bool { return true }

// PrivateBrowsingAllowed asks the configured gate.
func (a *AutoConfigInstaller) PrivateBrowsingAllowed(ctx context.Context) (bool, error) {
	return a.private.Allowed(ctx)
}

// dropPendingLocked must be called with mu held.
func (a *AutoConfigInstaller) dropPendingLocked() {
	if a.pending != "" && a.pending != a.committed {
		a.blobs.Revoke(a.pending)
	}
	a.pending = ""
}
