package platform

import (
	"context"

	"github.com/haukened/rr-pac/internal/pac/domain"
)

// InlineInstaller hands the payload to the platform as an inline PAC script.
// Nothing is published, so Commit, Rollback and Release have no effect.
type InlineInstaller struct{}

// NewInlineInstaller returns an InlineInstaller.
func NewInlineInstaller() *InlineInstaller { return &InlineInstaller{} }

// Mode reports ProxyModePACScript.
func (InlineInstaller) Mode() domain.ProxyMode { return domain.ProxyModePACScript }

// Build wraps payload in a pacScript config.
func (InlineInstaller) Build(ctx context.Context, payload, endpoint string) (domain.ProxyConfig, error) {
	return domain.ProxyConfig{
		Mode:        domain.ProxyModePACScript,
		EndpointURI: endpoint,
		PACPayload:  payload,
	}, nil
}

// Commit is a no-op: the payload travels inside the config.
func (InlineInstaller) Commit(context.Context) error { return nil }

// Rollback is a no-op. There is nothing published to withdraw.
func (InlineInstaller) Rollback(context.Context) error { return nil }

// Release is a no-op.
func (InlineInstaller) Release(context.Context) error { return nil }

// GatesPrivateBrowsing is false: inline platforms have no private-window gate.
func (InlineInstaller) GatesPrivateBrowsing() bool { return false }

// PrivateBrowsingAllowed always reports true.
func (InlineInstaller) PrivateBrowsingAllowed(context.Context) (bool, error) { return true, nil }
