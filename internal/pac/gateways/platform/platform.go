// Package platform holds the host-platform side of proxy management: the
// proxy settings subsystem, the extension manager and the installer
// strategies that turn a PAC payload into an installable ProxyConfig.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/rr-pac/internal/pac/domain"
)

// ErrUnknownExtension is returned when an extension ID is not installed.
var ErrUnknownExtension = errors.New("unknown extension")

// ProxySettings is the platform proxy subsystem.
type ProxySettings interface {
	Set(ctx context.Context, cfg domain.ProxyConfig) error
	Clear(ctx context.Context) error
	LevelOfControl(ctx context.Context) (domain.LevelOfControl, error)
}

// Extensions is the platform extension manager.
type Extensions interface {
	Self(ctx context.Context) (domain.Extension, error)
	All(ctx context.Context) ([]domain.Extension, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// PrivateBrowsing reports whether the agent may run in private windows.
type PrivateBrowsing interface {
	Allowed(ctx context.Context) (bool, error)
}

// StaticPrivateBrowsing is a fixed PrivateBrowsing answer.
type StaticPrivateBrowsing bool

func (s StaticPrivateBrowsing) Allowed(context.Context) (bool, error) { return bool(s), nil }

// Installer turns a PAC payload into the ProxyConfig a platform family
// accepts. It is chosen once at startup.
//
// - Build prepares the config; it may publish the payload somewhere first
// - Commit is called once the platform accepted the built config
// - Rollback drops what Build published when the platform rejected it,
//   leaving the previously committed install untouched
// - Release drops everything, committed or not
// - GatesPrivateBrowsing reports whether proxy use in private windows needs
//   an explicit grant on this platform
type Installer interface {
	Mode() domain.ProxyMode
	Build(ctx context.Context, payload, endpoint string) (domain.ProxyConfig, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Release(ctx context.Context) error
	GatesPrivateBrowsing() bool
	PrivateBrowsingAllowed(ctx context.Context) (bool, error)
}

const (
	KindAutoConfig = "autoconfig"
	KindInline     = "inline"
)

// NewInstaller returns the installer for kind. blobs and pb are only used by
// the autoconfig strategy.
func NewInstaller(kind string, blobs *BlobStore, pb PrivateBrowsing) (Installer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindAutoConfig:
		if blobs == nil {
			return nil, fmt.Errorf("%w: autoconfig installer needs a blob store", domain.ErrConfiguration)
		}
		return NewAutoConfigInstaller(blobs, pb), nil
	case KindInline:
		return NewInlineInstaller(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported platform %q", domain.ErrConfiguration, kind)
	}
}
