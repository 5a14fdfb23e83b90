// Package policy owns the proxy state machine: it turns the registry
// blocklist into a PAC payload, installs it through the platform installer
// and tracks the enabled/alive flags that drive the rest of the agent.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/domain"
	"github.com/haukened/rr-pac/internal/pac/gateways/platform"
	"github.com/haukened/rr-pac/internal/pac/pacscript"
	"github.com/haukened/rr-pac/internal/pac/repos/state"
)

// DefaultPingTimeout bounds a liveness ping when EngineOptions.PingTimeout is unset.
const DefaultPingTimeout = 10 * time.Second

// EngineOptions wires an Engine. Registry, State, Settings, Extensions and
// Installer are required.
type EngineOptions struct {
	Registry   DomainSource
	State      state.Store
	Settings   platform.ProxySettings
	Extensions platform.Extensions
	Installer  platform.Installer
	Logger     log.Logger

	// DefaultProxyServer is used when no custom endpoint is stored.
	DefaultProxyServer string
	// DefaultPingURI is used when no ping target is stored.
	DefaultPingURI string
	HTTPClient     *http.Client
	PingTimeout    time.Duration
}

// Engine is the proxy policy state machine. SetProxy and RemoveProxy are
// serialized so only one platform mutation is in flight at a time.
type Engine struct {
	mu sync.Mutex

	registry   DomainSource
	state      state.Store
	settings   platform.ProxySettings
	extensions platform.Extensions
	installer  platform.Installer
	logger     log.Logger

	defaultProxy string
	defaultPing  string
	http         *http.Client
	pingTimeout  time.Duration
	pings        sync.WaitGroup
}

// NewEngine returns an Engine over the given collaborators. Registry, State,
// Settings, Extensions and Installer are required.
func NewEngine(opts EngineOptions) (*Engine, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("policy: registry is required")
	case opts.State == nil:
		return nil, errors.New("policy: state store is required")
	case opts.Settings == nil:
		return nil, errors.New("policy: proxy settings are required")
	case opts.Extensions == nil:
		return nil, errors.New("policy: extension manager is required")
	case opts.Installer == nil:
		return nil, errors.New("policy: installer is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	return &Engine{
		registry:     opts.Registry,
		state:        opts.State,
		settings:     opts.Settings,
		extensions:   opts.Extensions,
		installer:    opts.Installer,
		logger:       log.With(opts.Logger, map[string]any{"component": "policy"}),
		defaultProxy: strings.TrimSpace(opts.DefaultProxyServer),
		defaultPing:  strings.TrimSpace(opts.DefaultPingURI),
		http:         opts.HTTPClient,
		pingTimeout:  opts.PingTimeout,
	}, nil
}

// SetProxy generates and installs the PAC. It reports whether a proxy is now
// installed. An empty blocklist or an unrenderable PAC removes any installed
// proxy and disables proxying. An install failure keeps the previous install,
// disables proxying and asks for private-browsing access where the platform
// gates it.
func (e *Engine) SetProxy(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, endpoint, err := e.generate(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyPolicy) {
			e.logger.Info(nil, "Blocklist is empty, nothing to enable")
		} else {
			e.logger.Error(map[string]any{"error": err}, "PAC could not be generated")
		}
		if rerr := e.removeLocked(ctx); rerr != nil {
			e.logger.Error(map[string]any{"error": rerr}, "Removing proxy failed")
		}
		if derr := e.DisableProxy(ctx); derr != nil {
			e.logger.Error(map[string]any{"error": derr}, "Disabling proxy failed")
		}
		return false
	}

	if err := e.install(ctx, payload, endpoint); err != nil {
		e.logger.Error(map[string]any{"error": err, "mode": e.installer.Mode().String()}, "PAC could not be set")
		if derr := e.DisableProxy(ctx); derr != nil {
			e.logger.Error(map[string]any{"error": derr}, "Disabling proxy failed")
		}
		e.requestPrivateBrowsing(ctx)
		return false
	}

	if err := e.EnableProxy(ctx); err != nil {
		e.logger.Error(map[string]any{"error": err}, "Enabling proxy failed")
	}
	e.grantPrivateBrowsing(ctx)
	e.logger.Info(map[string]any{"endpoint": endpoint, "mode": e.installer.Mode().String()}, "PAC has been set successfully")
	return true
}

func (e *Engine) install(ctx context.Context, payload, endpoint string) error {
	cfg, err := e.installer.Build(ctx, payload, endpoint)
	if err != nil {
		return fmt.Errorf("build proxy config: %w", err)
	}
	if err := e.settings.Set(ctx, cfg); err != nil {
		if rerr := e.installer.Rollback(ctx); rerr != nil {
			e.logger.Warn(map[string]any{"error": rerr}, "Rolling back proxy config failed")
		}
		return fmt.Errorf("install proxy config: %w", err)
	}
	if err := e.installer.Commit(ctx); err != nil {
		return fmt.Errorf("commit proxy config: %w", err)
	}
	return nil
}

// RemoveProxy clears the platform proxy settings. Calling it repeatedly is safe.
func (e *Engine) RemoveProxy(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(ctx)
}

func (e *Engine) removeLocked(ctx context.Context) error {
	err := e.settings.Clear(ctx)
	if rerr := e.installer.Release(ctx); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return fmt.Errorf("clear proxy settings: %w", err)
	}
	e.logger.Info(nil, "Proxy settings removed")
	return nil
}

// GenerateProxyAutoConfigData renders the PAC for the current blocklist and
// resolved endpoint. ok is false when the blocklist is empty or the payload
// cannot be built.
func (e *Engine) GenerateProxyAutoConfigData(ctx context.Context) (string, bool) {
	payload, _, err := e.generate(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrEmptyPolicy) {
			e.logger.Warn(map[string]any{"error": err}, "PAC generation failed")
		}
		return "", false
	}
	return payload, true
}

func (e *Engine) generate(ctx context.Context) (payload, endpoint string, err error) {
	domains := e.registry.GetDomains(ctx)
	if len(domains) == 0 {
		return "", "", domain.ErrEmptyPolicy
	}

	endpoint = e.ProxyServerURI(ctx)
	if err := e.state.Set(ctx, domain.KeyProxyServerURI, endpoint); err != nil {
		e.logger.Warn(map[string]any{"error": err}, "Persisting proxy endpoint failed")
	}

	payload, err = pacscript.Render(domains, endpoint)
	if err != nil {
		return "", "", err
	}
	return payload, endpoint, nil
}

// ProxyServerURI resolves the endpoint: a stored custom endpoint wins over the
// configured default, which wins over the last resolved value.
func (e *Engine) ProxyServerURI(ctx context.Context) string {
	custom, err := state.GetString(ctx, e.state, domain.KeyCustomProxyServerURI, "")
	if err != nil {
		e.logger.Warn(map[string]any{"error": err}, "Reading custom proxy endpoint failed")
	}
	if custom = strings.TrimSpace(custom); custom != "" {
		e.logger.Debug(map[string]any{"endpoint": custom}, "Using custom proxy for PAC")
		return custom
	}
	if e.defaultProxy != "" {
		return e.defaultProxy
	}
	stored, err := state.GetString(ctx, e.state, domain.KeyProxyServerURI, "")
	if err != nil {
		e.logger.Warn(map[string]any{"error": err}, "Reading proxy endpoint failed")
	}
	return strings.TrimSpace(stored)
}

// SetCustomProxyServerURI stores an override endpoint; empty clears it.
func (e *Engine) SetCustomProxyServerURI(ctx context.Context, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return e.state.Delete(ctx, domain.KeyCustomProxyServerURI)
	}
	return e.state.Set(ctx, domain.KeyCustomProxyServerURI, uri)
}

// Alive returns the cached liveness flag, true when never set.
func (e *Engine) Alive(ctx context.Context) bool {
	return e.getBool(ctx, domain.KeyProxyIsAlive, true)
}

// IsEnabled returns the useProxy toggle, true when never set.
func (e *Engine) IsEnabled(ctx context.Context) bool {
	return e.getBool(ctx, domain.KeyUseProxy, true)
}

// EnableProxy turns proxying on and optimistically marks the proxy alive.
func (e *Engine) EnableProxy(ctx context.Context) error {
	if err := e.state.Set(ctx, domain.KeyUseProxy, true); err != nil {
		return fmt.Errorf("enable proxy: %w", err)
	}
	if err := e.state.Set(ctx, domain.KeyProxyIsAlive, true); err != nil {
		return fmt.Errorf("mark proxy alive: %w", err)
	}
	e.logger.Info(nil, "Proxying enabled")
	return nil
}

// DisableProxy turns proxying off. Installed settings are left alone.
func (e *Engine) DisableProxy(ctx context.Context) error {
	if err := e.state.Set(ctx, domain.KeyUseProxy, false); err != nil {
		return fmt.Errorf("disable proxy: %w", err)
	}
	e.logger.Warn(nil, "Proxying disabled")
	return nil
}

// ExtensionEnabled returns the master toggle, true when never set.
func (e *Engine) ExtensionEnabled(ctx context.Context) bool {
	return e.getBool(ctx, domain.KeyEnableExtension, true)
}

// SetExtensionEnabled stores the master toggle. Callers follow up with
// SetProxy or RemoveProxy.
func (e *Engine) SetExtensionEnabled(ctx context.Context, enabled bool) error {
	return e.state.Set(ctx, domain.KeyEnableExtension, enabled)
}

// PrivateBrowsingPermissionsRequired reports the stored capability warning.
func (e *Engine) PrivateBrowsingPermissionsRequired(ctx context.Context) bool {
	return e.getBool(ctx, domain.KeyPrivateBrowsingPermissionsRequired, false)
}

func (e *Engine) requestPrivateBrowsing(ctx context.Context) {
	if !e.installer.GatesPrivateBrowsing() {
		return
	}
	allowed, err := e.installer.PrivateBrowsingAllowed(ctx)
	if err != nil {
		e.logger.Warn(map[string]any{"error": err}, "Private browsing access unknown")
	}
	if allowed {
		return
	}
	if err := e.state.Set(ctx, domain.KeyPrivateBrowsingPermissionsRequired, true); err != nil {
		e.logger.Error(map[string]any{"error": err}, "Persisting private browsing request failed")
		return
	}
	e.logger.Info(nil, "Private browsing permissions requested")
}

func (e *Engine) grantPrivateBrowsing(ctx context.Context) {
	if !e.installer.GatesPrivateBrowsing() {
		return
	}
	if err := e.state.Set(ctx, domain.KeyPrivateBrowsingPermissionsRequired, false); err != nil {
		e.logger.Error(map[string]any{"error": err}, "Clearing private browsing request failed")
	}
}

// ControlledByOtherExtensions queries the platform; the answer is never cached.
func (e *Engine) ControlledByOtherExtensions(ctx context.Context) bool {
	return e.controller(ctx) == domain.ControllerOtherExtension
}

// ControlledByThisExtension queries the platform; the answer is never cached.
func (e *Engine) ControlledByThisExtension(ctx context.Context) bool {
	return e.controller(ctx) == domain.ControllerSelf
}

func (e *Engine) controller(ctx context.Context) domain.Controller {
	lvl, err := e.settings.LevelOfControl(ctx)
	if err != nil {
		e.logger.Warn(map[string]any{"error": err}, "Reading level of control failed")
		return domain.ControllerNone
	}
	return lvl.Controller()
}

// TakeControl disables every other enabled extension that holds the proxy
// permission. A failure on one extension is logged and the rest are still
// processed; only failing to list extensions is returned.
func (e *Engine) TakeControl(ctx context.Context) error {
	self, err := e.extensions.Self(ctx)
	if err != nil {
		return fmt.Errorf("get self: %w", err)
	}
	all, err := e.extensions.All(ctx)
	if err != nil {
		return fmt.Errorf("list extensions: %w", err)
	}

	for _, ext := range all {
		if ext.ID == self.ID || ext.Name == self.Name {
			continue
		}
		if !ext.Enabled || !ext.HasPermission(domain.PermissionProxy) {
			continue
		}
		e.logger.Warn(map[string]any{"id": ext.ID, "name": ext.Name}, "Disabling competing extension")
		if err := e.extensions.SetEnabled(ctx, ext.ID, false); err != nil {
			e.logger.Error(map[string]any{"id": ext.ID, "error": err}, "Disabling extension failed")
		}
	}
	return nil
}

// GetBadProxies returns the accumulated bad proxies, empty when unset.
func (e *Engine) GetBadProxies(ctx context.Context) []string {
	list, err := state.GetStrings(ctx, e.state, domain.KeyBadProxies)
	if err != nil {
		e.logger.Warn(map[string]any{"error": err}, "Reading bad proxies failed")
		return []string{}
	}
	return list
}

// AddBadProxy appends uri unless it is already recorded.
func (e *Engine) AddBadProxy(ctx context.Context, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}
	list, err := state.GetStrings(ctx, e.state, domain.KeyBadProxies)
	if err != nil {
		return fmt.Errorf("read bad proxies: %w", err)
	}
	if slices.Contains(list, uri) {
		return nil
	}
	return e.state.Set(ctx, domain.KeyBadProxies, append(list, uri))
}

// RemoveBadProxies clears the bad proxy list.
func (e *Engine) RemoveBadProxies(ctx context.Context) error {
	return e.state.Set(ctx, domain.KeyBadProxies, []string{})
}

// State is a composite snapshot of the toggles plus the live control level.
func (e *Engine) State(ctx context.Context) domain.ProxyState {
	return domain.ProxyState{
		Enabled: e.IsEnabled(ctx),
		Alive:   e.Alive(ctx),
		Control: e.controller(ctx),
	}
}

func (e *Engine) getBool(ctx context.Context, key string, def bool) bool {
	v, err := state.GetBool(ctx, e.state, key, def)
	if err != nil {
		e.logger.Warn(map[string]any{"key": key, "error": err}, "Reading state failed")
		return def
	}
	return v
}
