package domain

import (
	"fmt"
	"strings"
)

// ProxyMode selects how a PAC payload is handed to the platform.
//
// autoConfig - the payload is published under a URL the platform fetches
// pacScript  - the payload is passed inline to the platform
type ProxyMode uint8

const (
	ProxyModeAutoConfig ProxyMode = iota
	ProxyModePACScript
)

// String returns a stable string representation of the mode.
func (m ProxyMode) String() string {
	switch m {
	case ProxyModeAutoConfig:
		return "autoConfig"
	case ProxyModePACScript:
		return "pac_script"
	default:
		return fmt.Sprintf("ProxyMode(%d)", m)
	}
}

// ProxyConfig is what gets installed into the platform proxy subsystem.
//
// Notes:
// - EndpointURI is the resolved endpoint (custom wins over default).
// - PACPayload is the full FindProxyForURL text.
// - AutoConfigURL is only set for ProxyModeAutoConfig, once the payload has been published.
type ProxyConfig struct {
	Mode          ProxyMode
	EndpointURI   string
	PACPayload    string
	AutoConfigURL string
	// Mandatory mirrors the platform flag that forbids falling back to direct
	// connections when the PAC cannot be evaluated. Always false here.
	Mandatory bool
}

// Validate checks the config is installable. An enabled proxy must never be
// installed without a payload.
func (c ProxyConfig) Validate() error {
	if strings.TrimSpace(c.PACPayload) == "" {
		return fmt.Errorf("%w: empty PAC payload", ErrEmptyPolicy)
	}
	if strings.TrimSpace(c.EndpointURI) == "" {
		return fmt.Errorf("%w: empty endpoint", ErrConfiguration)
	}
	switch c.Mode {
	case ProxyModeAutoConfig:
		if c.AutoConfigURL == "" {
			return fmt.Errorf("%w: autoConfig mode requires a URL", ErrConfiguration)
		}
	case ProxyModePACScript:
	default:
		return fmt.Errorf("%w: unsupported mode %d", ErrConfiguration, c.Mode)
	}
	return nil
}

// LevelOfControl is the platform's report of who owns the proxy setting.
type LevelOfControl uint8

const (
	NotControllable LevelOfControl = iota
	ControlledByOtherExtensions
	ControllableByThisExtension
	ControlledByThisExtension
)

var levelNames = map[LevelOfControl]string{
	NotControllable:             "not_controllable",
	ControlledByOtherExtensions: "controlled_by_other_extensions",
	ControllableByThisExtension: "controllable_by_this_extension",
	ControlledByThisExtension:   "controlled_by_this_extension",
}

func (l LevelOfControl) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("LevelOfControl(%d)", l)
}

// ParseLevelOfControl converts the platform string form into a LevelOfControl.
func ParseLevelOfControl(s string) (LevelOfControl, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return NotControllable, fmt.Errorf("unsupported level of control: %q", s)
}

// Controller classifies who currently controls the proxy.
type Controller uint8

const (
	ControllerNone Controller = iota
	ControllerSelf
	ControllerOtherExtension
)

func (c Controller) String() string {
	switch c {
	case ControllerSelf:
		return "self"
	case ControllerOtherExtension:
		return "otherExtension"
	default:
		return "none"
	}
}

// Controller maps the platform level onto the three-way classification.
func (l LevelOfControl) Controller() Controller {
	switch l {
	case ControlledByThisExtension:
		return ControllerSelf
	case ControlledByOtherExtensions:
		return ControllerOtherExtension
	default:
		return ControllerNone
	}
}

// ProxyState is a point-in-time view of the engine. Control is read live from
// the platform and never cached.
type ProxyState struct {
	Enabled bool
	Alive   bool
	Control Controller
}

// Phase names the state machine node: disabled, enabled_alive or enabled_dead.
func (s ProxyState) Phase() string {
	switch {
	case !s.Enabled:
		return "disabled"
	case s.Alive:
		return "enabled_alive"
	default:
		return "enabled_dead"
	}
}

// PermissionProxy is the capability an extension needs to touch proxy settings.
const PermissionProxy = "proxy"

// Extension describes an installed agent that may compete for proxy control.
type Extension struct {
	ID          string
	Name        string
	Enabled     bool
	Permissions []string
}

// HasPermission reports whether the extension declares perm.
func (e Extension) HasPermission(perm string) bool {
	for _, p := range e.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
