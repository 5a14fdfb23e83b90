package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyMode_String(t *testing.T) {
	assert.Equal(t, "autoConfig", ProxyModeAutoConfig.String())
	assert.Equal(t, "pac_script", ProxyModePACScript.String())
	assert.Equal(t, "ProxyMode(9)", ProxyMode(9).String())
}

func TestProxyConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProxyConfig
		wantErr error
	}{
		{
			name: "inline ok",
			cfg:  ProxyConfig{Mode: ProxyModePACScript, EndpointURI: "proxy.example:443", PACPayload: "function FindProxyForURL(url, host) {}"},
		},
		{
			name: "autoconfig ok",
			cfg:  ProxyConfig{Mode: ProxyModeAutoConfig, EndpointURI: "proxy.example:443", PACPayload: "x", AutoConfigURL: "http://127.0.0.1/proxy.pac"},
		},
		{
			name:    "empty payload",
			cfg:     ProxyConfig{Mode: ProxyModePACScript, EndpointURI: "proxy.example:443", PACPayload: "  "},
			wantErr: ErrEmptyPolicy,
		},
		{
			name:    "empty endpoint",
			cfg:     ProxyConfig{Mode: ProxyModePACScript, PACPayload: "x"},
			wantErr: ErrConfiguration,
		},
		{
			name:    "autoconfig without url",
			cfg:     ProxyConfig{Mode: ProxyModeAutoConfig, EndpointURI: "proxy.example:443", PACPayload: "x"},
			wantErr: ErrConfiguration,
		},
		{
			name:    "unknown mode",
			cfg:     ProxyConfig{Mode: ProxyMode(7), EndpointURI: "proxy.example:443", PACPayload: "x"},
			wantErr: ErrConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestLevelOfControl_RoundTripAndController(t *testing.T) {
	tests := []struct {
		raw  string
		want LevelOfControl
		ctl  Controller
	}{
		{"not_controllable", NotControllable, ControllerNone},
		{"controlled_by_other_extensions", ControlledByOtherExtensions, ControllerOtherExtension},
		{"controllable_by_this_extension", ControllableByThisExtension, ControllerNone},
		{" Controlled_By_This_Extension ", ControlledByThisExtension, ControllerSelf},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLevelOfControl(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ctl, got.Controller())
		})
	}

	_, err := ParseLevelOfControl("owned")
	assert.Error(t, err)
	assert.Equal(t, "LevelOfControl(42)", LevelOfControl(42).String())
}

func TestController_String(t *testing.T) {
	assert.Equal(t, "self", ControllerSelf.String())
	assert.Equal(t, "otherExtension", ControllerOtherExtension.String())
	assert.Equal(t, "none", ControllerNone.String())
}

func TestProxyState_Phase(t *testing.T) {
	assert.Equal(t, "disabled", ProxyState{Enabled: false, Alive: true}.Phase())
	assert.Equal(t, "enabled_alive", ProxyState{Enabled: true, Alive: true}.Phase())
	assert.Equal(t, "enabled_dead", ProxyState{Enabled: true, Alive: false}.Phase())
}

func TestExtension_HasPermission(t *testing.T) {
	ext := Extension{ID: "a", Name: "A", Permissions: []string{"tabs", PermissionProxy}}
	assert.True(t, ext.HasPermission(PermissionProxy))
	assert.False(t, ext.HasPermission("management"))
	assert.False(t, Extension{}.HasPermission(PermissionProxy))
}
