package platform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/domain"
)

// LocalSettings is an in-process proxy settings subsystem. It tracks who
// controls the setting and, for inline scripts, mirrors the installed payload
// to a file so other local consumers can pick it up.
type LocalSettings struct {
	mu         sync.Mutex
	level      domain.LevelOfControl
	current    *domain.ProxyConfig
	inlinePath string
	logger     log.Logger
}

// NewLocalSettings returns settings controllable by this agent. inlinePath
// may be empty to skip mirroring.
func NewLocalSettings(inlinePath string, logger log.Logger) *LocalSettings {
	return &LocalSettings{
		level:      domain.ControllableByThisExtension,
		inlinePath: inlinePath,
		logger:     log.With(logger, map[string]any{"component": "platform"}),
	}
}

// Set installs cfg. It fails when another agent owns the setting or the
// config is not installable.
func (s *LocalSettings) Set(ctx context.Context, cfg domain.ProxyConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.level {
	case domain.NotControllable, domain.ControlledByOtherExtensions:
		return fmt.Errorf("%w: proxy settings are %s", domain.ErrConfiguration, s.level)
	}

	if cfg.Mode == domain.ProxyModePACScript && s.inlinePath != "" {
		if err := writeFileAtomic(s.inlinePath, []byte(cfg.PACPayload)); err != nil {
			return fmt.Errorf("%w: write inline script: %v", domain.ErrConfiguration, err)
		}
	}

	c := cfg
	s.current = &c
	s.level = domain.ControlledByThisExtension
	s.logger.Debug(map[string]any{"mode": cfg.Mode.String(), "endpoint": cfg.EndpointURI}, "Proxy settings installed")
	return nil
}

// Clear drops this agent's setting. Settings owned by others are untouched.
func (s *LocalSettings) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	if s.level == domain.ControlledByThisExtension {
		s.level = domain.ControllableByThisExtension
	}
	if s.inlinePath != "" {
		if err := os.Remove(s.inlinePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove inline script: %w", err)
		}
	}
	return nil
}

func (s *LocalSettings) LevelOfControl(ctx context.Context) (domain.LevelOfControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level, nil
}

// SetLevel overrides the level of control, e.g. when another agent grabs the setting.
func (s *LocalSettings) SetLevel(l domain.LevelOfControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = l
	if l != domain.ControlledByThisExtension {
		s.current = nil
	}
}

// Current returns the installed config, if any.
func (s *LocalSettings) Current() (domain.ProxyConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.ProxyConfig{}, false
	}
	return *s.current, true
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pac-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
