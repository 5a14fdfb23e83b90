package platform

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/haukened/rr-pac/internal/pac/domain"
)

// LocalExtensions is an in-process extension manager.
type LocalExtensions struct {
	mu     sync.Mutex
	selfID string
	exts   map[string]domain.Extension
}

// NewLocalExtensions registers self plus any peers.
func NewLocalExtensions(self domain.Extension, peers ...domain.Extension) *LocalExtensions {
	m := &LocalExtensions{selfID: self.ID, exts: make(map[string]domain.Extension, len(peers)+1)}
	m.exts[self.ID] = cloneExtension(self)
	for _, p := range peers {
		m.exts[p.ID] = cloneExtension(p)
	}
	return m
}

// Register adds or replaces an extension.
func (m *LocalExtensions) Register(ext domain.Extension) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exts[ext.ID] = cloneExtension(ext)
}

func (m *LocalExtensions) Self(ctx context.Context) (domain.Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneExtension(m.exts[m.selfID]), nil
}

// All returns every installed extension ordered by ID.
func (m *LocalExtensions) All(ctx context.Context) ([]domain.Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Extension, 0, len(m.exts))
	for _, e := range m.exts {
		out = append(out, cloneExtension(e))
	}
	slices.SortFunc(out, func(a, b domain.Extension) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *LocalExtensions) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExtension, id)
	}
	e.Enabled = enabled
	m.exts[id] = e
	return nil
}

func cloneExtension(e domain.Extension) domain.Extension {
	e.Permissions = slices.Clone(e.Permissions)
	return e
}
