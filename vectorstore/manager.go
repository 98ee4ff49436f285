package vectorstore

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// Opener opens a backend rooted at dir.
type Opener func(dir string, logger *slog.Logger) (Store, error)

// Manager opens backends by kind under {root}/{kind} and caches them.
// It is safe for concurrent use.
type Manager struct {
	root    string
	openers map[Kind]Opener
	stores  map[Kind]Store
	closed  bool
	mu      sync.Mutex
	logger  *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOpener registers the opener for kind.
func WithOpener(kind Kind, opener Opener) ManagerOption {
	return func(m *Manager) {
		m.openers[kind] = opener
	}
}

// WithManagerLogger sets a custom logger.
// Default is slog.Default().
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager rooted at root.
func NewManager(root string, opts ...ManagerOption) *Manager {
	m := &Manager{
		root:    root,
		openers: make(map[Kind]Opener),
		stores:  make(map[Kind]Store),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "vectorstore")
	return m
}

// Root returns the root directory.
func (m *Manager) Root() string {
	return m.root
}

// Dir returns the directory of a backend kind.
func (m *Manager) Dir(kind Kind) string {
	return filepath.Join(m.root, string(kind))
}

// Open returns the store for kind, opening it on first use.
func (m *Manager) Open(kind Kind) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.stores[kind]; ok {
		return s, nil
	}
	opener, ok := m.openers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	s, err := opener(m.Dir(kind), m.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", kind, err)
	}
	m.stores[kind] = s
	m.logger.Debug("opened store", "kind", kind, "dir", m.Dir(kind))
	return s, nil
}

// Kinds returns the registered kinds.
func (m *Manager) Kinds() []Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Kind, 0, len(m.openers))
	for _, k := range Kinds {
		if _, ok := m.openers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Close closes every opened store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for kind, s := range m.stores {
		if err := s.Close(); err != nil {
			m.logger.Error("failed to close store", "kind", kind, "err", err)
			errs = append(errs, err)
		}
	}
	m.stores = nil
	return errors.Join(errs...)
}
