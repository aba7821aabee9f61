package device

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-securitas/securitas/internal/storage"
)

// Manager loads, generates and persists the device identity for one user.
// Persistence is best effort: if the identity file cannot be written the
// in-memory identity is still served, at the cost of a fresh device (and a
// possible OTP round) on the next run.
type Manager struct {
	user   string
	dir    string
	logger *log.Logger

	mu       sync.Mutex
	identity *Identity
}

// Option configures a Manager.
type Option func(*Manager)

// WithDir overrides the identity file directory.
func WithDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.dir = dir
		}
	}
}

// WithLogger sets the logger. Defaults to the standard logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager for user.
func NewManager(user string, opts ...Option) *Manager {
	m := &Manager{
		user:   user,
		dir:    storage.DefaultDir(),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the identity file location.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, "securitas_device_"+m.user+".json")
}

// Ensure returns the device identity, loading it from disk first and
// generating and persisting a fresh one when nothing usable is stored.
func (m *Manager) Ensure() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.identity != nil {
		return m.identity
	}

	if id, err := m.load(); err == nil {
		m.identity = id
		return id
	} else if !errors.Is(err, os.ErrNotExist) {
		m.logger.Printf("device: discarding stored identity: %v", err)
	}

	id := Generate(m.user)
	m.identity = id
	if err := storage.WriteJSON(m.Path(), id); err != nil {
		m.logger.Printf("device: identity not persisted: %v", err)
	}
	return id
}

func (m *Manager) load() (*Identity, error) {
	var id Identity
	if err := storage.ReadJSON(m.Path(), &id); err != nil {
		return nil, err
	}
	if !id.valid() {
		return nil, errors.New("stored identity failed validation")
	}
	return &id, nil
}

// Info returns a diagnostic view of the identity.
func (m *Manager) Info() map[string]any {
	id := m.Ensure()
	return map[string]any{
		"uuid":           id.UUID,
		"device_name":    id.Name,
		"device_brand":   id.Brand,
		"device_os":      id.OSVersion,
		"device_version": id.Version,
		"generated_time": id.GeneratedAt,
	}
}
