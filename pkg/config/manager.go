package config

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Section is one named group of settings persisted under its ID.
type Section interface {
	// ID returns the key the section is stored under
	ID() string

	// Title returns a human readable name
	Title() string

	// Description explains what the section configures
	Description() string

	// Data returns the current settings as a plain map
	Data() map[string]interface{}

	// SetData replaces settings from a plain map
	SetData(data map[string]interface{}) error

	// Validate reports whether the current settings are usable
	Validate() error

	// Reset restores defaults
	Reset()
}

// Manager owns the registered sections and moves them to and from a Store.
type Manager struct {
	mu       sync.RWMutex
	store    Store
	sections map[string]Section
	order    []string
}

// NewManager creates a manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		sections: make(map[string]Section),
	}
}

// RegisterSection adds a section. IDs must be unique.
func (m *Manager) RegisterSection(section Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sections[section.ID()]; exists {
		return errors.Newf("section %q already registered", section.ID())
	}

	m.sections[section.ID()] = section
	m.order = append(m.order, section.ID())
	return nil
}

// GetSection looks up a section by ID.
func (m *Manager) GetSection(id string) (Section, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	section, ok := m.sections[id]
	return section, ok
}

// GetSections returns all sections in registration order.
func (m *Manager) GetSections() []Section {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sections := make([]Section, 0, len(m.order))
	for _, id := range m.order {
		sections = append(sections, m.sections[id])
	}
	return sections
}

// LoadAll reloads the store and pushes stored data into every section.
func (m *Manager) LoadAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Load(); err != nil {
		return errors.Wrap(err, "failed to load config store")
	}

	for _, id := range m.order {
		data, err := m.store.GetSection(id)
		if err != nil {
			return errors.Wrapf(err, "failed to read section %q", id)
		}
		if len(data) == 0 {
			continue
		}
		if err := m.sections[id].SetData(data); err != nil {
			return errors.Wrapf(err, "failed to apply section %q", id)
		}
	}
	return nil
}

// SaveAll validates every section and writes them to the store.
func (m *Manager) SaveAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		section := m.sections[id]
		if err := section.Validate(); err != nil {
			return errors.Wrapf(err, "invalid section %q", id)
		}
		if err := m.store.SetSection(id, section.Data()); err != nil {
			return errors.Wrapf(err, "failed to store section %q", id)
		}
	}

	if err := m.store.Save(); err != nil {
		return errors.Wrap(err, "failed to save config store")
	}
	return nil
}

// ResetAll restores defaults on every section.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		m.sections[id].Reset()
	}
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}
