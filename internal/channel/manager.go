package channel

import (
	"context"
	"sync"
)

// Manager is the registry of configured channels.
type Manager struct {
	mu       sync.RWMutex
	channels map[Type]Channel
}

func NewManager() *Manager {
	return &Manager{channels: make(map[Type]Channel)}
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Type()] = ch
}

func (m *Manager) Get(t Type) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[t]
	return ch, ok
}

func (m *Manager) Statuses(ctx context.Context) []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.channels)+1)
	// The simulator is always available even without a registered transport.
	statuses = append(statuses, Status{Channel: TypeSimulator, Connected: true})
	for t, ch := range m.channels {
		if t == TypeSimulator {
			continue
		}
		statuses = append(statuses, ch.Status(ctx))
	}
	return statuses
}
