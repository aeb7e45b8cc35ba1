package offline

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Monitor tracks connectivity and fires reconnect listeners on every
// offline -> online transition. It only triggers work: listeners run on
// their own goroutines and SetOnline never waits for them.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func()
	log       logrus.FieldLogger
	inflight  sync.WaitGroup
}

// NewMonitor returns a monitor starting in the given state.
func NewMonitor(online bool, log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = defaultLogger()
	}
	return &Monitor{
		online:    online,
		listeners: make(map[int]func()),
		log:       log,
	}
}

// IsOnline returns current network state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a platform connectivity event.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var fire []func()
	if online {
		fire = make([]func(), 0, len(m.listeners))
		for _, fn := range m.listeners {
			fire = append(fire, fn)
		}
	}
	m.mu.Unlock()

	m.log.WithField("online", online).Info("connectivity changed")
	for _, fn := range fire {
		m.inflight.Add(1)
		go func(fn func()) {
			defer m.inflight.Done()
			fn()
		}(fn)
	}
}

// OnReconnect registers fn for offline -> online transitions and returns a
// function that unregisters it.
func (m *Monitor) OnReconnect(fn func()) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Run feeds events into the monitor until ctx is done or events is closed.
func (m *Monitor) Run(ctx context.Context, events <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-events:
			if !ok {
				return nil
			}
			m.SetOnline(online)
		}
	}
}

// Wait blocks until listeners fired so far have returned.
func (m *Monitor) Wait() {
	m.inflight.Wait()
}
