package upstream

import (
	"context"
	"sync"
)

// MockAdapter returns scripted handles for testing.
type MockAdapter struct {
	OpenErr error

	mu      sync.Mutex
	handles []*MockHandle
	configs []Config
}

func (m *MockAdapter) Open(ctx context.Context, cfg Config) (Handle, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	h := NewMockHandle()
	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.configs = append(m.configs, cfg)
	m.mu.Unlock()
	return h, nil
}

// Handles returns every handle opened so far.
func (m *MockAdapter) Handles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockHandle, len(m.handles))
	copy(out, m.handles)
	return out
}

// Configs returns the configuration passed to each Open call.
func (m *MockAdapter) Configs() []Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Config, len(m.configs))
	copy(out, m.configs)
	return out
}

// MockHandle is a scriptable Handle. Tests drive it with Emit and SetState.
type MockHandle struct {
	mu          sync.Mutex
	state       ReadyState
	sent        [][]byte
	keepAlives  int
	finishCalls int

	events     chan Event
	eventsOnce sync.Once
}

func NewMockHandle() *MockHandle {
	return &MockHandle{
		state:  StateConnecting,
		events: make(chan Event, eventBuffer),
	}
}

func (m *MockHandle) Send(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk := make([]byte, len(data))
	copy(chunk, data)
	m.sent = append(m.sent, chunk)
	return nil
}

func (m *MockHandle) KeepAlive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateOpen {
		m.keepAlives++
	}
	return nil
}

func (m *MockHandle) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishCalls++
	if m.state != StateClosed {
		m.state = StateClosing
	}
	return nil
}

func (m *MockHandle) ReadyState() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockHandle) Events() <-chan Event {
	return m.events
}

// SetState forces the ready state.
func (m *MockHandle) SetState(s ReadyState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Emit delivers an event to the consumer. EventOpened also flips the handle
// to StateOpen, mirroring the live implementation.
func (m *MockHandle) Emit(ev Event) {
	if ev.Kind == EventOpened {
		m.SetState(StateOpen)
	}
	if ev.Kind == EventError || ev.Kind == EventClosed {
		m.SetState(StateClosed)
	}
	m.events <- ev
}

// CloseEvents ends the event stream.
func (m *MockHandle) CloseEvents() {
	m.eventsOnce.Do(func() { close(m.events) })
}

// Sent returns a copy of every audio payload forwarded so far.
func (m *MockHandle) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockHandle) KeepAlives() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keepAlives
}

func (m *MockHandle) FinishCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishCalls
}
