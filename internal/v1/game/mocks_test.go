package game

import (
	"sync"

	"github.com/fusionserver/relay/internal/v1/types"
)

// mockSession implements types.SessionInterface and records every frame
// written to it.
type mockSession struct {
	id     types.SessionIDType
	remote string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newMockSession(id string) *mockSession {
	return &mockSession{id: types.SessionIDType(id), remote: "127.0.0.1:9"}
}

func (m *mockSession) SessionID() types.SessionIDType { return m.id }
func (m *mockSession) RemoteEndpoint() string         { return m.remote }

func (m *mockSession) Write(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.frames = append(m.frames, frame)
}

func (m *mockSession) CloseWithFrame(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.frames = append(m.frames, frame)
		m.closed = true
	}
}

func (m *mockSession) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockSession) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mockSession) lastFrame() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return nil
	}
	return m.frames[len(m.frames)-1]
}

// mockBus implements types.BusService.
type mockBus struct {
	mu             sync.Mutex
	published      [][]byte
	handlers       map[string]func([]byte)
	unsubscribed   int
	subscribeCalls int
}

func newMockBus() *mockBus {
	return &mockBus{handlers: make(map[string]func([]byte))}
}

func (b *mockBus) PublishState(roomName string, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, frame)
	return nil
}

func (b *mockBus) SubscribeState(roomName string, handler func(frame []byte)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeCalls++
	b.handlers[roomName] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.unsubscribed++
		delete(b.handlers, roomName)
	}
}

func (b *mockBus) Ping() error  { return nil }
func (b *mockBus) Close() error { return nil }

// deliver simulates a frame arriving from another instance.
func (b *mockBus) deliver(roomName string, frame []byte) {
	b.mu.Lock()
	handler := b.handlers[roomName]
	b.mu.Unlock()
	if handler != nil {
		handler(frame)
	}
}

func (b *mockBus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}
