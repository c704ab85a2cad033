package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fusionserver/relay/internal/v1/protocol"
)

// wsMessage is one message written to a mock connection.
type wsMessage struct {
	messageType int
	data        []byte
}

// mockConn implements wsConnection. Reads block on readCh until the
// connection is closed; writes are recorded and mirrored onto writeCh so
// tests can wait for them.
type mockConn struct {
	mu      sync.Mutex
	written []wsMessage

	readCh  chan wsMessage
	writeCh chan wsMessage

	closed    chan struct{}
	closeOnce sync.Once

	// Optional hooks.
	WriteMessageFunc func(int, []byte) error
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:  make(chan wsMessage, 16),
		writeCh: make(chan wsMessage, 64),
		closed:  make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.readCh:
		return msg.messageType, msg.data, nil
	case <-m.closed:
		return 0, nil, net.ErrClosed
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		if err := m.WriteMessageFunc(messageType, data); err != nil {
			return err
		}
	}
	msg := wsMessage{messageType: messageType, data: data}
	m.mu.Lock()
	m.written = append(m.written, msg)
	m.mu.Unlock()
	select {
	case m.writeCh <- msg:
	default:
	}
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (m *mockConn) SetReadLimit(_ int64) {}

// feed queues an inbound text message for ReadMessage.
func (m *mockConn) feed(data string) {
	m.readCh <- wsMessage{messageType: 1, data: []byte(data)}
}

func (m *mockConn) writtenMessages() []wsMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wsMessage, len(m.written))
	copy(out, m.written)
	return out
}

// nextWrite waits for the next message the pump writes.
func (m *mockConn) nextWrite(t *testing.T) wsMessage {
	t.Helper()
	select {
	case msg := <-m.writeCh:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return wsMessage{}
	}
}

// mockBusService implements types.BusService.
type mockBusService struct {
	mu           sync.Mutex
	published    int
	unsubscribed int
}

func (b *mockBusService) PublishState(_ string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published++
	return nil
}

func (b *mockBusService) SubscribeState(_ string, _ func([]byte)) func() {
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.unsubscribed++
	}
}

func (b *mockBusService) Ping() error  { return nil }
func (b *mockBusService) Close() error { return nil }

// recordingHandler captures the types of dispatched frames.
type recordingHandler struct {
	mu     sync.Mutex
	frames []string
}

func (h *recordingHandler) Phase() string { return "test" }

func (h *recordingHandler) HandleFrame(_ context.Context, _ *Session, frame protocol.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame.FrameType())
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.frames))
	copy(out, h.frames)
	return out
}

// queued reports the session's pending outbound frames. Test-only.
func (s *Session) queued() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.queue))
	copy(out, s.queue)
	return out
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
