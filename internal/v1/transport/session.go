package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/metrics"
	"github.com/fusionserver/relay/internal/v1/protocol"
	"github.com/fusionserver/relay/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
}

// maxFrameSize caps one inbound frame. Oversized frames surface as a read
// error and the connection closes without a reply.
const maxFrameSize = 8192

// Session is one WebSocket connection to one client. All writes flow
// through a single write pump, so frames are delivered in enqueue order and
// at most one write is ever in flight. The gorilla upgrader completes the
// handshake before a Session exists, so every enqueued frame is written
// after handshake completion by construction.
type Session struct {
	conn       wsConnection
	hub        *Hub
	id         types.SessionIDType
	remoteAddr string // captured at construction; valid after close

	mu      sync.Mutex
	queue   [][]byte // FIFO; the head is the frame being sent
	closing bool     // closing procedure has started
	wake    chan struct{}

	done     chan struct{}
	doneOnce sync.Once

	handlerMu sync.RWMutex
	handler   Handler
}

func newSession(conn wsConnection, hub *Hub, id types.SessionIDType, remoteAddr string) *Session {
	return &Session{
		conn:       conn,
		hub:        hub,
		id:         id,
		remoteAddr: remoteAddr,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// SessionID satisfies types.SessionInterface.
func (s *Session) SessionID() types.SessionIDType {
	return s.id
}

// RemoteEndpoint returns the peer label captured at accept time.
func (s *Session) RemoteEndpoint() string {
	return s.remoteAddr
}

// SetHandler repoints the per-session frame handler. The read pump
// dispatches through this reference, so a session that has moved to a room
// never sees the unjoined handler again for later frames.
func (s *Session) SetHandler(h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

func (s *Session) currentHandler() Handler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.handler
}

// Phase returns the session's position in its lifecycle state machine.
func (s *Session) Phase() string {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		select {
		case <-s.done:
			return "closed"
		default:
			return "closing"
		}
	}
	if h := s.currentHandler(); h != nil {
		return h.Phase()
	}
	return "unjoined"
}

// Write enqueues one frame for delivery. Frames written after the closing
// procedure began are dropped. No I/O happens under the queue lock.
func (s *Session) Write(frame []byte) {
	if len(frame) == 0 {
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		logging.Debug(context.Background(), "Dropping frame written to closing session",
			zap.String("session", string(s.id)))
		return
	}
	s.queue = append(s.queue, frame)
	s.mu.Unlock()

	s.signal()
}

// Close starts the graceful closing procedure: the queue is truncated to
// the frame currently being sent, and the close frame goes out after the
// tail flush.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	if len(s.queue) > 1 {
		s.queue = s.queue[:1]
	}
	s.mu.Unlock()

	s.signal()
}

// CloseWithFrame enqueues the definitive last frame, then proceeds as
// Close. If the closing procedure already began the frame is dropped; the
// first close wins.
func (s *Session) CloseWithFrame(frame []byte) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	if len(s.queue) > 1 {
		s.queue = s.queue[:1]
	}
	if len(frame) > 0 {
		s.queue = append(s.queue, frame)
	}
	s.mu.Unlock()

	s.signal()
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// terminate unblocks the write pump and closes the transport. Safe to call
// more than once.
func (s *Session) terminate() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump drains the outbound queue one frame at a time. It is the only
// goroutine that touches the connection's write side.
func (s *Session) writePump() {
	defer func() { _ = s.conn.Close() }()
	writeWait := 10 * time.Second

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.closing {
				s.mu.Unlock()
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			s.mu.Unlock()

			select {
			case <-s.wake:
				continue
			case <-s.done:
				// Drain whatever Close left queued, then send the close frame.
				continue
			}
		}
		frame := s.queue[0]
		s.mu.Unlock()

		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			logWriteError(s, err)
			return
		}

		s.mu.Lock()
		s.queue = s.queue[1:]
		s.mu.Unlock()
	}
}

// readPump processes inbound frames until the connection dies or the
// closing procedure completes. The registry observes the unregister exactly
// once, from here.
func (s *Session) readPump() {
	defer func() {
		s.hub.Unregister(s)
		s.terminate()
		metrics.DecConnection()
	}()

	s.conn.SetReadLimit(maxFrameSize)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			logReadError(s, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		start := time.Now()

		frame, errFrame := protocol.Verify(data)
		if errFrame != nil {
			metrics.FramesTotal.WithLabelValues("invalid", "rejected").Inc()
			logging.Debug(context.Background(), "Frame failed validation",
				zap.String("session", string(s.id)),
				zap.String("reason", errFrame.Message))
			s.CloseWithFrame(errFrame.Encode())
			continue
		}

		ctx := context.WithValue(context.Background(), logging.SessionIDKey, string(s.id))
		if handler := s.currentHandler(); handler != nil {
			handler.HandleFrame(ctx, s, frame)
		}

		metrics.FramesTotal.WithLabelValues(frame.FrameType(), "ok").Inc()
		metrics.FrameProcessingDuration.WithLabelValues(frame.FrameType()).Observe(time.Since(start).Seconds())
	}
}

func logReadError(s *Session, err error) {
	ctx := context.Background()
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logging.Debug(ctx, "Peer closed the connection",
			zap.String("session", string(s.id)), zap.String("remote", s.remoteAddr))
	case errors.Is(err, net.ErrClosed):
		logging.Debug(ctx, "Read aborted by local close",
			zap.String("session", string(s.id)))
	default:
		logging.Debug(ctx, "Read failed",
			zap.String("session", string(s.id)), zap.Error(err))
	}
}

func logWriteError(s *Session, err error) {
	ctx := context.Background()
	if errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logging.Debug(ctx, "Write aborted", zap.String("session", string(s.id)))
		return
	}
	logging.Error(ctx, "Error writing frame",
		zap.String("session", string(s.id)), zap.Error(err))
}
