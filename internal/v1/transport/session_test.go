package transport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(conn *mockConn) *Session {
	hub := NewHub(nil, nil, nil)
	session := newSession(conn, hub, "test-session", "127.0.0.1:1234")
	hub.Register(session)
	return session
}

func TestSessionWriteDeliversInOrder(t *testing.T) {
	conn := newMockConn()
	session := newTestSession(conn)

	go session.writePump()
	defer session.terminate()

	session.Write([]byte("one"))
	session.Write([]byte("two"))
	session.Write([]byte("three"))

	for _, want := range []string{"one", "two", "three"} {
		msg := conn.nextWrite(t)
		assert.Equal(t, websocket.TextMessage, msg.messageType)
		assert.Equal(t, want, string(msg.data))
	}
}

func TestSessionCloseTruncatesQueue(t *testing.T) {
	session := newTestSession(newMockConn())

	session.Write([]byte("in-flight"))
	session.Write([]byte("stale-1"))
	session.Write([]byte("stale-2"))
	session.Close()

	queued := session.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, "in-flight", string(queued[0]))
	assert.True(t, session.isClosing())
}

func TestSessionCloseWithFrameAppendsFinalFrame(t *testing.T) {
	session := newTestSession(newMockConn())

	session.Write([]byte("in-flight"))
	session.Write([]byte("stale"))
	session.CloseWithFrame([]byte("final"))

	queued := session.queued()
	require.Len(t, queued, 2)
	assert.Equal(t, "in-flight", string(queued[0]))
	assert.Equal(t, "final", string(queued[1]))
}

func TestSessionCloseWithFrameOnEmptyQueue(t *testing.T) {
	session := newTestSession(newMockConn())

	session.CloseWithFrame([]byte("final"))

	queued := session.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, "final", string(queued[0]))
}

func TestSessionWriteAfterCloseIsDropped(t *testing.T) {
	session := newTestSession(newMockConn())

	session.Close()
	session.Write([]byte("late"))

	assert.Empty(t, session.queued())
}

func TestSessionSecondCloseWithFrameIsDropped(t *testing.T) {
	session := newTestSession(newMockConn())

	session.CloseWithFrame([]byte("first"))
	session.CloseWithFrame([]byte("second"))
	session.Close()

	queued := session.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, "first", string(queued[0]))
}

func TestSessionCloseFrameSentAfterTailFlush(t *testing.T) {
	conn := newMockConn()
	session := newTestSession(conn)

	session.Write([]byte("tail"))
	session.CloseWithFrame([]byte("final"))

	go session.writePump()

	msg := conn.nextWrite(t)
	assert.Equal(t, "tail", string(msg.data))
	msg = conn.nextWrite(t)
	assert.Equal(t, "final", string(msg.data))
	msg = conn.nextWrite(t)
	assert.Equal(t, websocket.CloseMessage, msg.messageType)
}

func TestSessionCloseOnIdleSessionSendsCloseFrame(t *testing.T) {
	conn := newMockConn()
	session := newTestSession(conn)

	go session.writePump()
	session.Close()

	msg := conn.nextWrite(t)
	assert.Equal(t, websocket.CloseMessage, msg.messageType)
}

func TestSessionSingleWriteInFlight(t *testing.T) {
	conn := newMockConn()
	var inFlight atomic.Int32
	var violations atomic.Int32
	conn.WriteMessageFunc = func(int, []byte) error {
		if inFlight.Add(1) > 1 {
			violations.Add(1)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	session := newTestSession(conn)
	go session.writePump()
	defer session.terminate()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				session.Write([]byte("frame"))
			}
		}()
	}
	wg.Wait()

	// Wait until the queue drains.
	deadline := time.Now().Add(2 * time.Second)
	for len(session.queued()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	assert.Zero(t, violations.Load())
	assert.Len(t, conn.writtenMessages(), 50)
}

func TestSessionReadPumpDispatchesValidFrames(t *testing.T) {
	conn := newMockConn()
	session := newTestSession(conn)
	handler := &recordingHandler{}
	session.SetHandler(handler)

	go session.writePump()
	go session.readPump()

	conn.feed(`{"type":"join","id":1,"nick":"n","game":"g"}`)
	conn.feed(`{"type":"leave"}`)

	assert.Eventually(t, func() bool {
		seen := handler.seen()
		return len(seen) == 2 && seen[0] == "join" && seen[1] == "leave"
	}, 2*time.Second, 10*time.Millisecond)

	session.terminate()
}

func TestSessionReadPumpRejectsInvalidFrame(t *testing.T) {
	conn := newMockConn()
	session := newTestSession(conn)
	handler := &recordingHandler{}
	session.SetHandler(handler)

	go session.writePump()
	go session.readPump()

	conn.feed(`{bad`)

	// The error frame goes out, then the close frame.
	msg := conn.nextWrite(t)
	assert.Equal(t, websocket.TextMessage, msg.messageType)
	assert.Contains(t, string(msg.data), "didn't contain a valid JSON")
	msg = conn.nextWrite(t)
	assert.Equal(t, websocket.CloseMessage, msg.messageType)

	assert.Empty(t, handler.seen())
	session.terminate()
}

func TestSessionPhaseTransitions(t *testing.T) {
	session := newTestSession(newMockConn())
	assert.Equal(t, "unjoined", session.Phase())

	session.Close()
	assert.Equal(t, "closing", session.Phase())

	session.terminate()
	assert.Equal(t, "closed", session.Phase())
}
