// Package listener binds the configured TCP endpoint and counts accepted
// connections.
package listener

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/fusionserver/relay/internal/v1/config"
	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/metrics"
	"go.uber.org/zap"
)

// Listener wraps a net.Listener and counts every accepted connection.
type Listener struct {
	net.Listener
	accepted atomic.Uint64
}

// Listen binds the configured endpoint. Bind failures (address in use,
// permission denied, bad interface) are returned so startup can abort with
// a non-zero exit before any session exists. The kernel manages the actual
// accept backlog; max_queued_connections is validated but advisory here.
func Listen(cfg config.ListenerConfig) (*Listener, error) {
	addr := cfg.Addr()
	inner, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	logging.Info(context.Background(), "Listener bound",
		zap.String("addr", addr),
		zap.Int("max_queued_connections", cfg.MaxQueuedConnections))

	return &Listener{Listener: inner}, nil
}

// Accept waits for the next connection and bumps the accept counters.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.accepted.Add(1)
	metrics.AcceptedConnectionsTotal.Inc()
	return conn, nil
}

// Accepted returns the number of connections accepted since startup.
func (l *Listener) Accepted() uint64 {
	return l.accepted.Load()
}
