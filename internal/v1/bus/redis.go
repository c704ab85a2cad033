// Package bus implements the optional Redis pub/sub bridge that lets
// several relay instances share a room's broadcasts.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// statePayload is the envelope moved between instances. SenderID prevents an
// instance from echoing its own broadcasts back into its rooms.
type statePayload struct {
	RoomName string `json:"roomName"`
	Frame    []byte `json:"frame"`
	SenderID string `json:"senderId"`
}

// Service handles all interaction with the Redis cluster.
type Service struct {
	client     *redis.Client
	cb         *gobreaker.CircuitBreaker
	instanceID string
}

// NewService creates a Redis connection and verifies it with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "Connected to Redis pub/sub", zap.String("addr", addr))
	return &Service{
		client:     rdb,
		cb:         gobreaker.NewCircuitBreaker(st),
		instanceID: uuid.New().String(),
	}, nil
}

func channelFor(roomName string) string {
	return fmt.Sprintf("relay:room:%s", roomName)
}

// PublishState broadcasts one state frame to the other instances watching
// this room. Publish failures degrade gracefully: the local broadcast has
// already happened, so a dropped publish only affects remote members.
func (s *Service) PublishState(roomName string, frame []byte) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(statePayload{
			RoomName: roomName,
			Frame:    frame,
			SenderID: s.instanceID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return nil, s.client.Publish(ctx, channelFor(roomName), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(context.Background(), "Redis circuit breaker open: dropping publish", zap.String("room", roomName))
			return nil
		}
		logging.Error(context.Background(), "Redis publish failed", zap.String("room", roomName), zap.Error(err))
		return err
	}

	return nil
}

// SubscribeState starts a background listener for frames published by other
// instances for this room. The handler receives the raw frame; frames this
// instance published itself are filtered out. The returned function stops
// the listener.
func (s *Service) SubscribeState(roomName string, handler func(frame []byte)) func() {
	if s == nil || s.client == nil {
		return func() {} // Single-instance mode, no Redis available
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, channelFor(roomName))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = pubsub.Close() }()

		logging.Info(ctx, "Subscribed to Redis channel", zap.String("channel", channelFor(roomName)))

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(context.Background(), "Redis subscription channel closed", zap.String("channel", channelFor(roomName)))
					return
				}

				var payload statePayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Error(context.Background(), "Failed to unmarshal Redis message", zap.Error(err))
					continue
				}
				if payload.SenderID == s.instanceID {
					continue
				}

				handler(payload.Frame)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Ping checks Redis connectivity. Used by the readiness probe.
func (s *Service) Ping() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}
	return s.client.Close()
}
