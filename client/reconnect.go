package client

import (
	"context"
	"sync"
	"time"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// ConnectionState enumerates the lifecycle states a supervised client
// session moves through.
type ConnectionState int

const (
	// StateDisconnected means no connection attempt is in flight and
	// none has succeeded yet, or Close was called.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a connection attempt is in progress.
	StateConnecting
	// StateConnected means the transport is connected and usable.
	StateConnected
	// StateReconnecting means a prior connection was lost and the
	// supervisor is retrying.
	StateReconnecting
	// StateFatal means the reconnect budget was exhausted; the
	// supervisor has given up and will not retry again.
	StateFatal
)

// String returns a human-readable name for the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFatal:
		return "disconnected(fatal)"
	default:
		return "unknown"
	}
}

// ReconnectRetryInterval is the fixed delay between reconnect attempts
// after the first (immediate) one.
const ReconnectRetryInterval = 1 * time.Second

// Supervisor keeps a common.Client connected for as long as the caller
// wants it to be, retrying in the background after an unexpected
// disconnect. It generalizes the bool-flag connect/disconnect pattern
// in transport.TCPTransport into an explicit, observable state machine
// with a joinable background goroutine instead of a bare fire-and-forget
// retry loop.
type Supervisor struct {
	client common.Client
	logger common.LoggerInterface
	budget time.Duration // 0 means unlimited

	mu             sync.RWMutex
	state          ConnectionState
	firstFailureAt time.Time // zero when not currently failing

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithReconnectBudget bounds the total elapsed time since the first
// failed reconnect attempt before the supervisor gives up and
// transitions to StateFatal. Zero (the default) means retry forever.
// A hung dial can consume the whole budget in a single attempt, so
// elapsed wall-clock time is tracked directly rather than approximated
// by an attempt count.
func WithReconnectBudget(budget time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.budget = budget
	}
}

// WithSupervisorLogger sets the logger used for reconnect diagnostics.
func WithSupervisorLogger(logger common.LoggerInterface) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// NewSupervisor wraps client with automatic reconnect behavior. Connect
// must still be called to start the first connection attempt.
func NewSupervisor(c common.Client, options ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		client: c,
		state:  StateDisconnected,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// State returns the supervisor's current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(state ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Connect makes the first connection attempt. On success it starts a
// background goroutine that watches for disconnects and reconnects
// automatically; on failure it returns the error without starting the
// watcher (callers may retry Connect themselves, or rely on the
// watcher once a later Connect succeeds).
func (s *Supervisor) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	if err := s.client.Connect(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	s.setState(StateConnected)
	go s.watch()
	return nil
}

// watch polls connection liveness and drives reconnect attempts. It is
// a joinable goroutine: Close() signals it to stop and waits for it to
// exit via doneCh, rather than abandoning it.
func (s *Supervisor) watch() {
	defer close(s.doneCh)
	ticker := time.NewTicker(ReconnectRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.client.IsConnected() {
				continue
			}
			if s.State() == StateConnected {
				s.setState(StateReconnecting)
			}
			s.attemptReconnect()
		}
	}
}

func (s *Supervisor) attemptReconnect() {
	ctx := context.Background()

	s.mu.Lock()
	if s.firstFailureAt.IsZero() {
		s.firstFailureAt = time.Now()
	}
	elapsed := time.Since(s.firstFailureAt)
	s.mu.Unlock()

	if s.budget > 0 && elapsed > s.budget {
		s.setState(StateFatal)
		if s.logger != nil {
			s.logger.Error(ctx, "reconnect budget of %s exhausted after %s, giving up", s.budget, elapsed)
		}
		return
	}

	if err := s.client.Connect(ctx); err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "reconnect attempt failed after %s: %v", elapsed, err)
		}
		return
	}

	s.mu.Lock()
	s.firstFailureAt = time.Time{}
	s.mu.Unlock()
	s.setState(StateConnected)
}

// Close stops the background watcher and disconnects the underlying
// client, blocking until the watcher goroutine has exited.
func (s *Supervisor) Close(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	s.setState(StateDisconnected)
	return s.client.Disconnect(ctx)
}
