package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// fakeConnectClient embeds common.Client so it satisfies the full
// interface without implementing every read/write method; the
// Supervisor only ever calls Connect/Disconnect/IsConnected.
type fakeConnectClient struct {
	common.Client

	mu           sync.Mutex
	connected    bool
	connectErr   error
	connectCalls int32
}

func (f *fakeConnectClient) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connectCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeConnectClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeConnectClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnectClient) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func TestSupervisorConnectTransitionsToConnected(t *testing.T) {
	fake := &fakeConnectClient{}
	sup := NewSupervisor(fake)

	require.NoError(t, sup.Connect(context.Background()))
	assert.Equal(t, StateConnected, sup.State())

	require.NoError(t, sup.Close(context.Background()))
	assert.Equal(t, StateDisconnected, sup.State())
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	fake := &fakeConnectClient{}
	sup := NewSupervisor(fake)
	require.NoError(t, sup.Connect(context.Background()))

	fake.setConnected(false)

	require.Eventually(t, func() bool {
		return sup.State() == StateConnected && fake.IsConnected()
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Close(context.Background()))
}

func TestSupervisorReconnectBudgetExhausted(t *testing.T) {
	fake := &fakeConnectClient{}
	sup := NewSupervisor(fake, WithReconnectBudget(50*time.Millisecond))
	require.NoError(t, sup.Connect(context.Background()))

	fake.mu.Lock()
	fake.connected = false
	fake.connectErr = assert.AnError
	fake.mu.Unlock()

	require.Eventually(t, func() bool {
		return sup.State() == StateFatal
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Close(context.Background()))
}

func TestSupervisorReconnectBudgetTracksElapsedTimeNotAttempts(t *testing.T) {
	// Once reconnect attempts have been failing for longer than the
	// budget, the supervisor must trip StateFatal after only one or two
	// attempts, since the budget is wall-clock time, not a count of
	// attempts.
	fake := &fakeConnectClient{}
	sup := NewSupervisor(fake, WithReconnectBudget(20*time.Millisecond))
	require.NoError(t, sup.Connect(context.Background()))

	fake.mu.Lock()
	fake.connected = false
	fake.connectErr = assert.AnError
	fake.mu.Unlock()

	time.Sleep(30 * time.Millisecond)

	require.Eventually(t, func() bool {
		return sup.State() == StateFatal
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Close(context.Background()))
}

func TestSupervisorCloseIsIdempotent(t *testing.T) {
	fake := &fakeConnectClient{}
	sup := NewSupervisor(fake)
	require.NoError(t, sup.Connect(context.Background()))

	require.NoError(t, sup.Close(context.Background()))
	require.NoError(t, sup.Close(context.Background()))
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "disconnected(fatal)", StateFatal.String())
}
