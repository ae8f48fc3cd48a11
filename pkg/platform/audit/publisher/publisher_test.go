package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ssogate/pkg/platform/audit"
	"ssogate/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{Subject: "u-1", Action: audit.ActionLoginSucceeded})
	require.NoError(t, err)

	events, err := store.ListBySubject(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionLoginSucceeded, events[0].Action)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
	assert.NotEmpty(t, events[0].ID)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{Subject: "u-1", Action: audit.ActionTokenIssued})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := store.ListBySubject(context.Background(), "u-1")
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: "u-1", Action: audit.ActionTokenRedeemed}))
	}

	pub.Close()

	events, err := store.ListBySubject(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")

	assert.ErrorIs(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionLogout}), ErrClosed)
}

// blockingStore holds the worker inside Append until released.
type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (b *blockingStore) Append(ctx context.Context, _ audit.Event) error {
	<-b.release
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	return nil
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	pub := NewPublisher(store, WithAsyncBuffer(1))

	// The worker takes at most one event; the buffer holds one more.
	var full int
	for range 10 {
		start := time.Now()
		err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionTokenIssued})
		assert.Less(t, time.Since(start), 100*time.Millisecond, "emit must not block")
		if errors.Is(err, ErrBufferFull) {
			full++
		}
	}
	assert.GreaterOrEqual(t, full, 8)
	assert.Equal(t, int64(full), pub.Dropped())

	close(store.release)
	pub.Close()
	assert.Equal(t, 10-full, store.count)
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	before := time.Now()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: "u-1", Action: audit.ActionLogout}))
	after := time.Now()

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
	assert.False(t, events[0].Timestamp.After(after))
}

func TestPublisher_PreservesExistingFields(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		ID:        "evt-1",
		Action:    audit.ActionLoginFailed,
		Timestamp: customTime,
	}))

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, customTime, events[0].Timestamp)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_ContextCancellation(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, pub.Emit(ctx, audit.Event{Action: audit.ActionTokenIssued}), context.Canceled)
}
