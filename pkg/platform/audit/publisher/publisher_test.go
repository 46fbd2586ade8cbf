package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "vericrop/pkg/platform/audit"
	"vericrop/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	claimID := uuid.NewString()
	err := pub.Emit(context.Background(), audit.Event{
		ClaimID: claimID,
		Action:  string(audit.ActionClaimSubmitted),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), claimID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.ActionClaimSubmitted), events[0].Action)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	claimID := uuid.NewString()
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			ClaimID: claimID,
			Action:  string(audit.ActionDispositionMade),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByClaim(context.Background(), claimID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	claimID := uuid.NewString()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{ClaimID: claimID, Action: "x"})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	claimID := uuid.NewString()
	before := time.Now()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{ClaimID: claimID, Action: "x"}))
	after := time.Now()

	events, err := pub.List(context.Background(), claimID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
	assert.False(t, events[0].Timestamp.After(after))
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	claimID := uuid.NewString()
	customTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{ClaimID: claimID, Action: "x", Timestamp: customTime}))

	events, err := pub.List(context.Background(), claimID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (s *recordingSink) Append(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func TestPublisher_FansOutToSinks(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{err: errors.New("broker down")}
	pub := NewPublisher(store, WithSink(sink))
	defer pub.Close()

	claimID := uuid.NewString()
	err := pub.Emit(context.Background(), audit.Event{ClaimID: claimID, Action: string(audit.ActionCertificateIssued)})
	require.NoError(t, err, "sink failures must not fail the emitter")

	assert.Len(t, sink.events, 1)
	events, err := pub.List(context.Background(), claimID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublisher_SeparatesClaims(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	first, second := uuid.NewString(), uuid.NewString()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{ClaimID: first, Action: string(audit.ActionClaimSubmitted)}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{ClaimID: second, Action: string(audit.ActionLoanOffered)}))

	events, err := pub.List(context.Background(), first)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.ActionClaimSubmitted), events[0].Action)
}
