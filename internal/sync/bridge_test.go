package sync

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/diary/internal/domain"
)

const testDebounce = 25 * time.Millisecond

type stubSnapshotStore struct {
	mu       sync.Mutex
	snapshot domain.Snapshot
	exists   bool
	loadErr  error
	saveErr  error
	saves    []domain.Snapshot
}

func (s *stubSnapshotStore) Load(ctx context.Context, key string) (domain.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return domain.Snapshot{}, false, s.loadErr
	}
	return s.snapshot, s.exists, nil
}

func (s *stubSnapshotStore) Save(ctx context.Context, key string, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, snapshot)
	s.snapshot = snapshot
	s.exists = true
	return nil
}

func (s *stubSnapshotStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *stubSnapshotStore) lastSave() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

type stubFeed struct {
	mu        sync.Mutex
	handlers  map[string]func()
	notifies  []string
	cancelled int
}

func newStubFeed() *stubFeed {
	return &stubFeed{handlers: make(map[string]func())}
}

func (f *stubFeed) Notify(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, key)
	return nil
}

func (f *stubFeed) Subscribe(key string, handler func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled++
		delete(f.handlers, key)
	}
}

func (f *stubFeed) deliver(key string) {
	f.mu.Lock()
	handler := f.handlers[key]
	f.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func quietLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(testWriter{t}, "", 0)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestStartAppliesInitialSnapshotWithoutWritingBack(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{
		snapshot: domain.Snapshot{Activities: []domain.Activity{
			{ID: "a", Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Description: "Gym"},
		}},
		exists: true,
	}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, testDebounce, quietLogger(t))
	bridge.Start(context.Background())
	defer bridge.Close()

	require.Equal(t, 1, store.Len())
	require.Equal(t, StateSynced, bridge.State())

	// Applying an inbound snapshot must never trigger an outbound write of
	// that same snapshot.
	time.Sleep(4 * testDebounce)
	require.Equal(t, 0, snapshots.saveCount())
}

func TestStartWithAbsentSnapshotLeavesStoreEmpty(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, testDebounce, quietLogger(t))
	bridge.Start(context.Background())
	defer bridge.Close()

	require.Equal(t, 0, store.Len())
	require.Equal(t, StateSynced, bridge.State())
}

func TestLocalMutationSchedulesDebouncedWrite(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, testDebounce, quietLogger(t))
	bridge.Start(context.Background())
	defer bridge.Close()

	_, err := store.Add(domain.ActivityInput{Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Description: "Gym"})
	require.NoError(t, err)
	require.Equal(t, StateDirty, bridge.State())

	require.Eventually(t, func() bool {
		return snapshots.saveCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return bridge.State() == StateSynced
	}, time.Second, 5*time.Millisecond)

	saved := snapshots.lastSave()
	require.Len(t, saved.Activities, 1)
	require.Equal(t, "Gym", saved.Activities[0].Description)
	require.False(t, saved.LastUpdated.IsZero())

	feed.mu.Lock()
	notifies := len(feed.notifies)
	feed.mu.Unlock()
	require.Equal(t, 1, notifies)
}

func TestRapidMutationsCoalesceIntoOneWrite(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, testDebounce, quietLogger(t))
	bridge.Start(context.Background())
	defer bridge.Close()

	for hour := 9; hour < 13; hour++ {
		_, err := store.Add(domain.ActivityInput{
			Date:        "2024-01-10",
			StartTime:   clock(hour, 0),
			EndTime:     clock(hour+1, 0),
			Description: "Block",
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return snapshots.saveCount() > 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(4 * testDebounce)

	require.Equal(t, 1, snapshots.saveCount())
	require.Len(t, snapshots.lastSave().Activities, 4)
}

func TestInboundNoticeReplacesStore(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, testDebounce, quietLogger(t))
	bridge.Start(context.Background())
	defer bridge.Close()

	snapshots.mu.Lock()
	snapshots.snapshot = domain.Snapshot{Activities: []domain.Activity{
		{ID: "r1", Date: "2024-01-12", StartTime: "07:00", EndTime: "08:00", Description: "Swim"},
		{ID: "r2", Date: "2024-01-11", StartTime: "09:00", EndTime: "10:00", Description: "Run"},
	}}
	snapshots.exists = true
	snapshots.mu.Unlock()

	feed.deliver("alice")

	listed := store.List(domain.FilterAll)
	require.Len(t, listed, 2)
	require.Equal(t, "Run", listed[0].Description)
	require.Equal(t, "Swim", listed[1].Description)

	// The inbound replacement must not bounce back out.
	time.Sleep(4 * testDebounce)
	require.Equal(t, 0, snapshots.saveCount())
}

func TestInboundReplaceCancelsPendingLocalWrite(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, testDebounce, quietLogger(t))
	bridge.Start(context.Background())
	defer bridge.Close()

	_, err := store.Add(domain.ActivityInput{Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Description: "Gym"})
	require.NoError(t, err)
	require.Equal(t, StateDirty, bridge.State())

	// The remote copy arrives before the debounce window elapses and
	// supersedes the local edit.
	snapshots.mu.Lock()
	snapshots.snapshot = domain.Snapshot{Activities: []domain.Activity{
		{ID: "r1", Date: "2024-01-11", StartTime: "07:00", EndTime: "08:00", Description: "Swim"},
	}}
	snapshots.exists = true
	snapshots.mu.Unlock()

	feed.deliver("alice")
	require.Equal(t, StateSynced, bridge.State())

	// The superseded write must not fire after the window would have closed.
	time.Sleep(4 * testDebounce)
	require.Equal(t, 0, snapshots.saveCount())
	require.Equal(t, StateSynced, bridge.State())
}

func TestWriteFailureIsLoggedNotRetried(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{saveErr: errors.New("backend down")}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, testDebounce, quietLogger(t))
	bridge.Start(context.Background())
	defer bridge.Close()

	_, err := store.Add(domain.ActivityInput{Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Description: "Gym"})
	require.NoError(t, err)

	time.Sleep(4 * testDebounce)
	require.Equal(t, 0, snapshots.saveCount())
	// The store keeps the local edit; it stays dirty until reconciled.
	require.Equal(t, 1, store.Len())
	require.Equal(t, StateDirty, bridge.State())
}

func TestCloseCancelsPendingWriteAndUnsubscribes(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, time.Minute, quietLogger(t))
	bridge.Start(context.Background())

	_, err := store.Add(domain.ActivityInput{Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Description: "Gym"})
	require.NoError(t, err)
	require.Equal(t, StateDirty, bridge.State())

	bridge.Close()
	require.Equal(t, StateUnsubscribed, bridge.State())

	feed.mu.Lock()
	cancelled := feed.cancelled
	handlers := len(feed.handlers)
	feed.mu.Unlock()
	require.Equal(t, 1, cancelled)
	require.Equal(t, 0, handlers)
	require.Equal(t, 0, snapshots.saveCount())

	// Close is idempotent.
	bridge.Close()
}

func TestStartFailedLoadKeepsSessionUsable(t *testing.T) {
	store := domain.NewStore()
	snapshots := &stubSnapshotStore{loadErr: errors.New("backend down")}
	feed := newStubFeed()

	bridge := NewBridge("alice", store, snapshots, feed, testDebounce, quietLogger(t))
	bridge.Start(context.Background())
	defer bridge.Close()

	require.Equal(t, StateSynced, bridge.State())

	_, err := store.Add(domain.ActivityInput{Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Description: "Gym"})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())
}

func clock(hour, minute int) string {
	return time.Date(2024, 1, 10, hour, minute, 0, 0, time.UTC).Format("15:04")
}
