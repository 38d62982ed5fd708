// Package sync keeps a session's in-memory store consistent with its
// persisted snapshot under last-writer-wins semantics.
package sync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"example.com/diary/internal/domain"
	"example.com/diary/internal/observability"
)

// SnapshotStore persists one snapshot document per diary key.
type SnapshotStore interface {
	Load(ctx context.Context, key string) (domain.Snapshot, bool, error)
	Save(ctx context.Context, key string, snapshot domain.Snapshot) error
}

// ChangeFeed delivers snapshot-written notices across service instances.
// Subscribe returns a cancel function that tears the subscription down.
type ChangeFeed interface {
	Notify(ctx context.Context, key string) error
	Subscribe(key string, handler func()) (cancel func())
}

// State is the bridge's position in its sync lifecycle.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSynced
	StateDirty
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSynced:
		return "synced"
	case StateDirty:
		return "dirty"
	}
	return "unknown"
}

// DefaultDebounce is the quiescence window applied to outbound writes.
const DefaultDebounce = 400 * time.Millisecond

// Bridge reconciles one diary's store with its persisted snapshot: inbound
// snapshots replace the store without triggering an outbound write, and local
// mutations schedule a debounced write of the full current snapshot.
type Bridge struct {
	key       string
	store     *domain.Store
	snapshots SnapshotStore
	feed      ChangeFeed
	debounce  time.Duration
	logger    *log.Logger

	mu          sync.Mutex
	state       State
	timer       *time.Timer
	generation  uint64
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	flushes     sync.WaitGroup
}

// NewBridge wires a Bridge to the store's mutation hook. The bridge stays
// unsubscribed until Start is called.
func NewBridge(key string, store *domain.Store, snapshots SnapshotStore, feed ChangeFeed, debounce time.Duration, logger *log.Logger) *Bridge {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	b := &Bridge{
		key:       key,
		store:     store,
		snapshots: snapshots,
		feed:      feed,
		debounce:  debounce,
		logger:    logger,
		state:     StateUnsubscribed,
	}
	store.OnMutation(b.onMutation)
	return b
}

// Start loads the initial snapshot, applies it as remote-origin, and
// subscribes to the change feed. A failed initial load is logged and the
// session continues against the empty local store; the next inbound snapshot
// or successful write reconciles.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.ctx != nil {
		b.mu.Unlock()
		return
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.state = StateSubscribing
	b.mu.Unlock()

	b.applyRemote()

	b.mu.Lock()
	if b.ctx == nil {
		// Closed while loading.
		b.mu.Unlock()
		return
	}
	if b.state == StateSubscribing {
		b.state = StateSynced
	}
	b.unsubscribe = b.feed.Subscribe(b.key, b.applyRemote)
	b.mu.Unlock()
}

// Close cancels any pending debounced write, unsubscribes the inbound
// listener and waits for an in-flight flush to finish. Idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.cancel != nil {
		b.cancel()
	}
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.ctx = nil
	b.cancel = nil
	b.state = StateUnsubscribed
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	b.flushes.Wait()
}

// State reports the bridge's current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// onMutation is the store's mutation hook. Remote-origin replacements mark
// the store clean; local mutations re-dirty it and (re)arm the debounce
// timer so rapid successive edits coalesce into one write.
func (b *Bridge) onMutation(origin domain.Origin) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if origin == domain.OriginRemote {
		// The remote copy supersedes any pending local write; cancel it so
		// a stale snapshot is not written out from a synced bridge.
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		if b.state == StateDirty || b.state == StateSynced {
			b.state = StateSynced
		}
		return
	}

	b.generation++
	if b.ctx == nil {
		// Not subscribed; nothing to persist against.
		return
	}
	b.state = StateDirty
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, b.flush)
}

func (b *Bridge) flush() {
	b.mu.Lock()
	ctx := b.ctx
	generation := b.generation
	b.timer = nil
	if ctx == nil {
		b.mu.Unlock()
		return
	}
	b.flushes.Add(1)
	b.mu.Unlock()
	defer b.flushes.Done()

	snapshot := b.store.Snapshot()
	err := b.snapshots.Save(ctx, b.key, snapshot)
	observability.RecordSyncWrite(err)
	if err != nil {
		// Not retried; the in-memory store stays authoritative until the
		// next successful write or inbound snapshot.
		if !errors.Is(err, context.Canceled) {
			b.logger.Printf("snapshot write failed (key=%s): %v", b.key, err)
		}
		return
	}

	if err := b.feed.Notify(ctx, b.key); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Printf("change notify failed (key=%s): %v", b.key, err)
	}

	b.mu.Lock()
	// A mutation that landed while the write was in flight has re-armed the
	// timer; only an unchanged generation means the store is clean.
	if b.generation == generation && b.state == StateDirty {
		b.state = StateSynced
	}
	b.mu.Unlock()
}

// applyRemote loads the persisted snapshot and replaces the store contents.
// An absent document clears the store; the replacement is tagged
// remote-origin so no outbound write is scheduled for it.
func (b *Bridge) applyRemote() {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		return
	}

	snapshot, exists, err := b.snapshots.Load(ctx, b.key)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.logger.Printf("snapshot load failed (key=%s): %v", b.key, err)
		}
		return
	}
	if !exists {
		snapshot = domain.Snapshot{}
	}
	b.store.ReplaceAll(snapshot, domain.OriginRemote)
	observability.RecordInboundSnapshot()
}
