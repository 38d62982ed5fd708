// Package session owns the lifecycle of per-user diary sessions: one store
// and one sync bridge per username, torn down together on logout.
package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"example.com/diary/internal/domain"
	"example.com/diary/internal/observability"
	diarysync "example.com/diary/internal/sync"
)

// ErrNoSession is returned when an operation references a user who is not
// logged in.
var ErrNoSession = errors.New("no active session")

// ErrEmptyUsername rejects blank identifiers at login.
var ErrEmptyUsername = errors.New("username is required")

// Session is one user's live diary: the in-memory store and the bridge that
// keeps it reconciled with the persisted snapshot.
type Session struct {
	Username string
	Store    *domain.Store
	Bridge   *diarysync.Bridge
}

// Manager constructs and tracks sessions. The snapshot store and change feed
// are shared across sessions; each session is namespaced by its username.
// Bridges run against the manager's base context, not a request context, so
// they outlive the HTTP request that opened them.
type Manager struct {
	ctx       context.Context
	snapshots diarysync.SnapshotStore
	feed      diarysync.ChangeFeed
	debounce  time.Duration
	logger    *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a Manager over the shared backends.
func NewManager(ctx context.Context, snapshots diarysync.SnapshotStore, feed diarysync.ChangeFeed, debounce time.Duration, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[session] ", log.LstdFlags)
	}
	return &Manager{
		ctx:       ctx,
		snapshots: snapshots,
		feed:      feed,
		debounce:  debounce,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Login opens (or returns the already-open) session for the username and
// starts its sync bridge against the user's snapshot namespace.
func (m *Manager) Login(username string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}

	m.mu.Lock()
	if existing, ok := m.sessions[username]; ok {
		m.mu.Unlock()
		return existing, nil
	}

	store := domain.NewStore()
	bridge := diarysync.NewBridge(username, store, m.snapshots, m.feed, m.debounce, m.logger)
	session := &Session{Username: username, Store: store, Bridge: bridge}
	m.sessions[username] = session
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	bridge.Start(m.ctx)
	return session, nil
}

// Get returns the live session for the username.
func (m *Manager) Get(username string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[username]
	return session, ok
}

// Logout tears the session down: cancels any pending debounced write,
// unsubscribes the inbound listener and discards the in-memory store. The
// persisted snapshot remains.
func (m *Manager) Logout(username string) error {
	m.mu.Lock()
	session, ok := m.sessions[username]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	delete(m.sessions, username)
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	session.Bridge.Close()
	session.Store.Clear()
	return nil
}

// CloseAll tears every session down. Used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	observability.SetActiveSessions(0)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Bridge.Close()
		session.Store.Clear()
	}
}
