// Package localfile persists diary snapshots as one JSON file per key in a
// data directory. It is the storage backend for single-machine deployments
// and doubles as the change feed by watching the directory.
package localfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"example.com/diary/internal/domain"
)

const tmpPrefix = ".tmp-"

type subscription struct {
	key     string
	handler func()
}

// Store is a file-backed snapshot store and change feed.
type Store struct {
	dir     string
	logger  *log.Logger
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	subs   map[int]subscription
	nextID int
	closed bool
}

// NewStore creates the data directory if needed and starts watching it for
// snapshot writes.
func NewStore(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[localfile] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch data dir: %w", err)
	}

	s := &Store{
		dir:     dir,
		logger:  logger,
		watcher: watcher,
		subs:    make(map[int]subscription),
	}
	go s.watch()
	return s, nil
}

// Load reads the snapshot file for the key; a missing file means no
// document exists yet.
func (s *Store) Load(ctx context.Context, key string) (domain.Snapshot, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Snapshot{}, false, nil
		}
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", key, err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snapshot, true, nil
}

// Save writes the snapshot atomically: temp file in the same directory,
// then rename over the target.
func (s *Store) Save(ctx context.Context, key string, snapshot domain.Snapshot) error {
	document, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}

	target := s.path(key)
	tmp := filepath.Join(s.dir, tmpPrefix+filepath.Base(target))
	if err := os.WriteFile(tmp, document, 0o644); err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

// Notify is a no-op: the directory watcher already observes the rename that
// Save performs, so a write is its own notification.
func (s *Store) Notify(ctx context.Context, key string) error {
	return nil
}

// Subscribe registers a handler invoked whenever the key's snapshot file
// changes on disk. The returned cancel function removes the registration.
func (s *Store) Subscribe(key string, handler func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = subscription{key: key, handler: handler}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close stops the directory watcher. Pending handlers finish on their own.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.watcher.Close()
}

func (s *Store) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			key, ok := keyFromFile(filepath.Base(event.Name))
			if !ok {
				continue
			}
			s.dispatch(key)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("watch error: %v", err)
		}
	}
}

func (s *Store) dispatch(key string) {
	s.mu.Lock()
	handlers := make([]func(), 0, 1)
	for _, sub := range s.subs {
		if sub.key == key {
			handlers = append(handlers, sub.handler)
		}
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

func keyFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, ".json") {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
	if err != nil {
		return "", false
	}
	return key, true
}
