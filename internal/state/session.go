package state

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/user/shopline/internal/clock"
	"github.com/user/shopline/internal/types"
)

type sessionIndex = map[types.SessionKey]*types.SessionIndex

// SessionStore is a JSON-file-backed map from surface session keys to
// engine conversations, stored in sessions/sessions.json under root.
type SessionStore struct {
	dir   string
	clock clock.Clock
	mu    sync.RWMutex
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithSessionClock sets the clock used for created/updated stamps.
func WithSessionClock(c clock.Clock) SessionOption {
	return func(s *SessionStore) { s.clock = c }
}

// NewSessionStore creates a SessionStore rooted at root.
func NewSessionStore(root string, opts ...SessionOption) *SessionStore {
	s := &SessionStore{dir: filepath.Join(root, "sessions"), clock: clock.Real{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SessionStore) path() string {
	return filepath.Join(s.dir, "sessions.json")
}

func (s *SessionStore) load() (sessionIndex, error) {
	index := make(sessionIndex)
	data, err := os.ReadFile(s.path())
	if errors.Is(err, fs.ErrNotExist) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var list []*types.SessionIndex
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse session index: %w", err)
	}
	for _, sess := range list {
		index[sess.SessionKey] = sess
	}
	return index, nil
}

// save writes the index sorted by key through a temp file and rename.
func (s *SessionStore) save(index sessionIndex) error {
	data, err := json.MarshalIndent(sorted(index), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session index: %w", err)
	}
	return nil
}

// update runs fn on the loaded index under the write lock and saves the
// result when fn reports a change.
func (s *SessionStore) update(fn func(sessionIndex) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(index)
	if err != nil || !changed {
		return err
	}
	return s.save(index)
}

// ResolveOrCreate returns the conversation mapped to key. When there is
// none, create is called once to open a conversation and the mapping is
// persisted. Creates are serialized so a key never gets two conversations.
func (s *SessionStore) ResolveOrCreate(ctx context.Context, key types.SessionKey, create func(context.Context) (types.ConversationID, error)) (types.ConversationID, error) {
	var id types.ConversationID
	err := s.update(func(index sessionIndex) (bool, error) {
		if sess, ok := index[key]; ok {
			id = sess.ConversationID
			return false, nil
		}
		created, err := create(ctx)
		if err != nil {
			return false, fmt.Errorf("create conversation for %s: %w", key, err)
		}
		now := s.clock.Now()
		index[key] = &types.SessionIndex{SessionKey: key, ConversationID: created, CreatedAt: now, UpdatedAt: now}
		id = created
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Touch records activity on the session.
func (s *SessionStore) Touch(_ context.Context, key types.SessionKey) error {
	return s.update(func(index sessionIndex) (bool, error) {
		sess, ok := index[key]
		if !ok {
			return false, fmt.Errorf("session %s: %w", key, types.ErrNotFound)
		}
		sess.UpdatedAt = s.clock.Now()
		return true, nil
	})
}

// Reset forgets the conversation mapped to key so the next message starts
// a new one. Resetting an unknown key is not an error.
func (s *SessionStore) Reset(_ context.Context, key types.SessionKey) error {
	return s.update(func(index sessionIndex) (bool, error) {
		if _, ok := index[key]; !ok {
			return false, nil
		}
		delete(index, key)
		return true, nil
	})
}

// List returns all sessions sorted by key.
func (s *SessionStore) List(_ context.Context) ([]*types.SessionIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	return sorted(index), nil
}

func sorted(index sessionIndex) []*types.SessionIndex {
	return slices.SortedFunc(maps.Values(index), func(a, b *types.SessionIndex) int {
		return cmp.Compare(a.SessionKey, b.SessionKey)
	})
}
