package session

import (
	"context"
	"sync"

	"github.com/zeroloop/zeroloop/internal/agent/core"
)

// maxHistory bounds the rolling message window kept per conversation. The
// detectors only look at a small suffix; anything older is the database's
// concern.
const maxHistory = 50

// Session holds the in-memory state of one conversation: the rolling
// message window feeding the detectors. Exactly one plan executes per
// conversation at a time, enforced by the engine, so no per-plan locking
// lives here.
type Session struct {
	ConversationID string

	mu      sync.RWMutex
	history []core.Message
}

// Append adds a message to the rolling window.
func (s *Session) Append(msg core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// History returns a copy of the rolling window.
func (s *Session) History() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Store keeps sessions keyed by conversation. An optional history cache
// rehydrates the window for conversations first seen on this node, so a
// restarted API server does not lose detector context.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cache    *HistoryCache
}

func NewStore(cache *HistoryCache) *Store {
	return &Store{sessions: make(map[string]*Session), cache: cache}
}

// Ensure returns the session for a conversation, creating it on first use.
// A cache miss or cache error just yields an empty window.
func (st *Store) Ensure(ctx context.Context, conversationID string) *Session {
	st.mu.RLock()
	sess, ok := st.sessions[conversationID]
	st.mu.RUnlock()
	if ok {
		return sess
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[conversationID]; ok {
		return sess
	}
	sess = &Session{ConversationID: conversationID}
	if st.cache != nil {
		if history, err := st.cache.Load(ctx, conversationID, maxHistory); err == nil {
			sess.history = history
		}
	}
	st.sessions[conversationID] = sess
	return sess
}

// Get returns the session if this node has one.
func (st *Store) Get(conversationID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[conversationID]
	return sess, ok
}

// Record appends to both the in-memory window and the cache.
func (st *Store) Record(ctx context.Context, conversationID string, msg core.Message) {
	st.Ensure(ctx, conversationID).Append(msg)
	if st.cache != nil {
		_ = st.cache.Append(ctx, conversationID, msg)
	}
}
