package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/courierbot/courier/pkg/courier/events"
)

// Summarizer condenses a slice of dropped messages into a short summary.
// It is an external collaborator (normally the AI call path) and may fail.
type Summarizer func(ctx context.Context, dropped []Message) (string, error)

// StoreConfig configures a Store.
type StoreConfig struct {
	// MaxMessages overrides the per-session history cap (0 = default).
	MaxMessages int

	// DefaultContext seeds the context of newly created sessions.
	DefaultContext Context

	// Persist, when non-nil, mirrors session history to sqlite.
	Persist *SQLiteStore
}

// Store owns all live sessions. It is the only mutable record of
// conversational state; every read/write is keyed by the identity triple.
type Store struct {
	sessions    map[string]*Session
	maxMessages int
	defaults    Context
	persist     *SQLiteStore
	bus         *events.Bus
	logger      *slog.Logger

	now func() time.Time
	mu  sync.RWMutex
}

// NewStore creates a session store publishing lifecycle events on bus.
func NewStore(cfg StoreConfig, bus *events.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = maxMessagesPerSession
	}
	return &Store{
		sessions:    make(map[string]*Session),
		maxMessages: maxMessages,
		defaults:    cfg.DefaultContext,
		persist:     cfg.Persist,
		bus:         bus,
		logger:      logger.With("component", "session"),
		now:         time.Now,
	}
}

// GetOrCreate returns the live session for an identity triple, bumping its
// last-activity time, or creates a fresh one seeded with the default
// context. At most one live session exists per triple.
func (st *Store) GetOrCreate(kind, conversationID, userID string) *Session {
	key := Key(kind, conversationID, userID)

	st.mu.RLock()
	if sess, ok := st.sessions[key]; ok {
		st.mu.RUnlock()
		sess.touch()
		return sess
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Double-check after acquiring the write lock.
	if sess, ok := st.sessions[key]; ok {
		sess.touch()
		return sess
	}

	sess := &Session{
		Key:            key,
		Kind:           kind,
		ConversationID: conversationID,
		UserID:         userID,
		CreatedAt:      st.now(),
		context:        st.defaults,
		memory:         make(map[string]memoryItem),
		lastActivity:   st.now(),
		maxMessages:    st.maxMessages,
		now:            st.now,
	}
	if st.persist != nil {
		if msgs, err := st.persist.LoadMessages(key); err != nil {
			st.logger.Warn("failed to load persisted history", "key", key, "error", err)
		} else {
			sess.messages = msgs
		}
	}
	st.sessions[key] = sess

	st.logger.Info("session created", "key", key, "kind", kind)
	if st.bus != nil {
		st.bus.Emit(events.SessionCreated, sess.Snapshot())
	}
	return sess
}

// Get returns the live session for a key, or nil.
func (st *Store) Get(key string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[key]
}

// AddMessage appends a turn to the keyed session and publishes a
// session:updated event. Creates nothing: the session must exist.
func (st *Store) AddMessage(key string, role Role, content string) bool {
	sess := st.Get(key)
	if sess == nil {
		return false
	}
	sess.AddMessage(role, content)
	if st.persist != nil {
		if err := st.persist.AppendMessage(key, role, content); err != nil {
			st.logger.Warn("failed to persist message", "key", key, "error", err)
		}
	}
	if st.bus != nil {
		st.bus.Emit(events.SessionUpdated, sess.Snapshot())
	}
	return true
}

// Clear drops a session's history. Clearing an unknown key is a no-op.
func (st *Store) Clear(key string) {
	sess := st.Get(key)
	if sess == nil {
		return
	}
	sess.ClearHistory()
	if st.persist != nil {
		if err := st.persist.DeleteMessages(key); err != nil {
			st.logger.Warn("failed to clear persisted history", "key", key, "error", err)
		}
	}
	if st.bus != nil {
		st.bus.Emit(events.SessionUpdated, sess.Snapshot())
	}
}

// Delete removes a session entirely. Returns false for an unknown key.
func (st *Store) Delete(key string) bool {
	st.mu.Lock()
	sess, ok := st.sessions[key]
	if ok {
		delete(st.sessions, key)
	}
	st.mu.Unlock()
	if !ok {
		return false
	}
	if st.persist != nil {
		if err := st.persist.DeleteMessages(key); err != nil {
			st.logger.Warn("failed to delete persisted history", "key", key, "error", err)
		}
	}
	st.logger.Info("session deleted", "key", key)
	if st.bus != nil {
		st.bus.Emit(events.SessionDeleted, sess.Snapshot())
	}
	return true
}

// List returns snapshots of all live sessions, most recently active first.
func (st *Store) List() []Info {
	st.mu.RLock()
	infos := make([]Info, 0, len(st.sessions))
	for _, sess := range st.sessions {
		infos = append(infos, sess.Snapshot())
	}
	st.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivity.After(infos[j].LastActivity)
	})
	return infos
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Compact replaces all but the most recent messages of a long session with
// a single synthetic system message carrying the summarizer's output. It
// only acts on sessions with at least 20 messages. A summarizer failure is
// logged and the session is left unmodified.
func (st *Store) Compact(ctx context.Context, key string, summarize Summarizer) {
	sess := st.Get(key)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if len(sess.messages) < compactMinMessages {
		sess.mu.Unlock()
		return
	}
	cut := len(sess.messages) - compactKeepRecent
	dropped := make([]Message, cut)
	copy(dropped, sess.messages[:cut])
	sess.mu.Unlock()

	// The summarizer suspends (AI call); the session stays unlocked and
	// is re-checked before splicing.
	summary, err := summarize(ctx, dropped)
	if err != nil {
		st.logger.Warn("compaction summarizer failed, session unchanged", "key", key, "error", err)
		return
	}

	sess.mu.Lock()
	if len(sess.messages) < compactMinMessages {
		sess.mu.Unlock()
		return
	}
	recent := sess.messages[len(sess.messages)-compactKeepRecent:]
	compacted := make([]Message, 0, compactKeepRecent+1)
	compacted = append(compacted, Message{
		Role:      RoleSystem,
		Content:   "Summary of earlier conversation: " + summary,
		Timestamp: st.now(),
	})
	compacted = append(compacted, recent...)
	sess.messages = compacted
	sess.lastActivity = st.now()
	sess.mu.Unlock()

	st.logger.Info("session compacted", "key", key, "dropped", len(dropped))
	if st.bus != nil {
		st.bus.Emit(events.SessionUpdated, sess.Snapshot())
	}
}

// Cleanup runs one sweep, removing sessions idle longer than the timeout.
// Returns the number removed.
func (st *Store) Cleanup() int {
	cutoff := st.now().Add(-sessionTimeout)

	st.mu.RLock()
	var stale []string
	for key, sess := range st.sessions {
		if sess.LastActivity().Before(cutoff) {
			stale = append(stale, key)
		}
	}
	st.mu.RUnlock()

	for _, key := range stale {
		st.Delete(key)
	}
	if len(stale) > 0 {
		st.logger.Info("session sweep removed stale sessions", "count", len(stale))
	}
	return len(stale)
}

// StartSweep runs Cleanup on a fixed interval until ctx is cancelled.
func (st *Store) StartSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
