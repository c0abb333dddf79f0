// Package session implements the per-conversation state store. A session
// is identified by the (channel kind, conversation id, user id) triple and
// owns its message history, ephemeral keyed memory, and model parameters.
package session

import (
	"fmt"
	"sync"
	"time"
)

const (
	// maxMessagesPerSession caps the history length. When exceeded,
	// system messages are preserved and the oldest non-system messages
	// are dropped.
	maxMessagesPerSession = 100

	// sessionTimeout is the idle age after which the sweep removes a
	// session.
	sessionTimeout = 24 * time.Hour

	// sweepInterval is how often the cleanup sweep runs.
	sweepInterval = time.Hour

	// compactMinMessages is the minimum history length before Compact
	// does anything.
	compactMinMessages = 20

	// compactKeepRecent is how many trailing messages survive compaction.
	compactKeepRecent = 10
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversation turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Context holds the model parameters for a session.
type Context struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`
}

// memoryItem is one ephemeral key/value pair with optional expiry.
type memoryItem struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Session is the mutable record of one conversation. All methods are safe
// for concurrent use; each session carries its own mutex so that a write
// for one identity triple never blocks another.
type Session struct {
	// Key is the serialized identity triple "kind:conversationID:userID".
	Key string

	// Kind is the channel kind tag (e.g. "telegram").
	Kind string

	// ConversationID is the platform chat or group identifier.
	ConversationID string

	// UserID is the platform user identifier.
	UserID string

	// CreatedAt is when the session was first created.
	CreatedAt time.Time

	messages     []Message
	context      Context
	memory       map[string]memoryItem
	lastActivity time.Time
	maxMessages  int

	now func() time.Time
	mu  sync.RWMutex
}

// Key derives the canonical store key for an identity triple.
func Key(kind, conversationID, userID string) string {
	return fmt.Sprintf("%s:%s:%s", kind, conversationID, userID)
}

// AddMessage appends a turn and enforces the trim invariant: the history
// never exceeds the cap, every system message is retained, and the most
// recent non-system messages win.
func (s *Session) AddMessage(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	s.lastActivity = s.now()

	if len(s.messages) <= s.maxMessages {
		return
	}

	// Drop the oldest non-system messages in place; everything kept
	// stays in its original relative order.
	overflow := len(s.messages) - s.maxMessages
	trimmed := make([]Message, 0, s.maxMessages)
	for _, m := range s.messages {
		if overflow > 0 && m.Role != RoleSystem {
			overflow--
			continue
		}
		trimmed = append(trimmed, m)
	}
	s.messages = trimmed
}

// History returns a copy of the message sequence.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the current history length.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ClearHistory drops all messages. Clearing an empty session is a no-op.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.lastActivity = s.now()
}

// Context returns the session's model parameters.
func (s *Session) Context() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.context
}

// SetContext replaces the session's model parameters.
func (s *Session) SetContext(ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = ctx
	s.lastActivity = s.now()
}

// UpdateContext applies a mutation to the session context under lock.
func (s *Session) UpdateContext(apply func(*Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.context)
	s.lastActivity = s.now()
}

// SetMemory stores an ephemeral key/value pair. A write replaces any
// prior item with the same key. ttlSeconds <= 0 means no expiry.
func (s *Session) SetMemory(key, value string, ttlSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := memoryItem{value: value}
	if ttlSeconds > 0 {
		item.expiresAt = s.now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	s.memory[key] = item
}

// GetMemory returns the value for a key. An item read past its expiry is
// deleted and reported as not found; expiry is only checked on read.
func (s *Session) GetMemory(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.memory[key]
	if !ok {
		return "", false
	}
	if !item.expiresAt.IsZero() && s.now().After(item.expiresAt) {
		delete(s.memory, key)
		return "", false
	}
	return item.value, true
}

// MemoryKeys returns the keys currently held (including unread expired
// items, which remain until the next read attempt).
func (s *Session) MemoryKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.memory))
	for k := range s.memory {
		keys = append(keys, k)
	}
	return keys
}

// LastActivity returns the last mutation time.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// touch bumps the last-activity time.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// Info is a read-only snapshot of a session for listings.
type Info struct {
	Key            string    `json:"key"`
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	MessageCount   int       `json:"message_count"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// Snapshot returns the session's listing info.
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Key:            s.Key,
		Kind:           s.Kind,
		ConversationID: s.ConversationID,
		UserID:         s.UserID,
		MessageCount:   len(s.messages),
		Model:          s.context.Model,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.lastActivity,
	}
}
