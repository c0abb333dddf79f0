// Package channels defines the adapter interface for messaging platforms
// and the router that every inbound and outbound message flows through.
// Platform adapters live outside the core; they only need to implement
// Channel and push inbound messages into the Router.
package channels

import (
	"context"
	"errors"
	"time"
)

// Kind tags a channel adapter. The set is closed: the router's registry
// is keyed on this small fixed domain.
type Kind string

const (
	KindWhatsApp Kind = "whatsapp"
	KindTelegram Kind = "telegram"
	KindDiscord  Kind = "discord"
	KindWebchat  Kind = "webchat"
)

// Kinds lists every valid channel kind.
func Kinds() []Kind {
	return []Kind{KindWhatsApp, KindTelegram, KindDiscord, KindWebchat}
}

// Valid reports whether k is a known channel kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWhatsApp, KindTelegram, KindDiscord, KindWebchat:
		return true
	}
	return false
}

// Status is an adapter's self-reported health.
type Status struct {
	Connected     bool           `json:"connected"`
	LastMessageAt time.Time      `json:"last_message_at"`
	ErrorCount    int            `json:"error_count"`
	Details       map[string]any `json:"details,omitempty"`
}

// Channel is the capability every platform adapter must expose.
type Channel interface {
	// Kind returns the adapter's channel kind tag.
	Kind() Kind

	// Start connects the adapter to its platform.
	Start(ctx context.Context) error

	// Stop disconnects gracefully. Stopping a stopped adapter is a no-op.
	Stop() error

	// Send delivers content to a platform target (chat/group id).
	Send(ctx context.Context, target, content string) error

	// Status returns the adapter's health.
	Status() Status

	// Ready reports whether the adapter can send right now.
	Ready() bool
}

// TypingChannel is implemented by adapters that support typing
// indicators. The router treats typing as best-effort: adapters without
// it are silently skipped.
type TypingChannel interface {
	Channel

	// StartTyping shows a typing indicator to the target.
	StartTyping(ctx context.Context, target string) error

	// StopTyping clears the indicator. Stopping when none is shown is a
	// no-op.
	StopTyping(ctx context.Context, target string) error
}

// IncomingMessage is a platform message normalized by an adapter.
type IncomingMessage struct {
	// ID is the platform message identifier.
	ID string

	// Kind identifies the source adapter.
	Kind Kind

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name, if available.
	FromName string

	// ConversationID is the group or DM identifier.
	ConversationID string

	// IsGroup indicates a group chat.
	IsGroup bool

	// Content is the message text.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// Errors.
var (
	ErrChannelNotRegistered = errors.New("channel kind not registered")
	ErrChannelNotReady      = errors.New("channel is not ready")
)
