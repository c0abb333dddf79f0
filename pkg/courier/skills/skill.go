// Package skills implements the skill registry: named handlers that claim
// slash commands or keyword triggers before a message reaches the AI call
// path. Skills are opaque to the router, which only sees content and a
// stop-propagation flag.
package skills

import "context"

// Context carries the inbound message a skill executes against.
type Context struct {
	// Kind is the source channel kind tag.
	Kind string

	// ConversationID is the chat or group identifier.
	ConversationID string

	// UserID is the sender identifier.
	UserID string

	// Command is the claimed command name (without prefix); empty when
	// the skill fired on a trigger.
	Command string

	// Args are the command arguments.
	Args []string

	// Content is the full message text.
	Content string
}

// Result is a skill's output.
type Result struct {
	// Content is the text returned to the user. Empty means nothing to
	// send.
	Content string

	// StopPropagation, when set by a trigger skill, prevents the
	// message from reaching the AI call path.
	StopPropagation bool
}

// Skill is one named handler. Execute must be safe for concurrent calls.
type Skill interface {
	// Name returns the unique skill identifier.
	Name() string

	// Description is a short human-readable summary.
	Description() string

	// Commands lists the slash commands this skill claims (without
	// prefix, e.g. "ping").
	Commands() []string

	// Triggers lists keywords that fire this skill on plain messages.
	Triggers() []string

	// Execute runs the skill.
	Execute(ctx context.Context, sc Context) (Result, error)
}

// Meta describes a registered skill for listings.
type Meta struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Commands    []string `json:"commands,omitempty"`
	Triggers    []string `json:"triggers,omitempty"`
}
