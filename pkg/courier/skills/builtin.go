package skills

import (
	"context"
	"fmt"
	"strings"
)

// PingSkill answers /ping with a liveness reply.
type PingSkill struct{}

func (PingSkill) Name() string        { return "ping" }
func (PingSkill) Description() string { return "Replies with pong to confirm the bot is alive." }
func (PingSkill) Commands() []string  { return []string{"ping"} }
func (PingSkill) Triggers() []string  { return nil }

func (PingSkill) Execute(_ context.Context, _ Context) (Result, error) {
	return Result{Content: "pong 🏓"}, nil
}

// HelpSkill answers /help with the list of registered skills.
type HelpSkill struct {
	Registry *Registry
}

func (HelpSkill) Name() string        { return "help" }
func (HelpSkill) Description() string { return "Lists available commands." }
func (HelpSkill) Commands() []string  { return []string{"help"} }
func (HelpSkill) Triggers() []string  { return nil }

func (h HelpSkill) Execute(_ context.Context, _ Context) (Result, error) {
	if h.Registry == nil {
		return Result{Content: "No skills registered."}, nil
	}
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, meta := range h.Registry.List() {
		for _, cmd := range meta.Commands {
			fmt.Fprintf(&b, "/%s — %s\n", cmd, meta.Description)
		}
	}
	return Result{Content: strings.TrimRight(b.String(), "\n")}, nil
}
