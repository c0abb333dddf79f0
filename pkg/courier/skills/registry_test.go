package skills

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/courierbot/courier/pkg/courier/events"
)

// scriptedSkill is a configurable skill for registry tests.
type scriptedSkill struct {
	name     string
	commands []string
	triggers []string
	result   Result
	err      error
	panics   bool
}

func (s scriptedSkill) Name() string        { return s.name }
func (s scriptedSkill) Description() string { return "scripted" }
func (s scriptedSkill) Commands() []string  { return s.commands }
func (s scriptedSkill) Triggers() []string  { return s.triggers }

func (s scriptedSkill) Execute(context.Context, Context) (Result, error) {
	if s.panics {
		panic("boom")
	}
	return s.result, s.err
}

func TestHandleCommandCaseInsensitive(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, nil)
	r.Register(scriptedSkill{name: "echo", commands: []string{"Echo"}, result: Result{Content: "hi"}})

	for _, cmd := range []string{"echo", "ECHO", "Echo"} {
		result, claimed := r.HandleCommand(context.Background(), cmd, nil, Context{})
		if !claimed {
			t.Errorf("HandleCommand(%q) not claimed", cmd)
		}
		if result.Content != "hi" {
			t.Errorf("HandleCommand(%q) = %q, want %q", cmd, result.Content, "hi")
		}
	}
}

func TestHandleCommandUnknown(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, nil)
	if _, claimed := r.HandleCommand(context.Background(), "nope", nil, Context{}); claimed {
		t.Error("unknown command was claimed")
	}
}

func TestHandleTriggersSubstringMatch(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, nil)
	r.Register(scriptedSkill{
		name:     "weather",
		triggers: []string{"weather"},
		result:   Result{Content: "sunny", StopPropagation: true},
	})

	result, stopped := r.HandleTriggers(context.Background(), Context{Content: "How's the WEATHER today?"})
	if !stopped {
		t.Fatal("trigger did not fire on substring match")
	}
	if result.Content != "sunny" {
		t.Errorf("result = %q, want %q", result.Content, "sunny")
	}

	if _, stopped := r.HandleTriggers(context.Background(), Context{Content: "hello"}); stopped {
		t.Error("trigger fired without its keyword")
	}
}

func TestHandleTriggersWithoutStopPropagation(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, nil)
	r.Register(scriptedSkill{
		name:     "observer",
		triggers: []string{"note"},
		result:   Result{Content: "observed"},
	})

	// A trigger that does not stop propagation lets the message continue.
	if _, stopped := r.HandleTriggers(context.Background(), Context{Content: "note this"}); stopped {
		t.Error("non-stopping trigger halted propagation")
	}
}

func TestSkillErrorBecomesUserMessage(t *testing.T) {
	t.Parallel()
	bus := events.NewBus()
	r := NewRegistry(bus, nil)
	r.Register(scriptedSkill{name: "flaky", commands: []string{"flaky"}, err: errors.New("api quota: key sk-123")})

	var errorEvents int
	bus.SubscribeNamed(events.SkillError, func(events.Event) { errorEvents++ })

	result, claimed := r.HandleCommand(context.Background(), "flaky", nil, Context{})
	if !claimed {
		t.Fatal("command not claimed")
	}
	if strings.Contains(result.Content, "sk-123") {
		t.Errorf("internal error leaked to user: %q", result.Content)
	}
	if !strings.Contains(result.Content, "flaky") || !strings.Contains(result.Content, "failed") {
		t.Errorf("result = %q, want a user-facing failure mentioning the skill", result.Content)
	}
	if errorEvents != 1 {
		t.Errorf("skill error events = %d, want 1", errorEvents)
	}
}

func TestSkillPanicRecovered(t *testing.T) {
	t.Parallel()
	r := NewRegistry(events.NewBus(), nil)
	r.Register(scriptedSkill{name: "bomb", commands: []string{"bomb"}, panics: true})

	result, claimed := r.HandleCommand(context.Background(), "bomb", nil, Context{})
	if !claimed {
		t.Fatal("command not claimed")
	}
	if !strings.Contains(result.Content, "failed") {
		t.Errorf("result = %q, want a failure message", result.Content)
	}
}

func TestInvokeUnknownSkill(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, nil)
	if _, err := r.Invoke(context.Background(), "ghost", nil, Context{}); err == nil {
		t.Error("Invoke of unknown skill returned nil error")
	}
}

func TestRegisterLastWins(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, nil)
	r.Register(scriptedSkill{name: "dup", commands: []string{"dup"}, result: Result{Content: "first"}})
	r.Register(scriptedSkill{name: "dup", commands: []string{"dup"}, result: Result{Content: "second"}})

	result, _ := r.HandleCommand(context.Background(), "dup", nil, Context{})
	if result.Content != "second" {
		t.Errorf("result = %q, want the later registration", result.Content)
	}
	if len(r.List()) != 1 {
		t.Errorf("List length = %d, want 1", len(r.List()))
	}
}

func TestHelpListsCommands(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, nil)
	r.Register(PingSkill{})
	r.Register(HelpSkill{Registry: r})

	result, claimed := r.HandleCommand(context.Background(), "help", nil, Context{})
	if !claimed {
		t.Fatal("/help not claimed")
	}
	if !strings.Contains(result.Content, "/ping") || !strings.Contains(result.Content, "/help") {
		t.Errorf("help output missing commands: %q", result.Content)
	}
}
