package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/courierbot/courier/pkg/courier/events"
)

// Registry holds registered skills and resolves commands and triggers.
type Registry struct {
	skills    []Skill // registration order, used for trigger matching
	byName    map[string]Skill
	byCommand map[string]Skill
	bus       *events.Bus
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewRegistry creates an empty skill registry.
func NewRegistry(bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName:    make(map[string]Skill),
		byCommand: make(map[string]Skill),
		bus:       bus,
		logger:    logger.With("component", "skills"),
	}
}

// Register adds a skill. A command already claimed by an earlier skill is
// taken over by the later registration.
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[s.Name()]; !exists {
		r.skills = append(r.skills, s)
	} else {
		for i, existing := range r.skills {
			if existing.Name() == s.Name() {
				r.skills[i] = s
				break
			}
		}
	}
	r.byName[s.Name()] = s
	for _, cmd := range s.Commands() {
		r.byCommand[strings.ToLower(cmd)] = s
	}
	r.logger.Info("skill registered", "skill", s.Name(), "commands", s.Commands())
}

// List returns metadata for every registered skill.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, Meta{
			Name:        s.Name(),
			Description: s.Description(),
			Commands:    s.Commands(),
			Triggers:    s.Triggers(),
		})
	}
	return out
}

// HandleCommand offers a parsed command to the registry. The boolean
// reports whether a skill claimed it.
func (r *Registry) HandleCommand(ctx context.Context, command string, args []string, sc Context) (Result, bool) {
	r.mu.RLock()
	s, ok := r.byCommand[strings.ToLower(command)]
	r.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	sc.Command = command
	sc.Args = args
	return r.execute(ctx, s, sc), true
}

// HandleTriggers offers a plain message to every trigger skill in
// registration order. The boolean reports whether a skill fired with
// stop-propagation, which skips the AI call path.
func (r *Registry) HandleTriggers(ctx context.Context, sc Context) (Result, bool) {
	r.mu.RLock()
	candidates := make([]Skill, len(r.skills))
	copy(candidates, r.skills)
	r.mu.RUnlock()

	lower := strings.ToLower(sc.Content)
	for _, s := range candidates {
		for _, trigger := range s.Triggers() {
			if trigger == "" || !strings.Contains(lower, strings.ToLower(trigger)) {
				continue
			}
			result := r.execute(ctx, s, sc)
			if result.StopPropagation {
				return result, true
			}
		}
	}
	return Result{}, false
}

// Invoke runs a skill by name with raw arguments (gateway skill.invoke).
func (r *Registry) Invoke(ctx context.Context, name string, args []string, sc Context) (Result, error) {
	r.mu.RLock()
	s, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown skill: %s", name)
	}
	sc.Args = args
	return r.execute(ctx, s, sc), nil
}

// execute runs one skill, converting any error or panic into a
// user-visible failure message. Skill failures never abort the router.
func (r *Registry) execute(ctx context.Context, s Skill, sc Context) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("skill panicked", "skill", s.Name(), "panic", rec)
			r.emitError(s.Name(), fmt.Sprintf("panic: %v", rec))
			result = Result{Content: fmt.Sprintf("❌ Skill %s failed.", s.Name())}
		}
	}()

	result, err := s.Execute(ctx, sc)
	if err != nil {
		r.logger.Error("skill failed", "skill", s.Name(), "error", err)
		r.emitError(s.Name(), err.Error())
		return Result{Content: fmt.Sprintf("❌ Skill %s failed.", s.Name())}
	}
	return result
}

func (r *Registry) emitError(skill, msg string) {
	if r.bus != nil {
		r.bus.Emit(events.SkillError, map[string]string{
			"skill": skill,
			"error": msg,
		})
	}
}
