package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/courierbot/courier/pkg/courier/events"
	"github.com/courierbot/courier/pkg/courier/session"
	"github.com/courierbot/courier/pkg/courier/skills"
)

// CommandPrefix marks a message as a slash command.
const CommandPrefix = "/"

// apologyReply is what the user sees when the AI call path fails. The raw
// error never reaches the channel adapter.
const apologyReply = "Sorry, I'm having trouble responding right now. Please try again in a moment. 🙏"

// Responder is the AI call path: it appends the user turn, runs the
// provider call under failover, appends the assistant turn, and returns
// the reply text. Injected by the assistant.
type Responder func(ctx context.Context, sess *session.Session, content string) (string, error)

// Router maintains the active set of channel adapters and is the single
// chokepoint for inbound and outbound messages.
type Router struct {
	channels map[Kind]Channel
	store    *session.Store
	skills   *skills.Registry
	respond  Responder
	bus      *events.Bus
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRouter creates a router. respond may be nil until SetResponder is
// called (messages then get the apology reply).
func NewRouter(store *session.Store, reg *skills.Registry, bus *events.Bus, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		channels: make(map[Kind]Channel),
		store:    store,
		skills:   reg,
		bus:      bus,
		logger:   logger.With("component", "router"),
	}
}

// SetResponder installs the AI call path.
func (r *Router) SetResponder(fn Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.respond = fn
}

// Register adds an adapter. A later registration for the same kind
// replaces the earlier one.
func (r *Router) Register(ch Channel) {
	r.mu.Lock()
	if _, replaced := r.channels[ch.Kind()]; replaced {
		r.logger.Warn("replacing registered channel", "kind", ch.Kind())
	}
	r.channels[ch.Kind()] = ch
	r.mu.Unlock()
	r.logger.Info("channel registered", "kind", ch.Kind())
}

// Unregister removes the adapter for a kind. Unregistering an unknown
// kind is a no-op.
func (r *Router) Unregister(kind Kind) {
	r.mu.Lock()
	_, existed := r.channels[kind]
	delete(r.channels, kind)
	r.mu.Unlock()
	if existed {
		r.logger.Info("channel unregistered", "kind", kind)
	}
}

// Channel returns the adapter for a kind.
func (r *Router) Channel(kind Kind) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[kind]
	return ch, ok
}

// List returns the registered kinds.
func (r *Router) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.channels))
	for k := range r.channels {
		kinds = append(kinds, k)
	}
	return kinds
}

// Statuses returns each registered adapter's self-reported health.
func (r *Router) Statuses() map[Kind]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Kind]Status, len(r.channels))
	for kind, ch := range r.channels {
		out[kind] = ch.Status()
	}
	return out
}

// StartAll starts every registered adapter concurrently. A failing or
// panicking adapter is logged and reported via an event; it never blocks
// the others.
func (r *Router) StartAll(ctx context.Context) {
	r.forEach(func(kind Kind, ch Channel) {
		if err := ch.Start(ctx); err != nil {
			r.logger.Error("channel start failed", "kind", kind, "error", err)
			r.emitChannelError(kind, err)
			return
		}
		r.logger.Info("channel started", "kind", kind)
		if r.bus != nil {
			r.bus.Emit(events.ChannelConnected, map[string]any{"kind": kind})
		}
	})
}

// StopAll stops every registered adapter concurrently with the same
// per-adapter failure isolation as StartAll.
func (r *Router) StopAll() {
	r.forEach(func(kind Kind, ch Channel) {
		if err := ch.Stop(); err != nil {
			r.logger.Error("channel stop failed", "kind", kind, "error", err)
			r.emitChannelError(kind, err)
			return
		}
		r.logger.Info("channel stopped", "kind", kind)
		if r.bus != nil {
			r.bus.Emit(events.ChannelDisconnected, map[string]any{"kind": kind})
		}
	})
}

// forEach fans out over a snapshot of the registry, waiting for all tasks
// and recovering per-adapter panics.
func (r *Router) forEach(fn func(Kind, Channel)) {
	r.mu.RLock()
	snapshot := make(map[Kind]Channel, len(r.channels))
	for k, ch := range r.channels {
		snapshot[k] = ch
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for kind, ch := range snapshot {
		wg.Add(1)
		go func(kind Kind, ch Channel) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("channel adapter panicked", "kind", kind, "panic", rec)
				}
			}()
			fn(kind, ch)
		}(kind, ch)
	}
	wg.Wait()
}

// RouteIncoming dispatches one inbound message: slash commands go to the
// skill layer, trigger skills may claim the message, everything else goes
// to the AI call path with the session's context. The returned text is
// what the adapter should send back; on AI failure it is a user-facing
// apology, never the raw error.
func (r *Router) RouteIncoming(ctx context.Context, msg IncomingMessage) (string, error) {
	if !msg.Kind.Valid() {
		return "", fmt.Errorf("invalid channel kind: %q", msg.Kind)
	}
	if r.bus != nil {
		r.bus.Emit(events.MessageReceived, map[string]any{
			"kind":         msg.Kind,
			"conversation": msg.ConversationID,
			"from":         msg.From,
		})
	}

	sess := r.store.GetOrCreate(string(msg.Kind), msg.ConversationID, msg.From)
	sc := skills.Context{
		Kind:           string(msg.Kind),
		ConversationID: msg.ConversationID,
		UserID:         msg.From,
		Content:        msg.Content,
	}

	// Slash command: the skill layer gets first claim.
	if strings.HasPrefix(msg.Content, CommandPrefix) {
		fields := strings.Fields(strings.TrimPrefix(msg.Content, CommandPrefix))
		if len(fields) > 0 {
			if result, claimed := r.skills.HandleCommand(ctx, fields[0], fields[1:], sc); claimed {
				r.emitSent(msg, result.Content)
				return result.Content, nil
			}
		}
	}

	// Trigger skills: one signalling stop-propagation short-circuits
	// the AI path.
	if result, stopped := r.skills.HandleTriggers(ctx, sc); stopped {
		r.emitSent(msg, result.Content)
		return result.Content, nil
	}

	respond := r.responder()
	if respond == nil {
		r.logger.Error("no responder configured", "kind", msg.Kind)
		return apologyReply, nil
	}

	reply, err := respond(ctx, sess, msg.Content)
	if err != nil {
		r.logger.Error("AI call path failed", "kind", msg.Kind, "conversation", msg.ConversationID, "error", err)
		return apologyReply, nil
	}
	r.emitSent(msg, reply)
	return reply, nil
}

func (r *Router) responder() Responder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.respond
}

func (r *Router) emitSent(msg IncomingMessage, content string) {
	if r.bus != nil {
		r.bus.Emit(events.MessageSent, map[string]any{
			"kind":         msg.Kind,
			"conversation": msg.ConversationID,
			"length":       len(content),
		})
	}
}

func (r *Router) emitChannelError(kind Kind, err error) {
	if r.bus != nil {
		r.bus.Emit(events.ChannelError, map[string]any{
			"kind":  kind,
			"error": err.Error(),
		})
	}
}

// Send delivers content through the adapter for a kind. It fails when the
// kind has no registered, ready adapter.
func (r *Router) Send(ctx context.Context, kind Kind, target, content string) error {
	ch, ok := r.Channel(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotRegistered, kind)
	}
	if !ch.Ready() {
		return fmt.Errorf("%w: %s", ErrChannelNotReady, kind)
	}
	if err := ch.Send(ctx, target, content); err != nil {
		r.emitChannelError(kind, err)
		return fmt.Errorf("send via %s: %w", kind, err)
	}
	if r.bus != nil {
		r.bus.Emit(events.MessageSent, map[string]any{
			"kind":   kind,
			"target": target,
			"length": len(content),
		})
	}
	return nil
}

// Broadcast fans content out to every listed target per kind,
// concurrently, with per-target failure isolation. Failures are logged
// and reported via events; the first error is returned after all sends
// complete.
func (r *Router) Broadcast(ctx context.Context, content string, targets map[Kind][]string) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for kind, list := range targets {
		for _, target := range list {
			wg.Add(1)
			go func(kind Kind, target string) {
				defer wg.Done()
				if err := r.Send(ctx, kind, target, content); err != nil {
					r.logger.Error("broadcast send failed", "kind", kind, "target", target, "error", err)
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}(kind, target)
		}
	}
	wg.Wait()
	return firstErr
}

// StartTyping shows a typing indicator when the adapter supports it.
// Unsupported or missing adapters make this a no-op.
func (r *Router) StartTyping(ctx context.Context, kind Kind, target string) {
	ch, ok := r.Channel(kind)
	if !ok || !ch.Ready() {
		return
	}
	tc, ok := ch.(TypingChannel)
	if !ok {
		return
	}
	if err := tc.StartTyping(ctx, target); err != nil {
		r.logger.Debug("start typing failed", "kind", kind, "error", err)
	}
}

// StopTyping clears a typing indicator. Calling it with no indicator
// shown, or for an unregistered kind, is a no-op.
func (r *Router) StopTyping(ctx context.Context, kind Kind, target string) {
	ch, ok := r.Channel(kind)
	if !ok {
		return
	}
	tc, ok := ch.(TypingChannel)
	if !ok {
		return
	}
	if err := tc.StopTyping(ctx, target); err != nil {
		r.logger.Debug("stop typing failed", "kind", kind, "error", err)
	}
}
