// Package assistant wires the Courier core together: event bus, session
// store, provider failover, channel router, skill registry, and scheduler.
// The gateway drives everything through this type.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/courierbot/courier/pkg/courier/channels"
	"github.com/courierbot/courier/pkg/courier/config"
	"github.com/courierbot/courier/pkg/courier/events"
	"github.com/courierbot/courier/pkg/courier/failover"
	"github.com/courierbot/courier/pkg/courier/llm"
	"github.com/courierbot/courier/pkg/courier/scheduler"
	"github.com/courierbot/courier/pkg/courier/session"
	"github.com/courierbot/courier/pkg/courier/skills"
)

// Assistant is the composition root for the Courier core.
type Assistant struct {
	cfg       *config.Config
	bus       *events.Bus
	store     *session.Store
	failover  *failover.Manager
	providers *llm.Registry
	router    *channels.Router
	skills    *skills.Registry
	sched     *scheduler.Scheduler
	persist   *session.SQLiteStore
	schedDB   *scheduler.Storage
	logger    *slog.Logger
	startedAt time.Time
}

// New builds the full core from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bus := events.NewBus()

	var persist *session.SQLiteStore
	if cfg.Session.StorePath != "" {
		var err error
		persist, err = session.OpenSQLite(cfg.Session.StorePath)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
	}

	defaults := session.Context{
		Model:        cfg.Defaults.Model,
		MaxTokens:    cfg.Defaults.MaxTokens,
		SystemPrompt: cfg.Defaults.SystemPrompt,
	}
	if cfg.Defaults.Temperature != nil {
		defaults.Temperature = *cfg.Defaults.Temperature
	}
	store := session.NewStore(session.StoreConfig{
		DefaultContext: defaults,
		Persist:        persist,
	}, bus, logger)

	reg := skills.NewRegistry(bus, logger)
	reg.Register(skills.PingSkill{})
	reg.Register(skills.HelpSkill{Registry: reg})

	router := channels.NewRouter(store, reg, bus, logger)

	a := &Assistant{
		cfg:       cfg,
		bus:       bus,
		store:     store,
		failover:  failover.NewManager(cfg.ProviderNames(), cfg.Failover, bus, logger),
		providers: llm.NewRegistry(cfg.Providers, logger),
		router:    router,
		skills:    reg,
		persist:   persist,
		logger:    logger.With("component", "assistant"),
		startedAt: time.Now(),
	}
	router.SetResponder(a.Respond)

	if cfg.Scheduler.Enabled {
		var schedDB *scheduler.Storage
		if cfg.Scheduler.StorePath != "" {
			var err error
			schedDB, err = scheduler.OpenStorage(cfg.Scheduler.StorePath)
			if err != nil {
				return nil, fmt.Errorf("opening scheduler store: %w", err)
			}
		}
		a.schedDB = schedDB
		a.sched = scheduler.New(schedDB, a.runScheduledJob, a.deliverScheduled, bus, logger)
	}

	return a, nil
}

// Start begins background work: the session sweep, channel adapters, and
// the scheduler.
func (a *Assistant) Start(ctx context.Context) error {
	a.store.StartSweep(ctx)
	a.router.StartAll(ctx)
	if a.sched != nil {
		if err := a.sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}
	a.logger.Info("assistant started", "providers", a.cfg.ProviderNames())
	return nil
}

// Shutdown stops background work and closes stores.
func (a *Assistant) Shutdown() {
	a.logger.Info("assistant shutting down")
	if a.sched != nil {
		a.sched.Stop()
	}
	a.router.StopAll()
	if a.schedDB != nil {
		a.schedDB.Close()
	}
	if a.persist != nil {
		a.persist.Close()
	}
}

// Respond is the AI call path: append the user turn, run the provider
// call under failover with the session's context, append the assistant
// turn, and return the reply text.
func (a *Assistant) Respond(ctx context.Context, sess *session.Session, content string) (string, error) {
	a.store.AddMessage(sess.Key, session.RoleUser, content)

	sctx := sess.Context()
	history := buildHistory(sctx, sess.History())
	opts := llm.Options{
		Model:       sctx.Model,
		Temperature: sctx.Temperature,
		MaxTokens:   sctx.MaxTokens,
	}

	var resp *llm.Response
	_, err := a.failover.Execute(ctx, func(ctx context.Context, provider string) error {
		client, ok := a.providers.Client(provider)
		if !ok {
			return fmt.Errorf("no client for provider %q", provider)
		}
		r, err := client.Chat(ctx, history, opts)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, failover.ExecuteOptions{})
	if err != nil {
		return "", err
	}

	a.store.AddMessage(sess.Key, session.RoleAssistant, resp.Content)

	// Long histories are condensed in the background; Compact no-ops
	// below its threshold and never surfaces summarizer failures.
	go a.store.Compact(context.Background(), sess.Key, a.Summarize)

	return resp.Content, nil
}

// Agent runs one message through the full routing pipeline (commands,
// triggers, AI path) on behalf of a gateway client.
func (a *Assistant) Agent(ctx context.Context, kind channels.Kind, conversationID, userID, message string) (string, error) {
	if !kind.Valid() {
		kind = channels.KindWebchat
	}
	return a.router.RouteIncoming(ctx, channels.IncomingMessage{
		Kind:           kind,
		From:           userID,
		ConversationID: conversationID,
		Content:        message,
		Timestamp:      time.Now(),
	})
}

// Summarize condenses dropped messages for session compaction using the
// failover-wrapped provider call.
func (a *Assistant) Summarize(ctx context.Context, dropped []session.Message) (string, error) {
	history := make([]llm.Message, 0, len(dropped)+1)
	history = append(history, llm.Message{
		Role:    "system",
		Content: "Summarize the following conversation in a short paragraph. Keep facts, names, and decisions.",
	})
	for _, m := range dropped {
		history = append(history, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	var resp *llm.Response
	_, err := a.failover.Execute(ctx, func(ctx context.Context, provider string) error {
		client, ok := a.providers.Client(provider)
		if !ok {
			return fmt.Errorf("no client for provider %q", provider)
		}
		r, err := client.Chat(ctx, history, llm.Options{Model: a.cfg.Defaults.Model})
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, failover.ExecuteOptions{})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// runScheduledJob routes a job's prompt through the pipeline using a
// synthetic identity for the job.
func (a *Assistant) runScheduledJob(ctx context.Context, job scheduler.Job) (string, error) {
	kind := channels.Kind(job.Kind)
	if !kind.Valid() {
		kind = channels.KindWebchat
	}
	return a.Agent(ctx, kind, job.Target, "scheduler:"+job.ID, job.Prompt)
}

// deliverScheduled sends a job result through the router.
func (a *Assistant) deliverScheduled(ctx context.Context, kind, target, content string) error {
	return a.router.Send(ctx, channels.Kind(kind), target, content)
}

// buildHistory converts session history to provider wire order, with the
// session's system prompt first.
func buildHistory(sctx session.Context, msgs []session.Message) []llm.Message {
	history := make([]llm.Message, 0, len(msgs)+1)
	if sctx.SystemPrompt != "" {
		history = append(history, llm.Message{Role: "system", Content: sctx.SystemPrompt})
	}
	for _, m := range msgs {
		history = append(history, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return history
}

// Accessors used by the gateway and CLI.

func (a *Assistant) Config() *config.Config { return a.cfg }

func (a *Assistant) Bus() *events.Bus { return a.bus }

func (a *Assistant) Sessions() *session.Store { return a.store }

func (a *Assistant) Router() *channels.Router { return a.router }

func (a *Assistant) Skills() *skills.Registry { return a.skills }

func (a *Assistant) Failover() *failover.Manager { return a.failover }

func (a *Assistant) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *Assistant) StartedAt() time.Time { return a.startedAt }
