// Package app wires the clawbot components together: database, stores,
// skills, router, scheduler and chat channels. Commands build one App and
// either Run it as a service or drive its router directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/clawbot/pkg/clawbot/channels"
	"github.com/jholhewres/clawbot/pkg/clawbot/channels/discord"
	"github.com/jholhewres/clawbot/pkg/clawbot/channels/telegram"
	"github.com/jholhewres/clawbot/pkg/clawbot/channels/whatsapp"
	"github.com/jholhewres/clawbot/pkg/clawbot/config"
	"github.com/jholhewres/clawbot/pkg/clawbot/database"
	"github.com/jholhewres/clawbot/pkg/clawbot/email"
	"github.com/jholhewres/clawbot/pkg/clawbot/llm"
	"github.com/jholhewres/clawbot/pkg/clawbot/nlu"
	"github.com/jholhewres/clawbot/pkg/clawbot/patterns"
	"github.com/jholhewres/clawbot/pkg/clawbot/router"
	"github.com/jholhewres/clawbot/pkg/clawbot/sandbox"
	"github.com/jholhewres/clawbot/pkg/clawbot/scheduler"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills/builtin"
	"github.com/jholhewres/clawbot/pkg/clawbot/store"
)

// Options adjust how New assembles the app.
type Options struct {
	// AI replaces the backend built from config. Tests inject fakes here.
	AI llm.Client

	// Channels replaces the transports built from config. A non-nil empty
	// slice runs without transports.
	Channels []channels.Channel

	// OnWhatsAppQR receives pairing codes for the WhatsApp channel.
	OnWhatsAppQR func(code string)
}

// App holds every long-lived component.
type App struct {
	Config   *config.Config
	DB       *database.DB
	Store    *store.Store
	Patterns *patterns.Store
	Jobs     *scheduler.Scheduler
	Registry *skills.Registry
	Router   *router.Router
	Channels *channels.Manager
	AI       llm.Client
	NLU      *nlu.Matcher

	logger   *slog.Logger
	inflight sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool
}

// New opens the database and builds every component. Nothing connects or
// starts until Run.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		JournalMode: cfg.Database.JournalMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		DB:       db,
		Store:    store.New(db.DB, logger),
		Patterns: patterns.NewStore(db.DB, logger),
		Channels: channels.NewManager(logger),
		logger:   logger.With("component", "app"),
	}
	if err := a.build(opts, logger); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(opts Options, logger *slog.Logger) error {
	cfg := a.Config

	a.AI = opts.AI
	if a.AI == nil {
		client, err := llm.New(cfg.AI, logger)
		if err != nil {
			// Chat and AI-backed skills apologise instead of failing startup.
			a.logger.Warn("AI backend unavailable", "backend", cfg.AI.Backend, "error", err)
		} else {
			a.AI = client
		}
	}

	mail := email.NewClient(email.Config{
		Address:     cfg.Email.Address,
		AppPassword: cfg.Email.AppPassword,
		IMAPHost:    cfg.Email.IMAPHost,
		Limit:       cfg.Email.Limit,
		Timeout:     cfg.Email.Timeout,
	}, logger)
	commands := sandbox.NewRunner(sandbox.Config{
		Timeout:     cfg.Scheduler.CommandTimeout,
		OutputLimit: cfg.Scheduler.OutputLimit,
	}, logger)

	executor := scheduler.NewExecutor(scheduler.ExecutorConfig{
		CommandTimeout: cfg.Scheduler.CommandTimeout,
		OutputLimit:    cfg.Scheduler.OutputLimit,
		DefaultUserID:  cfg.Scheduler.NotifyUserID,
	}, logger)
	executor.Notifier = a.Channels
	executor.Email = mail
	executor.Commands = commands
	executor.Reports = a.Store
	for _, p := range a.Store.Purgers() {
		executor.Cleaners = append(executor.Cleaners, p)
	}
	a.Jobs = scheduler.New(scheduler.NewStore(a.DB.DB), executor, scheduler.Config{
		TickInterval:  cfg.Scheduler.TickInterval,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		JobTimeout:    cfg.Scheduler.JobTimeout,
	}, logger)

	descriptors, err := a.descriptors()
	if err != nil {
		return err
	}
	deps := builtin.Deps{
		Store:          a.Store,
		Patterns:       a.Patterns,
		Jobs:           a.Jobs,
		Mail:           mail,
		Commands:       commands,
		CommandTimeout: cfg.Scheduler.CommandTimeout,
		OutputLimit:    cfg.Scheduler.OutputLimit,
		Weather:        cfg.Weather,
		BotName:        cfg.Name,
		IdentityFile:   cfg.IdentityFile,
		Descriptors:    descriptors,
		AIBackend:      cfg.AI.Backend,
		DatabasePath:   cfg.Database.Path,
		StartedAt:      time.Now(),
		Logger:         logger,
	}
	if a.AI != nil {
		deps.AI = a.AI
		deps.AIModel = cfg.AI.Ollama.Model
		if cfg.AI.Backend == "openai" {
			deps.AIModel = cfg.AI.OpenAI.Model
		}
	}
	a.Registry, err = skills.Load(descriptors, builtin.Factories(deps), logger)
	if err != nil {
		return fmt.Errorf("loading skills: %w", err)
	}

	routerDeps := router.Deps{
		Registry: a.Registry,
		Patterns: a.Patterns,
		History:  a.Store,
		Persona: func() string {
			return builtin.LoadProfile(cfg.IdentityFile, cfg.Name).SystemPrompt()
		},
	}
	if a.AI != nil {
		routerDeps.AI = a.AI
		if cfg.NLU.Enabled {
			a.NLU = nlu.New(a.AI, nlu.Config{
				MinConfidence: cfg.NLU.MinConfidence,
				Examples: nlu.FilterExamples(nlu.DefaultExamples, func(intent string) bool {
					_, ok := a.Registry.Get(intent)
					return ok
				}),
			}, logger)
			routerDeps.Semantic = a.NLU
		}
	}
	a.Router, err = router.New(cfg.Router, cfg.Access, routerDeps, logger)
	if err != nil {
		return err
	}

	transports := opts.Channels
	if transports == nil {
		transports = a.transports(opts, logger)
	}
	for _, ch := range transports {
		if err := a.Channels.Register(ch); err != nil {
			return err
		}
	}
	return nil
}

// descriptors merges the configured skill list with any descriptor files.
func (a *App) descriptors() ([]skills.Descriptor, error) {
	base := a.Config.Skills.Descriptors
	if len(base) == 0 {
		base = skills.DefaultDescriptors()
	}
	extra, err := skills.LoadDescriptorDir(a.Config.Skills.Dir)
	if err != nil {
		return nil, err
	}
	return skills.Merge(base, extra), nil
}

// transports builds the channels that have credentials configured.
func (a *App) transports(opts Options, logger *slog.Logger) []channels.Channel {
	cfg := a.Config.Channels
	var out []channels.Channel
	if cfg.Telegram.Token != "" {
		out = append(out, telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			AllowedChats: cfg.Telegram.AllowedChats,
		}, logger))
	}
	if cfg.Discord.Token != "" {
		out = append(out, discord.New(discord.Config{
			Token:           cfg.Discord.Token,
			AllowedChannels: cfg.Discord.AllowedChannels,
		}, logger))
	}
	if cfg.WhatsApp.Enabled {
		out = append(out, whatsapp.New(whatsapp.Config{
			SessionPath: cfg.WhatsApp.SessionPath,
			OnQR:        opts.OnWhatsAppQR,
		}, logger))
	}
	return out
}

// Run connects the channels and serves until ctx is cancelled. The
// scheduler, the channel manager and the message loop share one errgroup:
// the first to fail stops the others.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := a.Channels.Start(gctx); err != nil {
		a.Channels.Stop()
		return fmt.Errorf("starting channels: %w", err)
	}
	if len(a.Channels.Names()) > 0 && a.Config.Scheduler.NotifyUserID == "" {
		a.logger.Info("scheduler.notify_user_id not set, ownerless job output will be dropped")
	}

	if a.NLU != nil {
		g.Go(func() error {
			if err := a.NLU.Prepare(gctx); err != nil && gctx.Err() == nil {
				a.logger.Warn("semantic matcher not ready, will retry on first use", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return a.Jobs.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Channels.Stop()
		return nil
	})
	g.Go(func() error {
		a.serveMessages(gctx)
		return nil
	})

	a.logger.Info("clawbot running", "name", a.Config.Name, "channels", a.Channels.Names(), "skills", a.Registry.Slugs())
	err := g.Wait()
	a.inflight.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMessages answers inbound messages until the merged stream closes.
// Each message is handled on its own goroutine so a slow skill or AI call
// never blocks other users.
func (a *App) serveMessages(ctx context.Context) {
	for msg := range a.Channels.Messages() {
		a.inflight.Add(1)
		go func(msg *channels.IncomingMessage) {
			defer a.inflight.Done()
			a.HandleMessage(ctx, msg)
		}(msg)
	}
}

// HandleMessage routes one inbound message and replies in the same chat.
func (a *App) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	resp := a.Router.Route(ctx, skills.Message{
		Platform: msg.Channel,
		UserID:   msg.UserID(),
		UserName: msg.FromName,
		Text:     msg.Content,
	})
	if resp.Text == "" {
		return
	}
	// The reply outlives a shutdown that lands mid-route.
	sendCtx := context.WithoutCancel(ctx)
	if err := a.Channels.Send(sendCtx, msg.Channel, msg.ChatID, resp.Text); err != nil {
		a.logger.Error("failed to send reply", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}

// Ask routes text as userID outside any channel. The chat REPL uses it.
func (a *App) Ask(ctx context.Context, userID, userName, text string) router.Response {
	platform, _, err := channels.SplitRecipient(userID)
	if err != nil {
		platform = "cli"
	}
	return a.Router.Route(ctx, skills.Message{
		Platform: platform,
		UserID:   userID,
		UserName: userName,
		Text:     text,
	})
}

// Close flushes pending learning, releases skills and closes the database.
func (a *App) Close() error {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	if a.Router != nil {
		a.Router.Close()
	}
	var errs []error
	if a.Registry != nil {
		if err := a.Registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}

var (
	_ scheduler.Notifier       = (*channels.Manager)(nil)
	_ scheduler.ReportRenderer = (*store.Store)(nil)
	_ router.History           = (*store.Store)(nil)
	_ router.SemanticMatcher   = (*nlu.Matcher)(nil)
)
