// Package bot assembles the conversational flow: gate evaluation, reply
// generation, checkout issuing and the payment webhook, on top of the
// shared telegram framework.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/charmbot/chat"
	coreconfig "github.com/m3rciful/charmbot/core/config"
	"github.com/m3rciful/charmbot/core/database"
	"github.com/m3rciful/charmbot/core/logger"
	tg "github.com/m3rciful/charmbot/core/telegram"
	"github.com/m3rciful/charmbot/core/telegram/router"
	tgsender "github.com/m3rciful/charmbot/core/telegram/sender"
	"github.com/m3rciful/charmbot/gate"
	"github.com/m3rciful/charmbot/payments"
	"github.com/m3rciful/charmbot/payments/mercadopago"
	"github.com/m3rciful/charmbot/plans"
	"github.com/m3rciful/charmbot/sessions"
)

// App owns every component of the running bot.
type App struct {
	cfg     *coreconfig.Config
	store   sessions.Store
	catalog *plans.Catalog
	gate    *gate.Gate
	issuer  *payments.Issuer
	llm     *chat.Client
	webhook *payments.WebhookServer
	janitor *payments.Janitor

	bot        atomic.Pointer[tele.Bot]
	dispatcher atomic.Pointer[tgsender.Dispatcher]
}

// New builds the application graph from config. With a database configured
// the durable store backs the invariants; otherwise everything lives in
// process memory.
func New(cfg *coreconfig.Config) (*App, error) {
	var store sessions.Store
	if cfg.Database.Enabled() {
		if err := database.RunMigrations(cfg.Database); err != nil {
			return nil, err
		}
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		store = sessions.NewPostgresStore(db, cfg.LLM.WindowSize)
	} else {
		store = sessions.NewMemoryStore(cfg.LLM.WindowSize)
	}

	catalog := buildCatalog(cfg.Plans)
	provider := mercadopago.NewClient(cfg.Payments.BaseURL, cfg.Payments.AccessToken, nil)

	app := &App{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
	}

	app.issuer = payments.NewIssuer(store, provider, catalog, cfg.Payments.Cooldown(), cfg.Payments.NotificationURL)
	reconciler := payments.NewReconciler(store, provider, catalog, payments.NotifierFunc(app.Notify))
	app.webhook = payments.NewWebhookServer(reconciler)
	app.janitor = payments.NewJanitor(store, cfg.Payments.PendingTTL())

	app.gate = gate.New(store, catalog,
		gate.NewClassifier(gate.DefaultEscalationKeywords()),
		gate.NewClassifier(gate.DefaultUpsellKeywords()),
		gate.Config{
			EscalationThreshold: cfg.Gate.EscalationThreshold,
			UpsellBandLow:       cfg.Gate.UpsellBandLow,
			UpsellBandHigh:      cfg.Gate.UpsellBandHigh,
		})

	app.llm = chat.New(chat.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		Temperature:  float64(cfg.LLM.Temperature),
		Persona:      cfg.LLM.Persona,
		MaxReplyRune: cfg.LLM.MaxReplyRunes,
	}, nil)

	return app, nil
}

// buildCatalog converts the configured plans into a catalog, falling back
// to the built-in tiers when the section is absent. The first plan is the
// default unless one is marked explicitly.
func buildCatalog(configured []coreconfig.PlanConfig) *plans.Catalog {
	if len(configured) == 0 {
		return plans.Default()
	}

	var defaultID string
	list := make([]plans.Plan, 0, len(configured))
	for _, pc := range configured {
		var caps plans.Capability
		if pc.Media {
			caps |= plans.CapMedia
		}
		list = append(list, plans.Plan{
			ID:       pc.ID,
			Title:    pc.Title,
			Amount:   pc.Amount,
			Duration: time.Duration(pc.DurationHours) * time.Hour,
			Caps:     caps,
		})
		if pc.Default && defaultID == "" {
			defaultID = pc.ID
		}
	}
	if defaultID == "" {
		defaultID = list[0].ID
	}
	return plans.NewCatalog(defaultID, list...)
}

// Notify pushes text to a session outside the reply cycle, preferring the
// async sender when the bot is running.
func (a *App) Notify(ctx context.Context, sessionID int64, text string) error {
	b := a.bot.Load()
	if b == nil {
		return errors.New("bot: not running")
	}
	rcpt := &tele.User{ID: sessionID}
	if d := a.dispatcher.Load(); d != nil {
		err := d.Enqueue(ctx, "notify", "sendMessage", func() error {
			_, sendErr := b.Send(rcpt, text)
			return sendErr
		})
		if err == nil {
			return nil
		}
	}
	_, err := b.Send(rcpt, text)
	return err
}

// Run starts the Telegram loop, the payment webhook listener and the
// janitor, and blocks until the context is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	reg := a.buildRegistry()

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Telegram.AdminID,
	})
	routes = append(routes, router.TextRoutes(reg, router.TextOptions{
		Media: a.handleMedia,
	})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))

	if err := a.janitor.Start(a.cfg.Payments.JanitorSchedule); err != nil {
		return err
	}
	defer a.janitor.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tg.RunTelegram(gctx, tg.RunOptions{
			Config:      a.cfg,
			Registry:    reg,
			Middlewares: tg.DefaultMiddlewares(a.cfg, nil),
			Routes:      routes,
			OnStart: func(_ context.Context, rt tg.Runtime) error {
				a.bot.Store(rt.Bot)
				a.dispatcher.Store(rt.Dispatcher)
				logger.L.Info("bot ready",
					slog.String("component", "app"),
					slog.String("event", "start"),
					slog.String("mode", a.cfg.Telegram.RunMode),
				)
				return nil
			},
			OnStop: func(context.Context, tg.Runtime) error {
				a.bot.Store(nil)
				a.dispatcher.Store(nil)
				return nil
			},
		})
	})

	g.Go(func() error {
		return a.webhook.Listen(a.cfg.Payments.WebhookListen)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.webhook.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
