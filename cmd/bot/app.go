package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hray3182/topicmate/internal/bot"
	"github.com/hray3182/topicmate/internal/bot/handlers"
	"github.com/hray3182/topicmate/internal/config"
	"github.com/hray3182/topicmate/internal/database"
	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/queue"
	"github.com/hray3182/topicmate/internal/reminder"
	"github.com/hray3182/topicmate/internal/repository"
	"github.com/hray3182/topicmate/internal/repository/memory"
	"github.com/hray3182/topicmate/internal/scheduler"
	"github.com/hray3182/topicmate/internal/server"
	"github.com/hray3182/topicmate/internal/summary"
	"github.com/hray3182/topicmate/internal/telegram"
	"github.com/hray3182/topicmate/internal/tools"
)

const (
	queuePrefix     = "topicmate:"
	shutdownTimeout = 10 * time.Second
)

type repos struct {
	topics    repository.Topics
	messages  repository.Messages
	reminders repository.Reminders
	summaries repository.Summaries
}

// app holds every long-running component of the bot.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *database.DB
	redis    *redis.Client
	router   *llm.Router
	queue    *queue.Queue
	telegram *telegram.Client
	bot      *bot.Bot
	sched    *scheduler.Scheduler
	http     *http.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("TELEGRAM_TOKEN is required")
	}
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	r, err := a.openRepositories(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.openQueueStore()
	if err != nil {
		return nil, err
	}

	a.router, err = llm.NewRouter(providerFactories(cfg), llm.RouterOptions{
		DefaultProvider: cfg.DefaultProvider,
		Timeout:         cfg.ProviderTimeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	a.telegram, err = telegram.NewClient(cfg.TelegramToken, "", nil, logger)
	if err != nil {
		return nil, err
	}

	a.queue = queue.New(store, queue.Options{
		Concurrency:  cfg.QueueConcurrency,
		MaxAttempts:  cfg.QueueMaxAttempts,
		Backoff:      cfg.QueueBackoff,
		PollInterval: cfg.QueuePollInterval,
		Lease:        cfg.QueueLease,
		Logger:       logger,
	})

	reminders := reminder.NewService(r.reminders, r.topics, a.queue, time.Now, logger)
	summaries := summary.NewService(r.topics, r.summaries, a.queue, time.Now, logger)
	a.queue.Register(reminder.JobKind, reminder.NewExecutor(r.reminders, a.queue, a.telegram, time.Now, logger))
	a.queue.Register(summary.JobKind, summary.NewGenerator(r.topics, r.messages, r.summaries, a.router, a.telegram, logger))

	dispatcher := tools.NewDispatcher(reminders, summaries, r.topics, r.messages, time.Now, logger)
	h := handlers.New(handlers.Deps{
		Transport:       a.telegram,
		Topics:          r.topics,
		Messages:        r.messages,
		Reminders:       reminders,
		Summaries:       summaries,
		LLM:             a.router,
		Tools:           dispatcher,
		DefaultTimezone: cfg.DefaultTimezone,
		ContextMessages: cfg.ContextMessages,
		Logger:          logger,
	})
	a.bot = bot.New(a.telegram, h, a.telegram.Username(), logger)

	a.sched, err = scheduler.New(r.topics, r.reminders, summaries, reminders, scheduler.Options{
		SummaryAt: cfg.SummaryAt,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var pinger server.Pinger
	if a.db != nil {
		pinger = a.db
	}
	a.http = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(server.NewHandler(pinger, a.router, a.queue, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ok = true
	return a, nil
}

func (a *app) openRepositories(ctx context.Context) (repos, error) {
	if a.cfg.DatabaseURI == "" {
		a.logger.Warn("DATABASE_URI not set, using in-memory storage")
		return repos{
			topics:    memory.NewTopicRepository(),
			messages:  memory.NewMessageRepository(),
			reminders: memory.NewReminderRepository(),
			summaries: memory.NewSummaryRepository(),
		}, nil
	}

	db, err := database.New(ctx, a.cfg.DatabaseURI)
	if err != nil {
		return repos{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db
	a.logger.Info("Connected to database")

	applied, err := db.Migrate(ctx)
	if err != nil {
		return repos{}, fmt.Errorf("failed to run migrations: %w", err)
	}
	a.logger.Info("Database migrations completed", "applied", len(applied))

	return repos{
		topics:    repository.NewTopicRepository(db),
		messages:  repository.NewMessageRepository(db),
		reminders: repository.NewReminderRepository(db),
		summaries: repository.NewSummaryRepository(db),
	}, nil
}

func (a *app) openQueueStore() (queue.Store, error) {
	if a.cfg.RedisURL == "" {
		a.logger.Warn("REDIS_URL not set, jobs are kept in memory")
		return queue.NewMemoryStore(), nil
	}
	client, err := queue.NewRedisClient(a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return queue.NewRedisStore(client, queuePrefix), nil
}

// Run blocks until ctx is cancelled or a component fails.
func (a *app) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.router.CheckHealth(ctx)
		return nil
	})
	g.Go(func() error { return a.bot.Start(ctx) })
	g.Go(func() error { return a.queue.Run(ctx) })
	g.Go(func() error {
		a.sched.Start(ctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", a.http.Addr)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
