package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hray3182/topicmate/internal/config"
	"github.com/hray3182/topicmate/internal/database"
	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/queue"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Start the bot, job workers, scheduler and health server",
		Action: runBot,
	}
}

func runBot(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logutil.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("TopicMate started", "version", Version, "bot", a.telegram.Username(), "providers", a.router.Providers())
	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Shutting down...")
		return nil
	}
	return err
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.DatabaseURI == "" {
				return errors.New("DATABASE_URI is required")
			}

			db, err := database.New(c.Context, cfg.DatabaseURI)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			applied, err := db.Migrate(c.Context)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(c.App.Writer, "Database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(c.App.Writer, "Applied", name)
			}
			return nil
		},
	}
}

func deadLettersCmd() *cli.Command {
	return &cli.Command{
		Name:  "deadletters",
		Usage: "Inspect jobs that exhausted their attempts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Print dead jobs as JSON",
				Action: func(c *cli.Context) error {
					q, closeFn, err := openQueue()
					if err != nil {
						return err
					}
					defer closeFn()

					jobs, err := q.DeadLetters(c.Context)
					if err != nil {
						return fmt.Errorf("failed to list dead jobs: %w", err)
					}
					if jobs == nil {
						jobs = []*queue.Job{}
					}
					enc := json.NewEncoder(c.App.Writer)
					enc.SetIndent("", "  ")
					return enc.Encode(jobs)
				},
			},
			{
				Name:      "retry",
				Usage:     "Put a dead job back in the queue",
				ArgsUsage: "<job-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("exactly one job id is required")
					}
					q, closeFn, err := openQueue()
					if err != nil {
						return err
					}
					defer closeFn()

					id := c.Args().First()
					if err := q.RetryDead(c.Context, id); err != nil {
						return fmt.Errorf("failed to retry job %s: %w", id, err)
					}
					fmt.Fprintln(c.App.Writer, "Requeued", id)
					return nil
				},
			},
		},
	}
}

// openQueue connects to the shared Redis store. Dead letters of the memory
// store die with the process, so there is nothing to inspect without Redis.
func openQueue() (*queue.Queue, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.RedisURL == "" {
		return nil, nil, errors.New("REDIS_URL is required to inspect dead letters")
	}
	client, err := queue.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	q := queue.New(queue.NewRedisStore(client, queuePrefix), queue.Options{MaxAttempts: cfg.QueueMaxAttempts})
	return q, func() { _ = client.Close() }, nil
}
