// Package bot runs the Telegram long-polling loop and hands every message
// to the topic handlers.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/telegram"
)

const (
	pollTimeout   = 60 // seconds, server side
	retryDelay    = 3 * time.Second
	maxConcurrent = 16
)

type Updater interface {
	GetUpdates(ctx context.Context, offset, timeout int) ([]telegram.Update, error)
}

type MessageHandler interface {
	Handle(ctx context.Context, msg *telegram.Message)
}

type Bot struct {
	updater  Updater
	handler  MessageHandler
	username string
	logger   *slog.Logger
	sem      *semaphore.Weighted

	mu      sync.Mutex
	threads map[string]*thread
}

// thread is the FIFO of messages waiting in one chat thread. A single
// worker drains it and removes it from Bot.threads once it is empty.
type thread struct {
	pending []*telegram.Message
}

func New(updater Updater, handler MessageHandler, username string, logger *slog.Logger) *Bot {
	return &Bot{
		updater:  updater,
		handler:  handler,
		username: username,
		logger:   logutil.OrDiscard(logger).With("component", "bot"),
		sem:      semaphore.NewWeighted(maxConcurrent),
		threads:  make(map[string]*thread),
	}
}

// Start polls until ctx is cancelled. Messages of one chat thread are
// handled in arrival order; at most maxConcurrent handlers run at a time
// across threads. Start waits for running handlers before it returns.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Bot started", "username", b.username)

	var g errgroup.Group
	defer g.Wait()

	offset := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := b.updater.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("Failed to get updates, retrying", "error", err, "retry_in", retryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			b.dispatch(ctx, &g, update.Message)
		}
	}
}

func threadKey(msg *telegram.Message) string {
	if msg.Chat == nil {
		return ""
	}
	return fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ThreadID())
}

// dispatch appends msg to its thread's queue and starts a worker when the
// thread has none. It never blocks the polling loop.
func (b *Bot) dispatch(ctx context.Context, g *errgroup.Group, msg *telegram.Message) {
	key := threadKey(msg)

	b.mu.Lock()
	if t, ok := b.threads[key]; ok {
		t.pending = append(t.pending, msg)
		b.mu.Unlock()
		return
	}
	t := &thread{pending: []*telegram.Message{msg}}
	b.threads[key] = t
	b.mu.Unlock()

	g.Go(func() error {
		b.drain(ctx, key, t)
		return nil
	})
}

func (b *Bot) drain(ctx context.Context, key string, t *thread) {
	for {
		b.mu.Lock()
		if len(t.pending) == 0 {
			delete(b.threads, key)
			b.mu.Unlock()
			return
		}
		msg := t.pending[0]
		t.pending[0] = nil
		t.pending = t.pending[1:]
		b.mu.Unlock()

		if err := b.sem.Acquire(ctx, 1); err != nil {
			b.mu.Lock()
			dropped := len(t.pending) + 1
			delete(b.threads, key)
			b.mu.Unlock()
			b.logger.Warn("Dropping queued messages on shutdown", "thread", key, "count", dropped)
			return
		}
		b.handleUpdate(ctx, msg)
		b.sem.Release(1)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, msg *telegram.Message) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked", "message_id", msg.MessageID, "panic", r)
		}
	}()

	b.handler.Handle(ctx, msg)
	b.logger.Debug("Update processed", "message_id", msg.MessageID, "duration", time.Since(start))
}
