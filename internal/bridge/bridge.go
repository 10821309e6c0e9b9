// Package bridge transfers notification tasks from HTTP handler goroutines to
// the single goroutine allowed to use the chat session.
//
// Many producers submit without blocking; one consumer drains the queue and
// performs the sends sequentially. Producers never learn the delivery outcome.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logx "editrelay/pkg/logx"

	"golang.org/x/time/rate"
)

// Task is one outbound notification. Ownership passes to the consumer on
// Submit; the producer keeps no reference.
type Task struct {
	ChatID int64
	UserID int64
	Text   string
}

// Sender delivers a task on the chat session. Only the bridge consumer
// goroutine may call it.
type Sender interface {
	Send(ctx context.Context, chatID, userID int64, text string) error
}

const (
	defaultQueueSize = 1024
	sendTimeout      = 10 * time.Second
	dropReportEvery  = 5 * time.Second
)

type Bridge struct {
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter

	queue chan Task

	// dropped counts tasks rejected because the consumer fell behind the
	// board's event rate. Reported periodically to avoid per-task log spam.
	dropped atomic.Uint64

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(sender Sender, ratePerSec int, log logx.Logger) *Bridge {
	if ratePerSec <= 0 {
		ratePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		queue:   make(chan Task, defaultQueueSize),
	}
}

// Submit hands a task to the consumer without blocking the caller. Overflow
// is counted and reported, never surfaced to the submitter.
func (b *Bridge) Submit(t Task) {
	select {
	case b.queue <- t:
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports how many rejected tasks have not yet been flushed to the log.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Start launches the consumer goroutine. Safe to call once.
func (b *Bridge) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	b.running = true

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.consume(runCtx)
	}()
	go func() {
		defer b.wg.Done()
		b.reportDrops(runCtx)
	}()
}

// Stop cancels the consumer, waits for it, then drains any remaining tasks
// until the queue is empty or ctx expires. Whatever is still queued after
// that is logged and dropped.
func (b *Bridge) Stop(ctx context.Context) {
	b.runMu.Lock()
	cancel := b.cancel
	b.cancel = nil
	wasRunning := b.running
	b.running = false
	b.runMu.Unlock()

	if !wasRunning {
		return
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}

	// The consumer is gone; send what it left behind until the queue is
	// empty or the deadline hits.
drain:
	for ctx.Err() == nil {
		select {
		case t := <-b.queue:
			if !b.deliver(ctx, t) {
				break drain
			}
		default:
			break drain
		}
	}

	if n := len(b.queue); n > 0 {
		b.log.Warn("notification tasks abandoned at shutdown", logx.Int("count", n))
	}
}

func (b *Bridge) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-b.queue:
			b.deliver(ctx, t)
		}
	}
}

// deliver performs one best-effort send and reports whether the task was
// attempted. Failures are logged here, inside the consumer's context; they
// never reach the submitter.
func (b *Bridge) deliver(ctx context.Context, t Task) bool {
	if err := b.limiter.Wait(ctx); err != nil {
		// ctx ran out mid-wait; requeue so the shutdown drain can still
		// pick the task up.
		b.Submit(t)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := b.sender.Send(sendCtx, t.ChatID, t.UserID, t.Text)
	cancel()
	if err != nil {
		b.log.Warn("notification send failed",
			logx.Int64("chat_id", t.ChatID),
			logx.Int64("user_id", t.UserID),
			logx.Err(err),
		)
		return true
	}
	b.log.Debug("notification sent", logx.Int64("chat_id", t.ChatID), logx.Int64("user_id", t.UserID))
	return true
}

func (b *Bridge) reportDrops(ctx context.Context) {
	ticker := time.NewTicker(dropReportEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final flush.
			if n := b.dropped.Swap(0); n > 0 {
				b.log.Warn("notification tasks dropped (queue full)", logx.Uint64("count", n))
			}
			return
		case <-ticker.C:
			if n := b.dropped.Swap(0); n > 0 {
				b.log.Warn("notification tasks dropped (queue full)", logx.Uint64("count", n))
			}
		}
	}
}
