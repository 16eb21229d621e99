// Package worker runs the delivery worker pool: goroutines that lease items
// from the priority lanes, invoke the downstream handler, and drive the
// retry/backoff state machine on failure.
//
// Lifecycle per attempt:
//
//	pending → in_progress → succeeded
//	                      → failed_retryable → pending (after backoff)
//	                      → failed_terminal  (attempts exhausted; reported, dropped)
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warelay/warelay/internal/metrics"
	"github.com/warelay/warelay/internal/queue"
	"github.com/warelay/warelay/internal/types"
)

// Handler is the downstream collaborator every record is delivered to.
// Any returned error counts as a failed attempt; the worker is agnostic to
// what the handler does internally (persistence, enrichment, forwarding).
type Handler interface {
	Handle(ctx context.Context, msg *types.Message) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *types.Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *types.Message) error {
	return f(ctx, msg)
}

// TerminalRecorder receives records whose delivery has terminally failed.
// May be nil, in which case terminal failures are only logged.
type TerminalRecorder interface {
	RecordTerminal(msg *types.Message, attempt types.Attempt) error
}

// Config tunes a worker Pool.
type Config struct {
	// Workers is the number of concurrent worker goroutines.
	Workers int

	// HandlerTimeout bounds one handler invocation; exceeding it counts as a
	// handler failure and follows the normal retry path.
	HandlerTimeout time.Duration

	// PollInterval is how long an idle worker sleeps when every lane is empty.
	PollInterval time.Duration

	// System is the system name attached to observability tags.
	System string
}

// Pool consumes the lanes and delivers records to the handler.
type Pool struct {
	cfg      Config
	lanes    *queue.Lanes
	handler  Handler
	terminal TerminalRecorder
	metrics  *metrics.Registry
	log      *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates a stopped Pool. terminal may be nil.
func NewPool(cfg Config, lanes *queue.Lanes, h Handler, terminal TerminalRecorder, reg *metrics.Registry, log *slog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Pool{
		cfg:      cfg,
		lanes:    lanes,
		handler:  h,
		terminal: terminal,
		metrics:  reg,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.log.Info("worker pool started", "workers", p.cfg.Workers)
}

// Stop signals the workers and waits for in-flight attempts to resolve.
// The current handler invocation is allowed to finish (or time out); an item
// leased after the signal is released back to the front of its lane without
// consuming an attempt.
func (p *Pool) Stop() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

// run is one worker's loop. Lease() scans high → default → low, so the
// priority-draining contract holds as long as every worker goes through it.
func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		d, ok := p.lanes.Lease()
		if !ok {
			select {
			case <-p.done:
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		// Stop arrived between lease and attempt: hand the item back so it
		// is the next one picked up after a restart, no attempt consumed.
		select {
		case <-p.done:
			if relErr := p.lanes.Release(d.Receipt); relErr != nil {
				p.log.Error("release failed", "id", d.Item.Msg.ID, "err", relErr)
			}
			return
		default:
		}

		p.process(id, d)
	}
}

// process runs exactly one delivery attempt for the leased item.
func (p *Pool) process(workerID int, d *queue.Delivery) {
	item := d.Item
	msg := item.Msg
	lane := item.Lane.String()
	tags := msg.Tags(p.cfg.System)

	item.Attempt.Status = types.StatusInProgress
	item.Attempt.AttemptsMade++
	attempt := item.Attempt.AttemptsMade

	p.metrics.Attempts.Inc(lane)
	p.log.Debug("delivery attempt",
		"worker", workerID,
		"id", msg.ID,
		"lane", lane,
		"attempt", attempt,
		"max_attempts", item.Attempt.MaxAttempts,
		"tags", tags,
	)

	err := p.invoke(msg)
	if err == nil {
		item.Attempt.Status = types.StatusSucceeded
		p.metrics.Delivered.Inc(lane)
		if ackErr := p.lanes.Ack(d.Receipt); ackErr != nil {
			p.log.Error("ack failed", "id", msg.ID, "err", ackErr)
		}
		p.log.Info("delivered",
			"id", msg.ID,
			"lane", lane,
			"attempts", attempt,
			"tags", tags,
		)
		return
	}

	item.Attempt.LastError = err.Error()
	p.log.Warn("delivery failed",
		"id", msg.ID,
		"attempt", attempt,
		"type", msg.Type,
		"sender", msg.Sender,
		"err", err,
	)

	if !item.Attempt.Exhausted() {
		item.Attempt.Status = types.StatusFailedRetryable
		p.metrics.Retried.Inc(lane)
		delay := item.Attempt.NextDelay()
		if reqErr := p.lanes.Requeue(d.Receipt); reqErr != nil {
			p.log.Error("requeue failed", "id", msg.ID, "err", reqErr)
			return
		}
		p.log.Info("retry scheduled",
			"id", msg.ID,
			"lane", lane,
			"attempt", attempt,
			"delay", delay,
		)
		return
	}

	// Retries exhausted: report, record, drop. Never silent, never retried.
	item.Attempt.Status = types.StatusFailedTerminal
	p.metrics.DeadLettered.Inc(lane)
	p.log.Error("delivery terminally failed",
		"id", msg.ID,
		"type", msg.Type,
		"sender", msg.Sender,
		"chat", msg.Chat,
		"message_id", msg.MessageID,
		"attempts", attempt,
		"err", err,
		"tags", tags,
	)
	if p.terminal != nil {
		if recErr := p.terminal.RecordTerminal(msg, item.Attempt); recErr != nil {
			p.log.Error("dead-letter record failed", "id", msg.ID, "err", recErr)
		}
	}
	if ackErr := p.lanes.Ack(d.Receipt); ackErr != nil {
		p.log.Error("ack failed", "id", msg.ID, "err", ackErr)
	}
}

// invoke calls the handler under the per-attempt timeout. A timeout is
// indistinguishable from any other handler failure.
func (p *Pool) invoke(msg *types.Message) error {
	ctx := context.Background()
	if p.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.HandlerTimeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.handler.Handle(ctx, msg)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
