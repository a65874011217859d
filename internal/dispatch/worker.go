// Package dispatch owns the transfer queue and the single worker that drains
// it. Exactly one submission is ever in flight: sequence-number safety in the
// source pool depends on that, so the queue must never grow a second
// consumer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/chain"
	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/Veenoway/spiky-faucet/internal/events"
	"github.com/Veenoway/spiky-faucet/internal/ledger"
	"github.com/Veenoway/spiky-faucet/internal/observability"
	"github.com/Veenoway/spiky-faucet/internal/sourcepool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the worker's retry and timeout behavior.
type Config struct {
	// ConfirmTimeout bounds the wait for on-chain confirmation.
	ConfirmTimeout time.Duration
	// FundingBackoff is the sleep between selection attempts when every
	// identity is broke.
	FundingBackoff time.Duration
	// FundingWaitCeiling bounds the total time spent waiting for funding
	// before the request fails.
	FundingWaitCeiling time.Duration
	// SubmitAttempts is the retry budget for transient submission faults.
	SubmitAttempts int
	// TokenDecimals converts base units to whole tokens for gauges.
	TokenDecimals int32
	// Retention is how long terminal requests stay pollable by id.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 60 * time.Second
	}
	if c.FundingBackoff <= 0 {
		c.FundingBackoff = 5 * time.Second
	}
	if c.FundingWaitCeiling <= 0 {
		c.FundingWaitCeiling = 60 * time.Second
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = 3
	}
	if c.TokenDecimals <= 0 {
		c.TokenDecimals = 18
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	return c
}

// Worker is the FIFO dispatch queue plus its lazily armed drainer. Enqueue
// is safe from any goroutine; draining, sequence use and ledger commits all
// happen on the one drain goroutine.
type Worker struct {
	ledger  *ledger.Ledger
	pool    *sourcepool.Pool
	node    chain.Node
	emitter *events.Emitter
	logger  *zap.Logger
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []*Request
	draining bool
	closed   bool
	registry map[uuid.UUID]*Request
	resolved map[uuid.UUID]time.Time
	idle     chan struct{} // signaled each time the drainer parks
}

func NewWorker(l *ledger.Ledger, pool *sourcepool.Pool, node chain.Node, emitter *events.Emitter, logger *zap.Logger, cfg Config) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		ledger:   l,
		pool:     pool,
		node:     node,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		registry: make(map[uuid.UUID]*Request),
		resolved: make(map[uuid.UUID]time.Time),
		idle:     make(chan struct{}, 1),
	}
}

// Enqueue appends the request and arms the drain goroutine if none is
// running. The armed flag shares the queue mutex, so an enqueue racing a
// drainer that just saw an empty queue cannot lose its wakeup.
func (w *Worker) Enqueue(r *Request) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		r.resolve("", domain.ErrShuttingDown)
		return
	}
	w.queue = append(w.queue, r)
	w.pruneLocked(time.Now())
	w.registry[r.ID] = r
	depth := len(w.queue)
	arm := !w.draining
	if arm {
		w.draining = true
	}
	w.mu.Unlock()

	observability.SetQueueDepth(depth)
	if arm {
		go w.drain()
	}
}

// Lookup returns a previously enqueued request while it is still retained.
func (w *Worker) Lookup(id uuid.UUID) (*Request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.registry[id]
	return r, ok
}

// Depth returns the number of requests waiting in the queue.
func (w *Worker) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Stop cancels in-flight waits and resolves everything still queued as
// shutting down. Requests enqueued afterwards are rejected immediately.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.closed = true
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()

	w.cancel()
	for _, r := range pending {
		r.resolve("", domain.ErrShuttingDown)
	}
}

func (w *Worker) pruneLocked(now time.Time) {
	for id, at := range w.resolved {
		if now.Sub(at) >= w.cfg.Retention {
			delete(w.resolved, id)
			delete(w.registry, id)
		}
	}
}

// drain pops and processes requests in strict arrival order until the queue
// is empty, then exits. The next Enqueue arms a fresh drainer.
func (w *Worker) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 || w.closed {
			w.draining = false
			w.mu.Unlock()
			select {
			case w.idle <- struct{}{}:
			default:
			}
			return
		}
		r := w.queue[0]
		w.queue = w.queue[1:]
		depth := len(w.queue)
		w.mu.Unlock()

		observability.SetQueueDepth(depth)
		w.process(r)
	}
}

// WaitIdle blocks until the drainer parks with an empty queue. Test helper.
func (w *Worker) WaitIdle(ctx context.Context) error {
	for {
		w.mu.Lock()
		parked := !w.draining && len(w.queue) == 0
		w.mu.Unlock()
		if parked {
			return nil
		}
		select {
		case <-w.idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) process(r *Request) {
	w.ledger.MaybeReset(time.Now())
	r.markSubmitting()

	identity, err := w.selectWithBackoff(r.Amount)
	if err != nil {
		w.finish(r, "", err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.SubmitAttempts; attempt++ {
		// Sequence is re-fetched on every attempt: a stale-sequence fault
		// means the cached value is already useless.
		seq, err := w.pool.NextSequence(w.ctx, identity)
		if err != nil {
			if chain.IsTransient(err) {
				lastErr = err
				observability.IncrementSubmitAttempt("transient")
				continue
			}
			w.finish(r, "", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err))
			return
		}

		pending, err := w.node.Submit(w.ctx, chain.SubmitParams{
			IdentityID: identity.ID,
			Recipient:  r.Recipient,
			Amount:     r.Amount,
			Sequence:   seq,
		})
		if err != nil {
			if chain.IsStaleSequence(err) || chain.IsTransient(err) {
				lastErr = err
				observability.IncrementSubmitAttempt("transient")
				w.logger.Warn("transient submission fault, retrying",
					zap.String("request", r.ID.String()),
					zap.Int("attempt", attempt),
					zap.Error(err))
				continue
			}
			observability.IncrementSubmitAttempt("permanent")
			w.finish(r, "", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err))
			return
		}

		start := time.Now()
		txID, err := w.node.AwaitConfirmation(w.ctx, pending, w.cfg.ConfirmTimeout)
		if err != nil {
			if errors.Is(err, chain.ErrConfirmationTimeout) {
				// The transfer may still land. It is never retried:
				// resubmitting an ambiguous transfer risks paying twice.
				observability.IncrementSubmitAttempt("timeout")
				w.finish(r, "", domain.ErrSubmissionTimeout)
				return
			}
			observability.IncrementSubmitAttempt("permanent")
			w.finish(r, "", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err))
			return
		}

		observability.IncrementSubmitAttempt("confirmed")
		observability.ObserveConfirmation(time.Since(start))
		if r.CountsTowardQuota {
			w.ledger.Commit(r.User, r.Recipient, r.Amount, time.Now())
		}
		w.finish(r, txID, nil)
		return
	}

	w.finish(r, "", fmt.Errorf("%w: last fault: %v", domain.ErrRetryExhausted, lastErr))
}

// selectWithBackoff asks the pool for a funded identity, sleeping a fixed
// backoff between attempts while every identity is exhausted, bounded by the
// wait ceiling.
func (w *Worker) selectWithBackoff(amount domain.Amount) (*sourcepool.Identity, error) {
	var waited time.Duration
	for {
		identity, err := w.pool.SelectFunded(w.ctx, amount)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, domain.ErrNoFundingAvailable) {
			if w.ctx.Err() != nil {
				return nil, domain.ErrShuttingDown
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
		}
		if waited >= w.cfg.FundingWaitCeiling {
			return nil, domain.ErrNoFundingAvailable
		}
		w.logger.Warn("all funding identities exhausted, backing off",
			zap.Duration("backoff", w.cfg.FundingBackoff),
			zap.Duration("waited", waited))
		timer := time.NewTimer(w.cfg.FundingBackoff)
		select {
		case <-timer.C:
		case <-w.ctx.Done():
			timer.Stop()
			return nil, domain.ErrShuttingDown
		}
		waited += w.cfg.FundingBackoff
	}
}

func (w *Worker) finish(r *Request, txID string, err error) {
	r.resolve(txID, err)

	w.mu.Lock()
	w.resolved[r.ID] = time.Now()
	w.mu.Unlock()

	outcome := "confirmed"
	if err != nil {
		outcome = domain.FailureReason(err)
	}
	observability.IncrementDispatch(outcome)
	if remaining, parseErr := strconv.ParseFloat(w.ledger.Remaining().FormatTokens(w.cfg.TokenDecimals), 64); parseErr == nil {
		observability.SetBudgetRemaining(remaining)
	}

	if err != nil {
		w.logger.Warn("transfer failed",
			zap.String("request", r.ID.String()),
			zap.String("recipient", r.Recipient),
			zap.String("reason", outcome),
			zap.Error(err))
	} else {
		w.logger.Info("transfer confirmed",
			zap.String("request", r.ID.String()),
			zap.String("recipient", r.Recipient),
			zap.String("tx_id", txID))
	}

	if emitErr := w.emitter.Emit(events.TransferEvent{
		RequestID: r.ID.String(),
		User:      r.User,
		Recipient: r.Recipient,
		Amount:    r.Amount,
		Status:    outcome,
		TxID:      txID,
		Reason:    failureDetail(err),
	}); emitErr != nil {
		w.logger.Warn("event emit failed", zap.Error(emitErr))
	}
}

func failureDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
