// Package ledger tracks faucet quota state: per-user cooldowns, per-recipient
// lifetime caps and the global rolling budget. All counters are volatile by
// design; the global counters reset on a fixed interval while the per-user
// cooldown runs on its own independent window.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/domain"
	"go.uber.org/zap"
)

// Config holds the quota parameters. All amounts are in base units.
type Config struct {
	Cooldown      time.Duration
	RecipientCap  domain.Amount
	GlobalBudget  domain.Amount
	ResetInterval time.Duration
}

// Ledger is safe for concurrent use: intake goroutines check eligibility
// while the single dispatch worker commits confirmed transfers.
type Ledger struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	lastRequest map[string]time.Time
	received    map[string]domain.Amount
	globalSent  domain.Amount
	lastResetAt time.Time
}

// Snapshot is a point-in-time view of the global counters for status queries.
type Snapshot struct {
	GlobalSent domain.Amount
	Remaining  domain.Amount
	NextReset  time.Duration
}

func New(cfg Config, logger *zap.Logger, now time.Time) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		cfg:         cfg,
		logger:      logger,
		lastRequest: make(map[string]time.Time),
		received:    make(map[string]domain.Amount),
		globalSent:  domain.ZeroAmount(),
		lastResetAt: now,
	}
}

// MaybeReset zeroes the global counter and clears per-recipient totals once
// the reset interval has elapsed. Per-user cooldown timestamps survive; the
// cooldown window is enforced independently. There is no timer goroutine, so
// this must run before every eligibility check and status query. Returns
// whether a reset happened.
func (l *Ledger) MaybeReset(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maybeResetLocked(now)
}

func (l *Ledger) maybeResetLocked(now time.Time) bool {
	if now.Sub(l.lastResetAt) < l.cfg.ResetInterval {
		return false
	}
	l.globalSent = domain.ZeroAmount()
	l.received = make(map[string]domain.Amount)
	l.lastResetAt = now
	l.logger.Info("quota ledger reset", zap.Time("at", now))
	return true
}

// CheckAndReserve validates a request against the cooldown, the recipient
// lifetime cap and the global budget, in that priority order. It mutates
// nothing: quota is only consumed by Commit after the transfer confirms, so
// a request that fails downstream costs the user nothing.
func (l *Ledger) CheckAndReserve(user, recipient string, amount domain.Amount, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeResetLocked(now)

	if last, ok := l.lastRequest[user]; ok {
		if wait := l.cfg.Cooldown - now.Sub(last); wait > 0 {
			return fmt.Errorf("%w: retry in %s", domain.ErrCooldownActive, wait.Round(time.Minute))
		}
	}
	if l.receivedLocked(recipient).Add(amount).Cmp(l.cfg.RecipientCap) > 0 {
		return domain.ErrRecipientCapExceeded
	}
	if l.globalSent.Add(amount).Cmp(l.cfg.GlobalBudget) > 0 {
		return domain.ErrGlobalBudgetExceeded
	}
	return nil
}

// Commit records a confirmed transfer: bumps the recipient total and the
// global counter, and stamps the user's cooldown. Call it exactly once per
// confirmation and never on failure.
func (l *Ledger) Commit(user, recipient string, amount domain.Amount, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received[recipient] = l.receivedLocked(recipient).Add(amount)
	l.globalSent = l.globalSent.Add(amount)
	l.lastRequest[user] = now
}

func (l *Ledger) receivedLocked(recipient string) domain.Amount {
	if total, ok := l.received[recipient]; ok {
		return total
	}
	return domain.ZeroAmount()
}

// Remaining returns the unspent part of the rolling budget, floored at zero.
func (l *Ledger) Remaining() domain.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remainingLocked()
}

func (l *Ledger) remainingLocked() domain.Amount {
	remaining := l.cfg.GlobalBudget.Sub(l.globalSent)
	if remaining.Sign() < 0 {
		return domain.ZeroAmount()
	}
	return remaining
}

// ReceivedBy returns the cumulative amount a recipient has received since the
// last reset.
func (l *Ledger) ReceivedBy(recipient string) domain.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.receivedLocked(recipient)
}

// CooldownRemaining returns how long the user must still wait, or zero.
func (l *Ledger) CooldownRemaining(user string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.lastRequest[user]
	if !ok {
		return 0
	}
	if wait := l.cfg.Cooldown - now.Sub(last); wait > 0 {
		return wait
	}
	return 0
}

// TakeSnapshot applies any due reset and returns the global counters.
func (l *Ledger) TakeSnapshot(now time.Time) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeResetLocked(now)
	nextReset := l.cfg.ResetInterval - now.Sub(l.lastResetAt)
	if nextReset < 0 {
		nextReset = 0
	}
	return Snapshot{
		GlobalSent: l.globalSent,
		Remaining:  l.remainingLocked(),
		NextReset:  nextReset,
	}
}

// RecipientCap returns the configured lifetime cap.
func (l *Ledger) RecipientCap() domain.Amount {
	return l.cfg.RecipientCap
}
