// Package faucet is the request intake boundary: it validates eligibility
// and hands accepted transfers to the dispatch worker. Callers get either a
// synchronous rejection with the specific reason or a handle resolving to
// the terminal outcome.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/chain"
	"github.com/Veenoway/spiky-faucet/internal/dispatch"
	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/Veenoway/spiky-faucet/internal/ledger"
	"github.com/Veenoway/spiky-faucet/internal/observability"
	"github.com/Veenoway/spiky-faucet/internal/sourcepool"
	"go.uber.org/zap"
)

// Config holds the intake parameters. Amounts are in base units.
type Config struct {
	// DripAmount is the fixed amount dispensed per accepted drip.
	DripAmount domain.Amount
	// MaxRecipientBalance refuses drips to addresses already holding at
	// least this much. Zero disables the ceiling.
	MaxRecipientBalance domain.Amount
	// TokenDecimals and TokenSymbol drive human-readable status output.
	TokenDecimals int32
	TokenSymbol   string
}

type Service struct {
	cfg       Config
	validator chain.AddressValidator
	node      chain.Node
	ledger    *ledger.Ledger
	pool      *sourcepool.Pool
	worker    *dispatch.Worker
	logger    *zap.Logger
}

func NewService(cfg Config, validator chain.AddressValidator, node chain.Node, l *ledger.Ledger, pool *sourcepool.Pool, worker *dispatch.Worker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		validator: validator,
		node:      node,
		ledger:    l,
		pool:      pool,
		worker:    worker,
		logger:    logger,
	}
}

// Drip requests the fixed faucet amount for recipient on behalf of user.
// Checks run in order: address format, recipient balance ceiling, cooldown,
// recipient cap, global budget. All checks are advisory: nothing is consumed
// until the transfer confirms, so a rejected or later-failed request leaves
// the user free to retry.
func (s *Service) Drip(ctx context.Context, user, recipient string, now time.Time) (*dispatch.Request, error) {
	if !s.validator.IsValidAddress(recipient) {
		observability.IncrementDrip("invalid_address")
		return nil, domain.ErrInvalidAddress
	}

	s.ledger.MaybeReset(now)

	if s.cfg.MaxRecipientBalance.IsPositive() {
		balance, err := s.node.GetAvailableBalance(ctx, recipient)
		if err != nil {
			// The ceiling is best-effort abuse control; a flaky balance
			// query must not block an otherwise eligible drip.
			s.logger.Warn("recipient balance check failed",
				zap.String("recipient", recipient), zap.Error(err))
		} else if balance.Cmp(s.cfg.MaxRecipientBalance) >= 0 {
			observability.IncrementDrip("recipient_balance_high")
			return nil, fmt.Errorf("%w: holds %s %s",
				domain.ErrRecipientBalanceHigh,
				balance.FormatTokens(s.cfg.TokenDecimals),
				s.cfg.TokenSymbol)
		}
	}

	if err := s.ledger.CheckAndReserve(user, recipient, s.cfg.DripAmount, now); err != nil {
		observability.IncrementDrip(rejectionLabel(err))
		return nil, err
	}

	r := dispatch.NewRequest(user, recipient, s.cfg.DripAmount, true, now)
	s.worker.Enqueue(r)
	observability.IncrementDrip("accepted")
	s.logger.Info("drip accepted",
		zap.String("request", r.ID.String()),
		zap.String("user", user),
		zap.String("recipient", recipient))
	return r, nil
}

// Grant enqueues an operator transfer of an arbitrary amount. Grants skip
// the quota ledger entirely: they neither consume the budget nor stamp a
// cooldown, matching how operator sends have always behaved.
func (s *Service) Grant(ctx context.Context, operator, recipient string, amount domain.Amount, now time.Time) (*dispatch.Request, error) {
	if !s.validator.IsValidAddress(recipient) {
		return nil, domain.ErrInvalidAddress
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("grant amount must be positive, got %s", amount)
	}

	r := dispatch.NewRequest(operator, recipient, amount, false, now)
	s.worker.Enqueue(r)
	s.logger.Info("grant accepted",
		zap.String("request", r.ID.String()),
		zap.String("operator", operator),
		zap.String("recipient", recipient),
		zap.String("amount", amount.FormatTokens(s.cfg.TokenDecimals)))
	return r, nil
}

// StatusReport is the operator/user view of quota state.
type StatusReport struct {
	TokenSymbol       string        `json:"token_symbol"`
	GlobalSent        string        `json:"global_sent"`
	BudgetRemaining   string        `json:"budget_remaining"`
	NextResetIn       string        `json:"next_reset_in"`
	QueueDepth        int           `json:"queue_depth"`
	Recipient         string        `json:"recipient,omitempty"`
	RecipientReceived string        `json:"recipient_received,omitempty"`
	RecipientLeft     string        `json:"recipient_remaining,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}

// Status reports global counters plus, when recipient or user are set, the
// per-recipient and per-user view.
func (s *Service) Status(user, recipient string, now time.Time) StatusReport {
	snap := s.ledger.TakeSnapshot(now)
	report := StatusReport{
		TokenSymbol:     s.cfg.TokenSymbol,
		GlobalSent:      snap.GlobalSent.FormatTokens(s.cfg.TokenDecimals),
		BudgetRemaining: snap.Remaining.FormatTokens(s.cfg.TokenDecimals),
		NextResetIn:     snap.NextReset.Round(time.Minute).String(),
		QueueDepth:      s.worker.Depth(),
	}
	if recipient != "" {
		received := s.ledger.ReceivedBy(recipient)
		left := s.ledger.RecipientCap().Sub(received)
		if left.Sign() < 0 {
			left = domain.ZeroAmount()
		}
		report.Recipient = recipient
		report.RecipientReceived = received.FormatTokens(s.cfg.TokenDecimals)
		report.RecipientLeft = left.FormatTokens(s.cfg.TokenDecimals)
	}
	if user != "" {
		report.CooldownRemaining = s.ledger.CooldownRemaining(user, now).Round(time.Second)
	}
	return report
}

// Balances lists the funding identities with their current balances.
func (s *Service) Balances(ctx context.Context) ([]sourcepool.IdentityBalance, error) {
	return s.pool.Balances(ctx)
}

func rejectionLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrCooldownActive):
		return "cooldown_active"
	case errors.Is(err, domain.ErrRecipientCapExceeded):
		return "recipient_cap"
	case errors.Is(err, domain.ErrGlobalBudgetExceeded):
		return "global_budget"
	case errors.Is(err, domain.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, domain.ErrRecipientBalanceHigh):
		return "recipient_balance_high"
	default:
		return "rejected"
	}
}
