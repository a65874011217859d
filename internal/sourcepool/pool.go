// Package sourcepool selects which funding identity pays for a transfer.
// Identities are scanned in a fixed preference order and the first one whose
// refreshed balance covers the amount wins. Draining the first-listed
// identity to zero before touching the next keeps operator accounting
// simple, at the cost of uneven utilization.
package sourcepool

import (
	"context"
	"fmt"

	"github.com/Veenoway/spiky-faucet/internal/chain"
	"github.com/Veenoway/spiky-faucet/internal/domain"
	"go.uber.org/zap"
)

// Identity is one funding source. Balance is the last observed value and is
// refreshed on every selection attempt; the sequence number is never cached
// at all (see NextSequence).
type Identity struct {
	ID            string
	CachedBalance domain.Amount
}

type Pool struct {
	node       chain.Node
	identities []*Identity
	logger     *zap.Logger
}

// IdentityBalance is a read-only view for the operator surface.
type IdentityBalance struct {
	ID      string        `json:"id"`
	Balance domain.Amount `json:"balance"`
}

func New(node chain.Node, identityIDs []string, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	identities := make([]*Identity, 0, len(identityIDs))
	for _, id := range identityIDs {
		identities = append(identities, &Identity{ID: id, CachedBalance: domain.ZeroAmount()})
	}
	return &Pool{node: node, identities: identities, logger: logger}
}

// SelectFunded returns the first identity, in preference order, whose
// refreshed balance covers amount. A failed balance query skips that
// identity for this pass rather than failing the selection. Returns
// domain.ErrNoFundingAvailable when no identity qualifies.
func (p *Pool) SelectFunded(ctx context.Context, amount domain.Amount) (*Identity, error) {
	for _, identity := range p.identities {
		balance, err := p.node.GetAvailableBalance(ctx, identity.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("balance query failed, skipping identity",
				zap.String("identity", identity.ID), zap.Error(err))
			continue
		}
		identity.CachedBalance = balance
		if balance.Cmp(amount) >= 0 {
			return identity, nil
		}
	}
	return nil, domain.ErrNoFundingAvailable
}

// NextSequence re-derives the identity's sequence number from the node
// immediately before use. It is never trusted across a suspension point:
// the single-worker dispatch loop plus this re-fetch is what rules out
// sequence collisions.
func (p *Pool) NextSequence(ctx context.Context, identity *Identity) (uint64, error) {
	seq, err := p.node.GetNextSequence(ctx, identity.ID)
	if err != nil {
		return 0, fmt.Errorf("fetch sequence for %s: %w", identity.ID, err)
	}
	return seq, nil
}

// Balances refreshes and returns every identity's balance in pool order.
func (p *Pool) Balances(ctx context.Context) ([]IdentityBalance, error) {
	out := make([]IdentityBalance, 0, len(p.identities))
	for _, identity := range p.identities {
		balance, err := p.node.GetAvailableBalance(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch balance for %s: %w", identity.ID, err)
		}
		identity.CachedBalance = balance
		out = append(out, IdentityBalance{ID: identity.ID, Balance: balance})
	}
	return out, nil
}
