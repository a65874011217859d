package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/domain"
)

// MockNode simulates a chain node for local runs and tests: in-memory
// balances and sequence counters, optional per-call latency, and scripted
// submit faults. Transfers confirm after ConfirmDelay.
type MockNode struct {
	mu        sync.Mutex
	balances  map[string]domain.Amount
	sequences map[string]uint64
	submitErr []error // consumed front-first by Submit
	txCounter int

	// Latency is applied to every query and submission.
	Latency time.Duration
	// ConfirmDelay is how long AwaitConfirmation waits before confirming.
	ConfirmDelay time.Duration
}

// NewMockNode creates a MockNode with the given initial balances.
func NewMockNode(balances map[string]domain.Amount) *MockNode {
	b := make(map[string]domain.Amount, len(balances))
	for addr, amount := range balances {
		b[addr] = amount
	}
	return &MockNode{
		balances:  b,
		sequences: make(map[string]uint64),
	}
}

// SetBalance overrides the balance of an address.
func (n *MockNode) SetBalance(address string, amount domain.Amount) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[address] = amount
}

// QueueSubmitError schedules err to be returned by the next Submit call.
// Errors queue in FIFO order; once drained, submissions succeed again.
func (n *MockNode) QueueSubmitError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitErr = append(n.submitErr, err)
}

func (n *MockNode) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *MockNode) GetAvailableBalance(ctx context.Context, address string) (domain.Amount, error) {
	if err := n.sleep(ctx, n.Latency); err != nil {
		return domain.Amount{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	balance, ok := n.balances[address]
	if !ok {
		return domain.ZeroAmount(), nil
	}
	return balance, nil
}

func (n *MockNode) GetNextSequence(ctx context.Context, identityID string) (uint64, error) {
	if err := n.sleep(ctx, n.Latency); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sequences[identityID], nil
}

func (n *MockNode) Submit(ctx context.Context, params SubmitParams) (*PendingTransfer, error) {
	if err := n.sleep(ctx, n.Latency); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.submitErr) > 0 {
		err := n.submitErr[0]
		n.submitErr = n.submitErr[1:]
		return nil, err
	}
	if params.Sequence != n.sequences[params.IdentityID] {
		return nil, NewError(KindStaleSequence, "submit",
			fmt.Errorf("sequence %d does not match expected %d", params.Sequence, n.sequences[params.IdentityID]))
	}
	balance := n.balances[params.IdentityID]
	if balance.Cmp(params.Amount) < 0 {
		return nil, NewError(KindPermanent, "submit",
			fmt.Errorf("identity %s has insufficient balance", params.IdentityID))
	}

	n.sequences[params.IdentityID]++
	n.balances[params.IdentityID] = balance.Sub(params.Amount)
	n.balances[params.Recipient] = n.balances[params.Recipient].Add(params.Amount)
	n.txCounter++

	return &PendingTransfer{
		TxID:       fmt.Sprintf("0xmock%08d", n.txCounter),
		IdentityID: params.IdentityID,
		Sequence:   params.Sequence,
	}, nil
}

func (n *MockNode) AwaitConfirmation(ctx context.Context, pending *PendingTransfer, timeout time.Duration) (string, error) {
	delay := n.ConfirmDelay
	if delay > timeout {
		if err := n.sleep(ctx, timeout); err != nil {
			return "", err
		}
		return "", ErrConfirmationTimeout
	}
	if err := n.sleep(ctx, delay); err != nil {
		return "", err
	}
	return pending.TxID, nil
}
