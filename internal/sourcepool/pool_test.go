package sourcepool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/chain"
	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNode struct {
	balances   map[string]domain.Amount
	balanceErr map[string]error
	sequences  map[string]uint64
	seqCalls   int
}

func (s *stubNode) GetAvailableBalance(ctx context.Context, address string) (domain.Amount, error) {
	if err := s.balanceErr[address]; err != nil {
		return domain.Amount{}, err
	}
	return s.balances[address], nil
}

func (s *stubNode) GetNextSequence(ctx context.Context, identityID string) (uint64, error) {
	s.seqCalls++
	return s.sequences[identityID], nil
}

func (s *stubNode) Submit(ctx context.Context, params chain.SubmitParams) (*chain.PendingTransfer, error) {
	return nil, errors.New("not used")
}

func (s *stubNode) AwaitConfirmation(ctx context.Context, pending *chain.PendingTransfer, timeout time.Duration) (string, error) {
	return "", errors.New("not used")
}

func TestSelectFundedFirstFit(t *testing.T) {
	// Balances [30, 100], request 50: the first identity is skipped, the
	// second selected.
	node := &stubNode{balances: map[string]domain.Amount{
		"w1": domain.NewAmount(30),
		"w2": domain.NewAmount(100),
	}}
	pool := New(node, []string{"w1", "w2"}, nil)

	identity, err := pool.SelectFunded(context.Background(), domain.NewAmount(50))
	require.NoError(t, err)
	assert.Equal(t, "w2", identity.ID)
}

func TestSelectFundedPrefersFirst(t *testing.T) {
	// First-fit, not load-balanced: while the first identity can pay, it
	// always pays.
	node := &stubNode{balances: map[string]domain.Amount{
		"w1": domain.NewAmount(100),
		"w2": domain.NewAmount(100),
	}}
	pool := New(node, []string{"w1", "w2"}, nil)

	for i := 0; i < 3; i++ {
		identity, err := pool.SelectFunded(context.Background(), domain.NewAmount(50))
		require.NoError(t, err)
		assert.Equal(t, "w1", identity.ID)
	}
}

func TestSelectFundedExhausted(t *testing.T) {
	node := &stubNode{balances: map[string]domain.Amount{
		"w1": domain.NewAmount(30),
		"w2": domain.NewAmount(40),
	}}
	pool := New(node, []string{"w1", "w2"}, nil)

	_, err := pool.SelectFunded(context.Background(), domain.NewAmount(50))
	require.ErrorIs(t, err, domain.ErrNoFundingAvailable)
}

func TestSelectFundedSkipsFailingQuery(t *testing.T) {
	node := &stubNode{
		balances: map[string]domain.Amount{
			"w2": domain.NewAmount(100),
		},
		balanceErr: map[string]error{
			"w1": chain.NewError(chain.KindTransient, "balance", errors.New("rpc flake")),
		},
	}
	pool := New(node, []string{"w1", "w2"}, nil)

	identity, err := pool.SelectFunded(context.Background(), domain.NewAmount(50))
	require.NoError(t, err)
	assert.Equal(t, "w2", identity.ID)
}

func TestSelectFundedRefreshesBalance(t *testing.T) {
	node := &stubNode{balances: map[string]domain.Amount{"w1": domain.NewAmount(100)}}
	pool := New(node, []string{"w1"}, nil)

	_, err := pool.SelectFunded(context.Background(), domain.NewAmount(50))
	require.NoError(t, err)

	// The identity drained out-of-band; the next selection must see it.
	node.balances["w1"] = domain.NewAmount(10)
	_, err = pool.SelectFunded(context.Background(), domain.NewAmount(50))
	require.ErrorIs(t, err, domain.ErrNoFundingAvailable)
}

func TestNextSequenceAlwaysRefetches(t *testing.T) {
	node := &stubNode{
		balances:  map[string]domain.Amount{"w1": domain.NewAmount(100)},
		sequences: map[string]uint64{"w1": 7},
	}
	pool := New(node, []string{"w1"}, nil)
	identity, err := pool.SelectFunded(context.Background(), domain.NewAmount(50))
	require.NoError(t, err)

	seq, err := pool.NextSequence(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), seq)

	node.sequences["w1"] = 9
	seq, err = pool.NextSequence(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seq)
	assert.Equal(t, 2, node.seqCalls)
}

func TestBalancesKeepsPoolOrder(t *testing.T) {
	node := &stubNode{balances: map[string]domain.Amount{
		"w1": domain.NewAmount(30),
		"w2": domain.NewAmount(100),
	}}
	pool := New(node, []string{"w1", "w2"}, nil)

	balances, err := pool.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "w1", balances[0].ID)
	assert.Equal(t, "w2", balances[1].ID)
	assert.Equal(t, 0, balances[1].Balance.Cmp(domain.NewAmount(100)))
}
