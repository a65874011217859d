package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/chain"
	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/Veenoway/spiky-faucet/internal/ledger"
	"github.com/Veenoway/spiky-faucet/internal/sourcepool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode scripts submission faults and records every call so tests can
// assert attempt counts, ordering and the single-submission invariant.
type fakeNode struct {
	mu           sync.Mutex
	balances     map[string]domain.Amount
	sequences    map[string]uint64
	seqFetches   int
	submitScript []error
	confirmWait  time.Duration
	confirmErrs  []error
	submissions  []chain.SubmitParams
	inFlight     int
	maxInFlight  int
}

func newFakeNode(balance int64) *fakeNode {
	return &fakeNode{
		balances:  map[string]domain.Amount{"w1": domain.NewAmount(balance)},
		sequences: map[string]uint64{},
	}
}

func (f *fakeNode) GetAvailableBalance(ctx context.Context, address string) (domain.Amount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[address], nil
}

func (f *fakeNode) GetNextSequence(ctx context.Context, identityID string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seqFetches++
	return f.sequences[identityID], nil
}

func (f *fakeNode) Submit(ctx context.Context, params chain.SubmitParams) (*chain.PendingTransfer, error) {
	f.mu.Lock()
	f.submissions = append(f.submissions, params)
	if len(f.submitScript) > 0 {
		err := f.submitScript[0]
		f.submitScript = f.submitScript[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.sequences[params.IdentityID]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	return &chain.PendingTransfer{TxID: "0xtx", IdentityID: params.IdentityID, Sequence: params.Sequence}, nil
}

func (f *fakeNode) AwaitConfirmation(ctx context.Context, pending *chain.PendingTransfer, timeout time.Duration) (string, error) {
	if f.confirmWait > 0 {
		time.Sleep(f.confirmWait)
	}
	f.mu.Lock()
	f.inFlight--
	var err error
	if len(f.confirmErrs) > 0 {
		err = f.confirmErrs[0]
		f.confirmErrs = f.confirmErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return pending.TxID, nil
}

func testLedger(now time.Time) *ledger.Ledger {
	return ledger.New(ledger.Config{
		Cooldown:      12 * time.Hour,
		RecipientCap:  domain.NewAmount(300),
		GlobalBudget:  domain.NewAmount(300),
		ResetInterval: 12 * time.Hour,
	}, nil, now)
}

func testWorker(t *testing.T, node *fakeNode, quota *ledger.Ledger) *Worker {
	t.Helper()
	pool := sourcepool.New(node, []string{"w1"}, nil)
	w := NewWorker(quota, pool, node, nil, nil, Config{
		ConfirmTimeout:     200 * time.Millisecond,
		FundingBackoff:     10 * time.Millisecond,
		FundingWaitCeiling: 30 * time.Millisecond,
		SubmitAttempts:     3,
	})
	t.Cleanup(w.Stop)
	return w
}

func waitOutcome(t *testing.T, r *Request) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Wait(ctx)
}

func TestConfirmedCommitsLedger(t *testing.T) {
	now := time.Now()
	node := newFakeNode(100)
	quota := testLedger(now)
	w := testWorker(t, node, quota)

	r := NewRequest("alice", "0xaaa", domain.NewAmount(50), true, now)
	w.Enqueue(r)

	txID, err := waitOutcome(t, r)
	require.NoError(t, err)
	assert.Equal(t, "0xtx", txID)
	assert.Equal(t, StatusConfirmed, r.View().Status)

	// globalSent grew by exactly the transferred amount.
	assert.Equal(t, 0, quota.Remaining().Cmp(domain.NewAmount(250)))
	assert.Equal(t, 0, quota.ReceivedBy("0xaaa").Cmp(domain.NewAmount(50)))
}

func TestStaleSequenceRetriedThenConfirmed(t *testing.T) {
	now := time.Now()
	node := newFakeNode(100)
	node.submitScript = []error{
		chain.NewError(chain.KindStaleSequence, "submit", errors.New("sequence already used")),
	}
	quota := testLedger(now)
	w := testWorker(t, node, quota)

	r := NewRequest("alice", "0xaaa", domain.NewAmount(50), true, now)
	w.Enqueue(r)

	_, err := waitOutcome(t, r)
	require.NoError(t, err)

	// Two submission attempts, a fresh sequence fetch before each, and the
	// ledger committed exactly once.
	assert.Len(t, node.submissions, 2)
	assert.Equal(t, 2, node.seqFetches)
	assert.Equal(t, 0, quota.ReceivedBy("0xaaa").Cmp(domain.NewAmount(50)))
}

func TestTimeoutIsTerminalWithoutCommitOrRetry(t *testing.T) {
	now := time.Now()
	node := newFakeNode(100)
	node.confirmErrs = []error{chain.ErrConfirmationTimeout}
	quota := testLedger(now)
	w := testWorker(t, node, quota)

	r := NewRequest("alice", "0xaaa", domain.NewAmount(50), true, now)
	w.Enqueue(r)

	_, err := waitOutcome(t, r)
	require.ErrorIs(t, err, domain.ErrSubmissionTimeout)

	assert.Len(t, node.submissions, 1)
	assert.Equal(t, 0, quota.ReceivedBy("0xaaa").Sign())
	assert.Equal(t, 0, quota.Remaining().Cmp(domain.NewAmount(300)))
}

func TestPermanentSubmitErrorNotRetried(t *testing.T) {
	now := time.Now()
	node := newFakeNode(100)
	node.submitScript = []error{
		chain.NewError(chain.KindPermanent, "submit", errors.New("invalid recipient")),
	}
	w := testWorker(t, node, testLedger(now))

	r := NewRequest("alice", "0xaaa", domain.NewAmount(50), true, now)
	w.Enqueue(r)

	_, err := waitOutcome(t, r)
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.Len(t, node.submissions, 1)
}

func TestTransientFaultsExhaustRetryBudget(t *testing.T) {
	now := time.Now()
	node := newFakeNode(100)
	transient := func() error {
		return chain.NewError(chain.KindTransient, "submit", errors.New("rpc flake"))
	}
	node.submitScript = []error{transient(), transient(), transient()}
	quota := testLedger(now)
	w := testWorker(t, node, quota)

	r := NewRequest("alice", "0xaaa", domain.NewAmount(50), true, now)
	w.Enqueue(r)

	_, err := waitOutcome(t, r)
	require.ErrorIs(t, err, domain.ErrRetryExhausted)
	assert.Len(t, node.submissions, 3)
	assert.Equal(t, 0, quota.ReceivedBy("0xaaa").Sign())
}

func TestNoFundingFailsAfterWaitCeiling(t *testing.T) {
	now := time.Now()
	node := newFakeNode(10) // never enough for 50
	quota := testLedger(now)
	w := testWorker(t, node, quota)

	r := NewRequest("alice", "0xaaa", domain.NewAmount(50), true, now)
	start := time.Now()
	w.Enqueue(r)

	_, err := waitOutcome(t, r)
	require.ErrorIs(t, err, domain.ErrNoFundingAvailable)
	// The worker backed off at least once before giving up.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Empty(t, node.submissions)
	assert.Equal(t, 0, quota.Remaining().Cmp(domain.NewAmount(300)))
}

func TestRequestsServicedInOrderAndSerialized(t *testing.T) {
	now := time.Now()
	node := newFakeNode(300)
	node.confirmWait = 20 * time.Millisecond
	w := testWorker(t, node, testLedger(now))

	var requests []*Request
	for i := 0; i < 5; i++ {
		r := NewRequest("alice", "0x"+string(rune('a'+i)), domain.NewAmount(10), true, now)
		requests = append(requests, r)
		w.Enqueue(r)
	}
	for _, r := range requests {
		_, err := waitOutcome(t, r)
		require.NoError(t, err)
	}

	// Strict FIFO, and submission n+1 never started before n resolved.
	require.Len(t, node.submissions, 5)
	for i, sub := range node.submissions {
		assert.Equal(t, requests[i].Recipient, sub.Recipient)
	}
	assert.Equal(t, 1, node.maxInFlight)
}

func TestWorkerFailureDoesNotStallQueue(t *testing.T) {
	now := time.Now()
	node := newFakeNode(300)
	node.submitScript = []error{
		chain.NewError(chain.KindPermanent, "submit", errors.New("boom")),
	}
	w := testWorker(t, node, testLedger(now))

	bad := NewRequest("alice", "0xaaa", domain.NewAmount(10), true, now)
	good := NewRequest("bob", "0xbbb", domain.NewAmount(10), true, now)
	w.Enqueue(bad)
	w.Enqueue(good)

	_, err := waitOutcome(t, bad)
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	txID, err := waitOutcome(t, good)
	require.NoError(t, err)
	assert.Equal(t, "0xtx", txID)
}

func TestWorkerRearmsAfterIdle(t *testing.T) {
	now := time.Now()
	node := newFakeNode(300)
	w := testWorker(t, node, testLedger(now))

	first := NewRequest("alice", "0xaaa", domain.NewAmount(10), true, now)
	w.Enqueue(first)
	_, err := waitOutcome(t, first)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.WaitIdle(ctx))

	// A new request after the drainer exited must wake a fresh one.
	second := NewRequest("bob", "0xbbb", domain.NewAmount(10), true, now)
	w.Enqueue(second)
	_, err = waitOutcome(t, second)
	require.NoError(t, err)
}

func TestGrantBypassesLedger(t *testing.T) {
	now := time.Now()
	node := newFakeNode(300)
	quota := testLedger(now)
	w := testWorker(t, node, quota)

	r := NewRequest("operator", "0xaaa", domain.NewAmount(200), false, now)
	w.Enqueue(r)

	_, err := waitOutcome(t, r)
	require.NoError(t, err)
	assert.Equal(t, 0, quota.ReceivedBy("0xaaa").Sign())
	assert.Equal(t, 0, quota.Remaining().Cmp(domain.NewAmount(300)))
	assert.Equal(t, time.Duration(0), quota.CooldownRemaining("operator", now))
}

func TestStopResolvesQueuedRequests(t *testing.T) {
	now := time.Now()
	node := newFakeNode(300)
	node.confirmWait = 50 * time.Millisecond
	w := testWorker(t, node, testLedger(now))

	first := NewRequest("alice", "0xaaa", domain.NewAmount(10), true, now)
	queued := NewRequest("bob", "0xbbb", domain.NewAmount(10), true, now)
	w.Enqueue(first)
	w.Enqueue(queued)
	w.Stop()

	_, err := waitOutcome(t, queued)
	require.ErrorIs(t, err, domain.ErrShuttingDown)

	late := NewRequest("carol", "0xccc", domain.NewAmount(10), true, now)
	w.Enqueue(late)
	_, err = waitOutcome(t, late)
	require.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestLookupTracksRequests(t *testing.T) {
	now := time.Now()
	node := newFakeNode(300)
	w := testWorker(t, node, testLedger(now))

	r := NewRequest("alice", "0xaaa", domain.NewAmount(10), true, now)
	w.Enqueue(r)
	_, err := waitOutcome(t, r)
	require.NoError(t, err)

	got, ok := w.Lookup(r.ID)
	require.True(t, ok)
	view := got.View()
	assert.Equal(t, StatusConfirmed, view.Status)
	assert.Equal(t, "0xtx", view.TxID)
}
