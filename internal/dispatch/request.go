package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a transfer request.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusSubmitting Status = "SUBMITTING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
)

// Request is one queued transfer. The worker resolves it exactly once with
// either a transaction id or a failure; callers observe the outcome through
// Wait or View.
type Request struct {
	ID          uuid.UUID
	User        string
	Recipient   string
	Amount      domain.Amount
	SubmittedAt time.Time
	// CountsTowardQuota is false for admin grants, which bypass the ledger.
	CountsTowardQuota bool

	mu         sync.Mutex
	status     Status
	txID       string
	err        error
	resolvedAt time.Time
	done       chan struct{}
}

func NewRequest(user, recipient string, amount domain.Amount, countsTowardQuota bool, now time.Time) *Request {
	return &Request{
		ID:                uuid.New(),
		User:              user,
		Recipient:         recipient,
		Amount:            amount,
		SubmittedAt:       now,
		CountsTowardQuota: countsTowardQuota,
		status:            StatusQueued,
		done:              make(chan struct{}),
	}
}

func (r *Request) markSubmitting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusQueued {
		r.status = StatusSubmitting
	}
}

// resolve records the terminal outcome. Only the first call has any effect;
// the worker is the sole caller so a second call indicates a bug upstream.
func (r *Request) resolve(txID string, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return false
	default:
	}
	if err != nil {
		r.status = StatusFailed
	} else {
		r.status = StatusConfirmed
	}
	r.txID = txID
	r.err = err
	r.resolvedAt = time.Now()
	close(r.done)
	return true
}

// Wait blocks until the request reaches a terminal state or ctx is done. On
// confirmation it returns the transaction id.
func (r *Request) Wait(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.txID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done reports whether the request has reached a terminal state.
func (r *Request) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// View is a read-only snapshot for the API layer.
type View struct {
	ID          uuid.UUID     `json:"id"`
	User        string        `json:"user"`
	Recipient   string        `json:"recipient"`
	Amount      domain.Amount `json:"amount"`
	Status      Status        `json:"status"`
	TxID        string        `json:"tx_id,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

func (r *Request) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := View{
		ID:          r.ID,
		User:        r.User,
		Recipient:   r.Recipient,
		Amount:      r.Amount,
		Status:      r.status,
		TxID:        r.txID,
		SubmittedAt: r.SubmittedAt,
	}
	if r.err != nil {
		v.Reason = domain.FailureReason(r.err)
		v.Error = r.err.Error()
	}
	return v
}
