package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/domain"
)

// AddressValidator is the pure format check delegated to the chain layer.
type AddressValidator interface {
	IsValidAddress(address string) bool
}

// SubmitParams carries everything needed to sign and send one transfer.
type SubmitParams struct {
	IdentityID string
	Recipient  string
	Amount     domain.Amount
	Sequence   uint64
}

// PendingTransfer is the handle returned by a submission before it is
// confirmed on chain.
type PendingTransfer struct {
	TxID       string
	IdentityID string
	Sequence   uint64
}

// Node is the funding-source query and transfer-submission contract. The
// dispatcher treats it as given: implementations wrap a real RPC client or,
// in tests and the demo wiring, the in-memory MockNode.
type Node interface {
	// GetAvailableBalance returns the spendable balance of an address.
	GetAvailableBalance(ctx context.Context, address string) (domain.Amount, error)
	// GetNextSequence returns the next outgoing sequence number for an
	// identity, re-derived from the authoritative source on every call.
	GetNextSequence(ctx context.Context, identityID string) (uint64, error)
	// Submit sends a transfer and returns a pending handle.
	Submit(ctx context.Context, params SubmitParams) (*PendingTransfer, error)
	// AwaitConfirmation blocks until the pending transfer is confirmed or
	// the timeout elapses, returning the transaction id on success. A
	// timeout is reported as ErrConfirmationTimeout; the underlying
	// transfer may still land.
	AwaitConfirmation(ctx context.Context, pending *PendingTransfer, timeout time.Duration) (string, error)
}

// ErrConfirmationTimeout is returned by AwaitConfirmation when the bounded
// wait elapses with the transfer still unconfirmed.
var ErrConfirmationTimeout = errors.New("confirmation wait timed out")

// ErrorKind classifies node faults for the dispatcher's retry decision.
type ErrorKind int

const (
	// KindPermanent faults never succeed on retry.
	KindPermanent ErrorKind = iota
	// KindTransient faults (network blips, overloaded RPC) may clear.
	KindTransient
	// KindStaleSequence means the sequence number was already consumed or
	// expired; a retry must re-fetch it first.
	KindStaleSequence
)

// Error is a node fault tagged with its kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a node fault of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a transient node fault.
func IsTransient(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindTransient
}

// IsStaleSequence reports whether err is a stale or expired sequence fault.
func IsStaleSequence(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindStaleSequence
}
