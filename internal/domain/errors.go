package domain

import "errors"

// Rejection reasons returned synchronously at enqueue time. None of them
// consumes quota: a rejected caller may retry without penalty.
var (
	ErrInvalidAddress       = errors.New("recipient address is not well-formed")
	ErrCooldownActive       = errors.New("user is still within the cooldown window")
	ErrRecipientCapExceeded = errors.New("recipient would exceed the lifetime cap")
	ErrGlobalBudgetExceeded = errors.New("global rolling budget would be exceeded")
	ErrRecipientBalanceHigh = errors.New("recipient already holds sufficient balance")
)

// Terminal dispatch failures, resolved asynchronously on the request handle.
// The ledger is never committed on any of these.
var (
	ErrNoFundingAvailable = errors.New("no funding identity can cover the amount")
	ErrSubmissionTimeout  = errors.New("transfer confirmation timed out")
	ErrSubmissionFailed   = errors.New("transfer submission failed")
	ErrRetryExhausted     = errors.New("transient submission faults exhausted the retry budget")
	ErrShuttingDown       = errors.New("dispatcher is shutting down")
)

// IsRejection reports whether err is an enqueue-time rejection rather than an
// in-flight dispatch failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidAddress,
		ErrCooldownActive,
		ErrRecipientCapExceeded,
		ErrGlobalBudgetExceeded,
		ErrRecipientBalanceHigh,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FailureReason maps a terminal dispatch error to a stable machine-readable
// label used in metrics, events and API responses.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoFundingAvailable):
		return "no_funding_available"
	case errors.Is(err, ErrSubmissionTimeout):
		return "submission_timeout"
	case errors.Is(err, ErrRetryExhausted):
		return "retry_exhausted"
	case errors.Is(err, ErrShuttingDown):
		return "shutting_down"
	default:
		return "submission_error"
	}
}
