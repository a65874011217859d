package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Veenoway/spiky-faucet/internal/api/problem"
	"github.com/Veenoway/spiky-faucet/internal/domain"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an RFC 7807 error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// mapIntakeError turns an enqueue-time rejection into an HTTP status and
// problem slug.
func mapIntakeError(err error) (status int, problemType string, ok bool) {
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		return http.StatusBadRequest, "faucet/invalid-address", true
	case errors.Is(err, domain.ErrCooldownActive):
		return http.StatusTooManyRequests, "faucet/cooldown-active", true
	case errors.Is(err, domain.ErrRecipientCapExceeded):
		return http.StatusForbidden, "faucet/recipient-cap-exceeded", true
	case errors.Is(err, domain.ErrGlobalBudgetExceeded):
		return http.StatusServiceUnavailable, "faucet/global-budget-exceeded", true
	case errors.Is(err, domain.ErrRecipientBalanceHigh):
		return http.StatusForbidden, "faucet/recipient-balance-high", true
	default:
		return 0, "", false
	}
}
