package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/api/middleware"
	"github.com/Veenoway/spiky-faucet/internal/dispatch"
	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/Veenoway/spiky-faucet/internal/faucet"
)

// AdminHandler exposes operator-only endpoints: arbitrary grants and funding
// identity balances.
type AdminHandler struct {
	svc      *faucet.Service
	decimals int32
}

func NewAdminHandler(svc *faucet.Service, decimals int32) *AdminHandler {
	return &AdminHandler{svc: svc, decimals: decimals}
}

type grantRequest struct {
	Address string `json:"address"`
	// Amount is a human token value, e.g. "2.5".
	Amount string `json:"amount"`
}

// Grant transfers an arbitrary amount to an address, outside the quota
// ledger. Requires the admin role.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "admin/invalid-body", "invalid JSON body")
		return
	}

	amount, err := domain.ParseTokens(req.Amount, h.decimals)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "admin/invalid-amount", err.Error())
		return
	}

	operator := middleware.OperatorIDFromContext(r.Context())
	handle, err := h.svc.Grant(r.Context(), operator, req.Address, amount, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAddress) {
			RespondError(w, r, http.StatusBadRequest, "faucet/invalid-address", err.Error())
			return
		}
		RespondError(w, r, http.StatusBadRequest, "admin/invalid-grant", err.Error())
		return
	}

	RespondJSON(w, http.StatusAccepted, dripResponse{
		RequestID: handle.ID.String(),
		Status:    string(dispatch.StatusQueued),
	})
}

// Balances lists every funding identity with its current balance.
func (h *AdminHandler) Balances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.svc.Balances(r.Context())
	if err != nil {
		RespondError(w, r, http.StatusBadGateway, "admin/balance-query-failed", err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"identities": balances})
}
