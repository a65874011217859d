package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/dispatch"
	"github.com/Veenoway/spiky-faucet/internal/faucet"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// FaucetHandler exposes the drip intake and request polling endpoints.
type FaucetHandler struct {
	svc    *faucet.Service
	worker *dispatch.Worker
}

func NewFaucetHandler(svc *faucet.Service, worker *dispatch.Worker) *FaucetHandler {
	return &FaucetHandler{svc: svc, worker: worker}
}

type dripRequest struct {
	UserID  string `json:"user_id"`
	Address string `json:"address"`
}

type dripResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Drip accepts a faucet request and returns 202 with the request id. The
// transfer itself is asynchronous; poll GET /v1/faucet/requests/{id} or
// subscribe to the event stream for the outcome.
func (h *FaucetHandler) Drip(w http.ResponseWriter, r *http.Request) {
	var req dripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "faucet/invalid-body", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		RespondError(w, r, http.StatusBadRequest, "faucet/missing-user", "user_id is required")
		return
	}

	handle, err := h.svc.Drip(r.Context(), req.UserID, req.Address, time.Now())
	if err != nil {
		if status, slug, ok := mapIntakeError(err); ok {
			RespondError(w, r, status, slug, err.Error())
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "faucet/intake-failed", "could not accept request")
		return
	}

	RespondJSON(w, http.StatusAccepted, dripResponse{
		RequestID: handle.ID.String(),
		Status:    string(dispatch.StatusQueued),
	})
}

// GetRequest returns the current state of a previously accepted request.
func (h *FaucetHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "faucet/invalid-request-id", "request id must be a UUID")
		return
	}
	req, ok := h.worker.Lookup(id)
	if !ok {
		RespondError(w, r, http.StatusNotFound, "faucet/request-not-found", "unknown or expired request id")
		return
	}
	RespondJSON(w, http.StatusOK, req.View())
}

// Status reports the quota counters. Optional query params `user` and
// `address` add the per-user cooldown and per-recipient view.
func (h *FaucetHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	address := r.URL.Query().Get("address")
	RespondJSON(w, http.StatusOK, h.svc.Status(user, address, time.Now()))
}
