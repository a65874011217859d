package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/chain"
)

// HealthHandler exposes Kubernetes-style liveness and readiness endpoints.
type HealthHandler struct {
	node      chain.Node
	probeAddr string
}

func NewHealthHandler(node chain.Node, probeAddr string) *HealthHandler {
	return &HealthHandler{node: node, probeAddr: probeAddr}
}

// Live always reports OK – if the process is up, it's live.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready checks that the chain node answers a balance query.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.node.GetAvailableBalance(ctx, h.probeAddr); err != nil {
		RespondError(w, r, http.StatusServiceUnavailable, "health/node-unavailable", "chain node unavailable")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
