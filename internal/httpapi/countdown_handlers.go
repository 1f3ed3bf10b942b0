package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"example.com/stakematch/internal/countdown"
)

type CountdownHandler struct {
	Countdowns *countdown.Service
	Log        *slog.Logger
}

// Status polls the activation countdown. The countdown service
// re-verifies the on-chain match state on every call.
func (h *CountdownHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	matchID := r.URL.Query().Get("matchId")
	contractAddr := r.URL.Query().Get("contractAddress")
	if matchID == "" || !common.IsHexAddress(contractAddr) {
		writeError(w, http.StatusBadRequest, "matchId and contractAddress are required")
		return
	}

	p, err := h.Countdowns.Status(r.Context(), matchID, contractAddr)
	if err != nil {
		h.Log.Error("countdown status failed", "matchId", matchID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read match on chain")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"countdown": p,
	})
}

type countdownCancelRequest struct {
	MatchID string `json:"matchId"`
}

func (h *CountdownHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req countdownCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MatchID == "" {
		writeError(w, http.StatusBadRequest, "matchId is required")
		return
	}

	if !h.Countdowns.Cancel(req.MatchID) {
		writeError(w, http.StatusNotFound, "No countdown for this match")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
