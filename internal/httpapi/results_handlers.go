package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"example.com/stakematch/internal/store"
)

// TallyReader is implemented by the Postgres result store.
type TallyReader interface {
	Tally(ctx context.Context, wallet string) (store.WalletTally, error)
}

type ResultsHandler struct {
	Results TallyReader
	Log     *slog.Logger
}

func (h *ResultsHandler) Tally(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	t, err := h.Results.Tally(r.Context(), normalizeWallet(wallet))
	if err != nil {
		h.Log.Error("tally query failed", "wallet", wallet, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tally": t})
}

func normalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
