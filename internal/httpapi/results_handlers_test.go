package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/stakematch/internal/store"
)

type fakeTallyReader struct {
	tally  store.WalletTally
	err    error
	wallet string
}

func (r *fakeTallyReader) Tally(ctx context.Context, wallet string) (store.WalletTally, error) {
	r.wallet = wallet
	return r.tally, r.err
}

func TestTally(t *testing.T) {
	reader := &fakeTallyReader{tally: store.WalletTally{
		Wallet: testWalletA,
		Wins:   3,
		Losses: 1,
		Draws:  2,
	}}
	h := &ResultsHandler{Results: reader, Log: slog.Default()}

	req := httptest.NewRequest(http.MethodGet, "/api/results?wallet=0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", nil)
	rec := httptest.NewRecorder()
	h.Tally(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testWalletA, reader.wallet, "wallet is lowercased before the query")

	body := decode(t, rec)
	tally, ok := body["tally"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, tally["wins"])
}

func TestTally_RequiresWallet(t *testing.T) {
	h := &ResultsHandler{Results: &fakeTallyReader{}, Log: slog.Default()}

	req := httptest.NewRequest(http.MethodGet, "/api/results", nil)
	rec := httptest.NewRecorder()
	h.Tally(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTally_StoreErrorIs500(t *testing.T) {
	h := &ResultsHandler{
		Results: &fakeTallyReader{err: errors.New("db down")},
		Log:     slog.Default(),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/results?wallet="+testWalletA, nil)
	rec := httptest.NewRecorder()
	h.Tally(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
