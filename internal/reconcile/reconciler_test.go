package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/stakematch/internal/chain"
	"example.com/stakematch/internal/countdown"
	"example.com/stakematch/internal/game"
)

const (
	testContract = "0x1234567890123456789012345678901234567890"
	testWalletA  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testWalletB  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type nopPersistence struct{}

func (nopPersistence) Save(ctx context.Context, matchID string, snap game.Snapshot) error {
	return nil
}

func (nopPersistence) Load(ctx context.Context, matchID string) (game.Snapshot, bool, error) {
	return game.Snapshot{}, false, nil
}

func (nopPersistence) Delete(ctx context.Context, matchID string) error { return nil }

type flakyWriter struct {
	mu        sync.Mutex
	fail      bool
	finalized int
}

func (w *flakyWriter) Activate(ctx context.Context, addr common.Address) (common.Hash, error) {
	return common.Hash{}, nil
}

func (w *flakyWriter) Finalize(ctx context.Context, addr, winner common.Address, draw bool) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return common.Hash{}, errors.New("rpc down")
	}
	w.finalized++
	return common.HexToHash("0xdead"), nil
}

func (w *flakyWriter) Cancel(ctx context.Context, addr common.Address) (common.Hash, error) {
	return common.Hash{}, nil
}

func (w *flakyWriter) setFail(fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = fail
}

func (w *flakyWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalized
}

type flakyReader struct {
	mu   sync.Mutex
	info chain.MatchInfo
}

func (r *flakyReader) MatchInfo(ctx context.Context, addr common.Address) (chain.MatchInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info, nil
}

func (r *flakyReader) set(info chain.MatchInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
}

func TestReconciler_RetriesFailedSettlement(t *testing.T) {
	writer := &flakyWriter{fail: true}
	games := game.NewService(game.ServiceConfig{
		FinalizeDeleteDelay: time.Minute,
	}, nopPersistence{}, writer, nil, slog.Default())

	g, _, err := games.Init(context.Background(), "m1", testContract, [2]string{testWalletA, testWalletB})
	require.NoError(t, err)
	require.NotNil(t, g.HandleTimeout())

	require.Eventually(t, func() bool {
		return len(games.UnsettledGames()) == 1
	}, time.Second, 5*time.Millisecond)

	reader := &flakyReader{info: chain.MatchInfo{Status: chain.MatchActive}}
	countdowns := countdown.NewService(time.Hour, reader, writer, slog.Default())
	r := New(games, countdowns, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	// chain stays down for a few ticks, then recovers
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, writer.count())
	writer.setFail(false)

	require.Eventually(t, func() bool {
		return writer.count() == 1 && len(games.UnsettledGames()) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func TestReconciler_DropsStaleCountdowns(t *testing.T) {
	reader := &flakyReader{info: chain.MatchInfo{
		Status: chain.MatchOpen,
		Players: []common.Address{
			common.HexToAddress(testWalletA),
			common.HexToAddress(testWalletB),
		},
		MaxPlayers: 2,
	}}
	writer := &flakyWriter{}
	countdowns := countdown.NewService(time.Hour, reader, writer, slog.Default())

	_, err := countdowns.Status(context.Background(), "m1", testContract)
	require.NoError(t, err)
	require.Len(t, countdowns.Tracked(), 1)

	// the match got activated outside the countdown path
	info := chain.MatchInfo{Status: chain.MatchActive, MaxPlayers: 2}
	info.Players = []common.Address{
		common.HexToAddress(testWalletA),
		common.HexToAddress(testWalletB),
	}
	reader.set(info)

	games := game.NewService(game.ServiceConfig{
		FinalizeDeleteDelay: time.Minute,
	}, nopPersistence{}, writer, nil, slog.Default())
	r := New(games, countdowns, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		return len(countdowns.Tracked()) == 0
	}, time.Second, 10*time.Millisecond)
}
