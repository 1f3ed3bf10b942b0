package game

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
)

// memPersistence is an in-memory stand-in for the Redis snapshot store.
type memPersistence struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func newMemPersistence() *memPersistence {
	return &memPersistence{snaps: make(map[string]Snapshot)}
}

func (p *memPersistence) Save(ctx context.Context, matchID string, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps[matchID] = snap
	return nil
}

func (p *memPersistence) Load(ctx context.Context, matchID string) (Snapshot, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snaps[matchID]
	return snap, ok, nil
}

func (p *memPersistence) Delete(ctx context.Context, matchID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.snaps, matchID)
	return nil
}

// fakeWriter records finalize calls and can be told to fail.
type fakeWriter struct {
	mu        sync.Mutex
	fail      bool
	finalized []struct {
		Addr   common.Address
		Winner common.Address
		Draw   bool
	}
}

func (w *fakeWriter) Activate(ctx context.Context, addr common.Address) (common.Hash, error) {
	return common.Hash{}, nil
}

func (w *fakeWriter) Finalize(ctx context.Context, addr, winner common.Address, draw bool) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return common.Hash{}, errors.New("rpc down")
	}
	w.finalized = append(w.finalized, struct {
		Addr   common.Address
		Winner common.Address
		Draw   bool
	}{addr, winner, draw})
	return common.HexToHash("0xdead"), nil
}

func (w *fakeWriter) Cancel(ctx context.Context, addr common.Address) (common.Hash, error) {
	return common.Hash{}, nil
}

func (w *fakeWriter) setFail(fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = fail
}

func (w *fakeWriter) finalizeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.finalized)
}

// fakeScoreWriter records RecordResult calls.
type fakeScoreWriter struct {
	mu      sync.Mutex
	records []struct {
		Board  common.Address
		Winner common.Address
		Loser  common.Address
		Draw   bool
	}
}

func (w *fakeScoreWriter) RecordResult(ctx context.Context, board, winner, loser common.Address, draw bool) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, struct {
		Board  common.Address
		Winner common.Address
		Loser  common.Address
		Draw   bool
	}{board, winner, loser, draw})
	return common.HexToHash("0xfeed"), nil
}

func (w *fakeScoreWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func newTestService(persist Persistence, writer *fakeWriter) *Service {
	return NewService(ServiceConfig{
		MoveTimeout:         0, // no clock in most tests
		FinalizeDeleteDelay: 10 * time.Millisecond,
	}, persist, writer, nil, slog.Default())
}

func playOut(t *testing.T, g *Game, moves []struct {
	wallet string
	pos    int
}) {
	t.Helper()
	for _, mv := range moves {
		_, err := g.Move(mv.wallet, mv.pos)
		require.NoError(t, err)
	}
}

func TestService_InitIsIdempotent(t *testing.T) {
	svc := newTestService(newMemPersistence(), &fakeWriter{})
	ctx := context.Background()

	g1, created, err := svc.Init(ctx, "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)
	require.True(t, created)

	g2, created, err := svc.Init(ctx, "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, g1, g2)
}

func TestService_InitValidatesPlayers(t *testing.T) {
	svc := newTestService(newMemPersistence(), &fakeWriter{})
	ctx := context.Background()

	_, _, err := svc.Init(ctx, "m1", matchContract, [2]string{walletA, ""})
	require.Error(t, err)

	_, _, err = svc.Init(ctx, "m1", matchContract, [2]string{walletA, walletA})
	require.Error(t, err)
}

func TestService_WinTriggersSettlementAndDelete(t *testing.T) {
	persist := newMemPersistence()
	writer := &fakeWriter{}
	svc := newTestService(persist, writer)
	ctx := context.Background()

	g, _, err := svc.Init(ctx, "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)

	playOut(t, g, []struct {
		wallet string
		pos    int
	}{
		{walletA, 0}, {walletB, 4},
		{walletA, 1}, {walletB, 5},
		{walletA, 2}, // X wins the top row
	})

	require.Eventually(t, func() bool {
		return writer.finalizeCount() == 1
	}, time.Second, 5*time.Millisecond)

	writer.mu.Lock()
	call := writer.finalized[0]
	writer.mu.Unlock()
	assert.Equal(t, common.HexToAddress(matchContract), call.Addr)
	assert.Equal(t, common.HexToAddress(walletA), call.Winner)
	assert.False(t, call.Draw)

	// the game is deleted shortly after settlement
	require.Eventually(t, func() bool {
		_, ok, _ := svc.GetOrLoad(ctx, "m1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestService_DrawFinalizesWithZeroWinner(t *testing.T) {
	writer := &fakeWriter{}
	svc := newTestService(newMemPersistence(), writer)
	ctx := context.Background()

	g, _, err := svc.Init(ctx, "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)

	for _, mv := range drawSequence {
		_, err := g.Move(mv.wallet, mv.pos)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return writer.finalizeCount() == 1
	}, time.Second, 5*time.Millisecond)

	writer.mu.Lock()
	call := writer.finalized[0]
	writer.mu.Unlock()
	assert.True(t, call.Draw)
	assert.Equal(t, common.Address{}, call.Winner)
}

func TestService_FailedFinalizeLeavesGameUnsettled(t *testing.T) {
	writer := &fakeWriter{fail: true}
	svc := newTestService(newMemPersistence(), writer)
	ctx := context.Background()

	g, _, err := svc.Init(ctx, "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)
	require.NotNil(t, g.HandleTimeout())

	require.Eventually(t, func() bool {
		return len(svc.UnsettledGames()) == 1
	}, time.Second, 5*time.Millisecond)

	info := svc.UnsettledGames()[0]
	assert.Equal(t, "m1", info.MatchID)
	assert.Equal(t, "O", info.Winner, "X was on the clock and forfeits")

	// chain recovers, reconciliation path settles the game
	writer.setFail(false)
	require.NoError(t, svc.Settle(info))
	assert.Empty(t, svc.UnsettledGames())
}

func TestService_SettlementRecordsScoreBoard(t *testing.T) {
	writer := &fakeWriter{}
	score := &fakeScoreWriter{}
	boardAddr := "0xdddddddddddddddddddddddddddddddddddddddd"

	svc := newTestService(newMemPersistence(), writer)
	svc.AttachScoreBoard(score, func() (string, bool) { return boardAddr, true })

	g, _, err := svc.Init(context.Background(), "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)
	require.NotNil(t, g.HandleTimeout())

	require.Eventually(t, func() bool {
		return score.count() == 1
	}, time.Second, 5*time.Millisecond)

	score.mu.Lock()
	rec := score.records[0]
	score.mu.Unlock()
	assert.Equal(t, common.HexToAddress(boardAddr), rec.Board)
	assert.Equal(t, common.HexToAddress(walletB), rec.Winner, "X timed out, O takes the score")
	assert.Equal(t, common.HexToAddress(walletA), rec.Loser)
	assert.False(t, rec.Draw)
}

func TestService_GetOrLoadRestoresFromSnapshot(t *testing.T) {
	persist := newMemPersistence()
	writer := &fakeWriter{}
	ctx := context.Background()

	svcA := NewService(ServiceConfig{
		MoveTimeout:         time.Minute,
		FinalizeDeleteDelay: 10 * time.Millisecond,
	}, persist, writer, nil, slog.Default())

	gA, _, err := svcA.Init(ctx, "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)
	_, err = gA.Move(walletA, 4)
	require.NoError(t, err)
	gA.StopClock()

	// fresh service, same persistence: simulates a restart
	svcB := NewService(ServiceConfig{
		MoveTimeout:         time.Minute,
		FinalizeDeleteDelay: 10 * time.Millisecond,
	}, persist, writer, nil, slog.Default())

	gB, ok, err := svcB.GetOrLoad(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)

	st := gB.State()
	require.NotNil(t, st.Board[4])
	assert.Equal(t, "X", *st.Board[4])
	assert.Equal(t, "O", st.CurrentTurn)
	assert.Equal(t, StatusActive, st.Status)
	assert.Positive(t, st.DeadlineMs, "restored game keeps its deadline")

	gB.StopClock()
}

func TestService_RestoredExpiredGameTimesOut(t *testing.T) {
	persist := newMemPersistence()
	writer := &fakeWriter{}
	ctx := context.Background()

	snap := Snapshot{
		MatchID:         "m1",
		ContractAddress: matchContract,
		PlayerX:         walletA,
		PlayerO:         walletB,
		CurrentTurn:     O,
		Status:          StatusActive,
		DeadlineMs:      time.Now().Add(-time.Minute).UnixMilli(),
	}
	require.NoError(t, persist.Save(ctx, "m1", snap))

	svc := newTestService(persist, writer)
	g, ok, err := svc.GetOrLoad(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)

	st := g.State()
	assert.Equal(t, StatusFinished, st.Status)
	assert.Equal(t, "X", st.Winner, "O was on the clock when the process died")
}

func TestService_HandleTimeout(t *testing.T) {
	svc := newTestService(newMemPersistence(), &fakeWriter{})
	ctx := context.Background()

	_, err := svc.HandleTimeout(ctx, "missing")
	require.ErrorIs(t, err, ErrGameNotFound)

	_, _, err = svc.Init(ctx, "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)

	// no deadline configured, nothing to apply
	info, err := svc.HandleTimeout(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestService_SettleMatch(t *testing.T) {
	writer := &fakeWriter{fail: true}
	svc := newTestService(newMemPersistence(), writer)
	ctx := context.Background()

	require.ErrorIs(t, svc.SettleMatch(ctx, "missing"), ErrGameNotFound)

	g, _, err := svc.Init(ctx, "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)
	require.ErrorIs(t, svc.SettleMatch(ctx, "m1"), ErrNotFinished)

	require.NotNil(t, g.HandleTimeout())
	require.Eventually(t, func() bool {
		return len(svc.UnsettledGames()) == 1
	}, time.Second, 5*time.Millisecond)

	writer.setFail(false)
	require.NoError(t, svc.SettleMatch(ctx, "m1"))
	assert.Equal(t, 1, writer.finalizeCount())
}
