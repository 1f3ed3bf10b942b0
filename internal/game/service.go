package game

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"example.com/stakematch/internal/chain"
)

// ResultRecorder archives finished matches off-chain (Postgres).
type ResultRecorder interface {
	RecordMatch(ctx context.Context, info FinishInfo) error
}

type ServiceConfig struct {
	MoveTimeout         time.Duration
	FinalizeDeleteDelay time.Duration
	SettleTimeout       time.Duration
}

// Service owns the in-memory game map, snapshot persistence and the
// settlement of finished games back to their GameMatch contracts.
type Service struct {
	mu           sync.Mutex
	games        map[string]*Game
	deleteTimers map[string]*time.Timer

	cfg     ServiceConfig
	persist Persistence
	writer  chain.MatchWriter
	results ResultRecorder
	log     *slog.Logger

	score      chain.ScoreWriter
	scoreBoard func() (string, bool) // registry lookup, may move after deploys
}

func NewService(cfg ServiceConfig, persist Persistence, writer chain.MatchWriter, results ResultRecorder, log *slog.Logger) *Service {
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 2 * time.Minute
	}
	return &Service{
		games:        make(map[string]*Game),
		deleteTimers: make(map[string]*time.Timer),
		cfg:          cfg,
		persist:      persist,
		writer:       writer,
		results:      results,
		log:          log,
	}
}

// AttachScoreBoard makes settlement also push results to the ScoreBoard
// contract resolved through lookup. Optional; score records are
// best-effort and never block escrow payout.
func (s *Service) AttachScoreBoard(score chain.ScoreWriter, lookup func() (string, bool)) {
	s.score = score
	s.scoreBoard = lookup
}

// Init creates the game for a verified Active match. Calling it again
// for the same match returns the existing game (idempotent).
func (s *Service) Init(ctx context.Context, matchID, contractAddr string, players [2]string) (*Game, bool, error) {
	if players[0] == "" || players[1] == "" {
		return nil, false, errors.New("two player addresses are required")
	}
	if normalizeWallet(players[0]) == normalizeWallet(players[1]) {
		return nil, false, errors.New("players must be distinct")
	}

	s.mu.Lock()
	if g, ok := s.games[matchID]; ok {
		s.mu.Unlock()
		return g, false, nil
	}
	g := NewGame(matchID, contractAddr, players, s.cfg.MoveTimeout)
	s.hook(g)
	s.games[matchID] = g
	s.mu.Unlock()

	g.mu.Lock()
	snap := g.snapshotLocked()
	g.mu.Unlock()
	if err := s.persist.Save(ctx, matchID, snap); err != nil {
		s.log.Warn("initial snapshot save failed", "matchId", matchID, "err", err)
	}

	g.StartClock()
	return g, true, nil
}

// GetOrLoad returns the in-memory game, falling back to the snapshot
// store. A restored active game gets its move clock re-armed; if the
// deadline already passed while the process was down, the timeout is
// applied immediately.
func (s *Service) GetOrLoad(ctx context.Context, matchID string) (*Game, bool, error) {
	s.mu.Lock()
	g, ok := s.games[matchID]
	s.mu.Unlock()
	if ok {
		return g, true, nil
	}

	snap, found, err := s.persist.Load(ctx, matchID)
	if err != nil || !found {
		return nil, false, err
	}

	g = NewGame(matchID, snap.ContractAddress, [2]string{snap.PlayerX, snap.PlayerO}, s.cfg.MoveTimeout)
	g.mu.Lock()
	g.restoreLocked(snap)
	g.mu.Unlock()
	s.hook(g)

	s.mu.Lock()
	// a concurrent loader may have won
	if existing, ok := s.games[matchID]; ok {
		s.mu.Unlock()
		return existing, true, nil
	}
	s.games[matchID] = g
	s.mu.Unlock()

	if g.DeadlineExpired() {
		g.HandleTimeout()
	} else {
		g.mu.Lock()
		if g.status == StatusActive {
			g.resumeClockLocked()
		}
		g.mu.Unlock()
	}

	return g, true, nil
}

// HandleTimeout applies an expired move deadline. Mirrors the game
// semantics: nil result on anything but an active timed-out game.
func (s *Service) HandleTimeout(ctx context.Context, matchID string) (*FinishInfo, error) {
	g, ok, err := s.GetOrLoad(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGameNotFound
	}
	if !g.DeadlineExpired() {
		return nil, nil
	}
	return g.HandleTimeout(), nil
}

// Delete removes all state for the match and stops its timers.
func (s *Service) Delete(ctx context.Context, matchID string) {
	s.mu.Lock()
	g := s.games[matchID]
	delete(s.games, matchID)
	if t, ok := s.deleteTimers[matchID]; ok {
		t.Stop()
		delete(s.deleteTimers, matchID)
	}
	s.mu.Unlock()

	if g != nil {
		g.StopClock()
	}
	if err := s.persist.Delete(ctx, matchID); err != nil {
		s.log.Warn("snapshot delete failed", "matchId", matchID, "err", err)
	}
	s.log.Info("game deleted", "matchId", matchID)
}

// UnsettledGames lists games finished in memory whose on-chain finalize
// has not been confirmed. The reconciler drains this.
func (s *Service) UnsettledGames() []FinishInfo {
	s.mu.Lock()
	games := make([]*Game, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, g)
	}
	s.mu.Unlock()

	var out []FinishInfo
	for _, g := range games {
		if info, ok := g.finishedUnsettled(); ok {
			out = append(out, info)
		}
	}
	return out
}

// SettleMatch triggers settlement for a finished game by ID. Settling
// an already settled game is a no-op.
func (s *Service) SettleMatch(ctx context.Context, matchID string) error {
	g, ok, err := s.GetOrLoad(ctx, matchID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGameNotFound
	}

	info, unsettled := g.finishedUnsettled()
	if !unsettled {
		g.mu.Lock()
		finished := g.status == StatusFinished
		g.mu.Unlock()
		if finished {
			return nil // already settled
		}
		return ErrNotFinished
	}
	return s.Settle(info)
}

// Settle pushes a finished game's result into its contract. On success
// the result is archived and the game is deleted after a short delay; on
// failure the game stays unsettled for the reconciler to retry.
func (s *Service) Settle(info FinishInfo) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SettleTimeout)
	defer cancel()

	addr := common.HexToAddress(info.ContractAddr)
	winner := common.Address{}
	if !info.Draw {
		winner = common.HexToAddress(info.WinnerWallet)
	}

	txHash, err := s.writer.Finalize(ctx, addr, winner, info.Draw)
	if err != nil {
		s.log.Error("on-chain finalize failed, leaving game unsettled",
			"matchId", info.MatchID, "contract", info.ContractAddr, "err", err)
		return err
	}
	s.log.Info("match finalized on chain", "matchId", info.MatchID, "winner", info.Winner, "tx", txHash.Hex())

	if s.score != nil && s.scoreBoard != nil {
		if boardAddr, ok := s.scoreBoard(); ok {
			winnerAddr := common.HexToAddress(info.WinnerWallet)
			loserAddr := common.HexToAddress(info.LoserWallet)
			if _, err := s.score.RecordResult(ctx, common.HexToAddress(boardAddr), winnerAddr, loserAddr, info.Draw); err != nil {
				s.log.Warn("score board record failed", "matchId", info.MatchID, "board", boardAddr, "err", err)
			}
		}
	}

	if s.results != nil {
		if err := s.results.RecordMatch(ctx, info); err != nil {
			s.log.Warn("result archive failed", "matchId", info.MatchID, "err", err)
		}
	}

	s.mu.Lock()
	g := s.games[info.MatchID]
	s.mu.Unlock()
	if g != nil {
		g.MarkSettled()
	}

	s.scheduleDelete(info.MatchID)
	return nil
}

func (s *Service) scheduleDelete(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.deleteTimers[matchID]; ok {
		t.Stop()
	}
	s.deleteTimers[matchID] = time.AfterFunc(s.cfg.FinalizeDeleteDelay, func() {
		s.Delete(context.Background(), matchID)
	})
}

func (s *Service) hook(g *Game) {
	g.onPersist = func(snap Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.persist.Save(ctx, snap.MatchID, snap); err != nil {
			s.log.Warn("snapshot save failed", "matchId", snap.MatchID, "err", err)
		}
	}
	g.onFinish = func(info FinishInfo) {
		_ = s.Settle(info) // failures are retried by the reconciler
	}
}

func (g *Game) resumeClockLocked() {
	if g.deadline.IsZero() {
		return
	}
	g.timerToken++
	token := g.timerToken
	if g.moveTimer != nil {
		g.moveTimer.Stop()
	}
	g.moveTimer = time.AfterFunc(time.Until(g.deadline), func() {
		g.onClockExpired(token)
	})
}
