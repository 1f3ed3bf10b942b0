package reconcile

import (
	"context"
	"log/slog"
	"time"

	"example.com/stakematch/internal/countdown"
	"example.com/stakematch/internal/game"
)

// Reconciler is a polling loop that closes the gap between off-chain
// and on-chain state: games finished in memory but never finalized on
// chain get their settlement retried, and countdown records for matches
// that moved on outside the countdown path are dropped.
type Reconciler struct {
	games      *game.Service
	countdowns *countdown.Service
	interval   time.Duration
	log        *slog.Logger
}

func New(games *game.Service, countdowns *countdown.Service, interval time.Duration, log *slog.Logger) *Reconciler {
	return &Reconciler{
		games:      games,
		countdowns: countdowns,
		interval:   interval,
		log:        log,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("reconciler started", "interval", r.interval)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	defer r.log.Info("reconciler stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	for _, info := range r.games.UnsettledGames() {
		r.log.Info("retrying settlement", "matchId", info.MatchID, "winner", info.Winner)
		if err := r.games.Settle(info); err != nil {
			r.log.Warn("settlement retry failed", "matchId", info.MatchID, "err", err)
		}
		if ctx.Err() != nil {
			return
		}
	}

	for matchID, contractAddr := range r.countdowns.Tracked() {
		if _, err := r.countdowns.Status(ctx, matchID, contractAddr); err != nil {
			r.log.Warn("countdown reconcile failed", "matchId", matchID, "err", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
