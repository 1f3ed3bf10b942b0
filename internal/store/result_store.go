package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/stakematch/internal/game"
)

// WalletTally is the per-wallet win/loss/draw summary.
type WalletTally struct {
	Wallet string `json:"wallet"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
	Draws  int    `json:"draws"`
}

// ResultStore archives finished matches in Postgres. The escrow payout
// lives on chain; this is the off-chain history the UI queries.
type ResultStore struct {
	db *pgxpool.Pool
}

func NewResultStore(db *pgxpool.Pool) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) RecordMatch(ctx context.Context, info game.FinishInfo) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO match_results
			(match_id, contract_address, player_x, player_o, winner_wallet, draw, moves, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id) DO NOTHING
	`, info.MatchID, info.ContractAddr, info.PlayerX, info.PlayerO, info.WinnerWallet, info.Draw, info.Moves, time.Now().UTC())
	return err
}

func (s *ResultStore) Tally(ctx context.Context, wallet string) (WalletTally, error) {
	t := WalletTally{Wallet: wallet}
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE winner_wallet = $1)                              AS wins,
			COUNT(*) FILTER (WHERE NOT draw AND winner_wallet <> $1
				AND $1 IN (player_x, player_o))                                     AS losses,
			COUNT(*) FILTER (WHERE draw AND $1 IN (player_x, player_o))             AS draws
		FROM match_results
	`, wallet).Scan(&t.Wins, &t.Losses, &t.Draws)
	if err != nil {
		return WalletTally{}, err
	}
	return t, nil
}
