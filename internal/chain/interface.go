package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MatchStatus mirrors the GameMatch contract's status enum.
type MatchStatus uint8

const (
	MatchOpen MatchStatus = iota
	MatchActive
	MatchFinished
	MatchCancelled
)

func (s MatchStatus) String() string {
	switch s {
	case MatchOpen:
		return "Open"
	case MatchActive:
		return "Active"
	case MatchFinished:
		return "Finished"
	case MatchCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// MatchInfo is the on-chain view of a GameMatch instance.
type MatchInfo struct {
	Status     MatchStatus
	Players    []common.Address
	MaxPlayers uint8
	Stake      *big.Int
}

func (i MatchInfo) Full() bool {
	return len(i.Players) > 0 && len(i.Players) == int(i.MaxPlayers)
}

// MatchReader reads GameMatch state.
type MatchReader interface {
	MatchInfo(ctx context.Context, addr common.Address) (MatchInfo, error)
}

// MatchWriter drives privileged GameMatch transitions with the
// controller key.
type MatchWriter interface {
	Activate(ctx context.Context, addr common.Address) (common.Hash, error)
	Finalize(ctx context.Context, addr common.Address, winner common.Address, draw bool) (common.Hash, error)
	Cancel(ctx context.Context, addr common.Address) (common.Hash, error)
}

// ScoreWriter records final results on a ScoreBoard contract.
type ScoreWriter interface {
	RecordResult(ctx context.Context, board, winner, loser common.Address, draw bool) (common.Hash, error)
}

// Deployer creates new contract instances through the factories.
type Deployer interface {
	DeployGameMatch(ctx context.Context, stake *big.Int, maxPlayers uint8) (common.Address, common.Hash, error)
	DeployScoreBoard(ctx context.Context) (common.Address, common.Hash, error)
}
