package game

import "time"

// Snapshot is the serializable game state stored in Redis so an active
// game survives a process restart.
type Snapshot struct {
	MatchID         string       `json:"matchId"`
	ContractAddress string       `json:"contractAddress"`
	Board           [9]Symbol    `json:"board"`
	PlayerX         string       `json:"playerX"`
	PlayerO         string       `json:"playerO"`
	CurrentTurn     Symbol       `json:"currentTurn"`
	Status          string       `json:"status"`
	Winner          string       `json:"winner"`
	DeadlineMs      int64        `json:"moveDeadlineMs"`
	MoveHistory     []MoveRecord `json:"moveHistory"`
	Settled         bool         `json:"settled"`
}

func (g *Game) snapshotLocked() Snapshot {
	return Snapshot{
		MatchID:         g.id,
		ContractAddress: g.contractAddr,
		Board:           g.board,
		PlayerX:         g.players[X],
		PlayerO:         g.players[O],
		CurrentTurn:     g.turn,
		Status:          g.status,
		Winner:          g.winner,
		DeadlineMs:      toMs(g.deadline),
		MoveHistory:     append([]MoveRecord(nil), g.history...),
		Settled:         g.settled,
	}
}

func (g *Game) restoreLocked(s Snapshot) {
	g.contractAddr = s.ContractAddress
	g.board = s.Board
	g.players[X] = s.PlayerX
	g.players[O] = s.PlayerO
	g.turn = s.CurrentTurn
	g.status = s.Status
	g.winner = s.Winner
	g.settled = s.Settled
	g.history = append([]MoveRecord(nil), s.MoveHistory...)

	if s.DeadlineMs > 0 {
		g.deadline = time.UnixMilli(s.DeadlineMs)
	} else {
		g.deadline = time.Time{}
	}
}
