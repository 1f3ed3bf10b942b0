package game

import (
	"encoding/json"
	"time"
)

// Envelope is the websocket frame: {"type":"...","payload":{...}}
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StatePayload is the full game view returned by the state endpoint and
// pushed over the websocket stream. Empty cells serialize as null.
type StatePayload struct {
	MatchID         string            `json:"matchId"`
	ContractAddress string            `json:"contractAddress"`
	Board           []*string         `json:"board"`
	Players         map[string]string `json:"players"` // symbol -> wallet
	CurrentTurn     string            `json:"currentTurn"`
	Status          string            `json:"status"`
	Winner          string            `json:"winner,omitempty"`
	DeadlineMs      int64             `json:"moveDeadlineMs"` // unix millis, 0 when no clock
	MoveHistory     []MoveRecord      `json:"moveHistory"`
	Settled         bool              `json:"settled"`
}

// State builds the current public view.
func (g *Game) State() StatePayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Game) stateLocked() StatePayload {
	board := make([]*string, len(g.board))
	for i, cell := range g.board {
		if cell != "" {
			v := string(cell)
			board[i] = &v
		}
	}

	var deadlineMs int64
	if !g.deadline.IsZero() {
		deadlineMs = g.deadline.UnixMilli()
	}

	return StatePayload{
		MatchID:         g.id,
		ContractAddress: g.contractAddr,
		Board:           board,
		Players: map[string]string{
			string(X): g.players[X],
			string(O): g.players[O],
		},
		CurrentTurn: string(g.turn),
		Status:      g.status,
		Winner:      g.winner,
		DeadlineMs:  deadlineMs,
		MoveHistory: append([]MoveRecord(nil), g.history...),
		Settled:     g.settled,
	}
}

func toMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
