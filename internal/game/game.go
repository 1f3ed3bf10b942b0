package game

import (
	"errors"
	"strings"
	"sync"
	"time"
)

type Symbol string

const (
	X Symbol = "X"
	O Symbol = "O"
)

const (
	StatusActive   = "active"
	StatusFinished = "finished"
)

// Categorical move errors; the HTTP layer surfaces these strings
// verbatim in the response body.
var (
	ErrGameNotFound = errors.New("Game not found")
	ErrNotActive    = errors.New("Game is not active")
	ErrDeadline     = errors.New("Move deadline exceeded")
	ErrNotInMatch   = errors.New("Player is not in this match")
	ErrNotYourTurn  = errors.New("Not your turn")
	ErrBadPosition  = errors.New("Position out of range")
	ErrCellOccupied = errors.New("Cell already occupied")
	ErrNotFinished  = errors.New("Game is not finished")
)

// winningLines are scanned in this fixed order: rows, columns, then the
// two diagonals. The first completed line decides the winner.
var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

type MoveRecord struct {
	Player   string    `json:"player"`
	Position int       `json:"position"`
	At       time.Time `json:"at"`
}

// FinishInfo describes a finished game for the settlement hook.
type FinishInfo struct {
	MatchID      string
	ContractAddr string
	Winner       string // "X"|"O"|"draw"
	WinnerWallet string // empty on draw
	LoserWallet  string // empty on draw
	PlayerX      string
	PlayerO      string
	Draw         bool
	Moves        int
}

// Game is the off-chain tic-tac-toe state for one on-chain match. All
// mutation goes through the mutex; the timer token makes a stale
// time.AfterFunc a no-op, so at most one pending move clock is live.
type Game struct {
	id string
	mu sync.Mutex

	contractAddr string
	board        [9]Symbol // zero value = empty cell
	players      map[Symbol]string
	turn         Symbol
	status       string
	winner       string // X|O|draw|""
	deadline     time.Time
	history      []MoveRecord

	moveDur    time.Duration
	moveTimer  *time.Timer
	timerToken int64

	settled bool // on-chain finalize confirmed

	subs map[*ClientConn]struct{}

	onPersist func(Snapshot)
	onFinish  func(FinishInfo)
}

// NewGame creates an active game. players[0] plays X and moves first,
// players[1] plays O.
func NewGame(id, contractAddr string, players [2]string, moveDur time.Duration) *Game {
	g := &Game{
		id:           id,
		contractAddr: contractAddr,
		players: map[Symbol]string{
			X: normalizeWallet(players[0]),
			O: normalizeWallet(players[1]),
		},
		turn:    X,
		status:  StatusActive,
		moveDur: moveDur,
		subs:    make(map[*ClientConn]struct{}),
	}
	return g
}

func (g *Game) ID() string { return g.id }

func (g *Game) ContractAddress() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contractAddr
}

// StartClock arms the first move deadline. Separate from NewGame so the
// service can install hooks before the timer can fire.
func (g *Game) StartClock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusActive {
		return
	}
	g.armClockLocked(g.moveDur)
}

func (g *Game) armClockLocked(d time.Duration) {
	if d <= 0 {
		g.deadline = time.Time{}
		return
	}
	g.deadline = time.Now().Add(d)
	g.timerToken++
	token := g.timerToken

	if g.moveTimer != nil {
		g.moveTimer.Stop()
	}
	g.moveTimer = time.AfterFunc(d, func() {
		g.onClockExpired(token)
	})
}

func (g *Game) onClockExpired(token int64) {
	g.mu.Lock()
	if g.status != StatusActive || token != g.timerToken {
		g.mu.Unlock()
		return
	}
	info := g.timeoutLocked()
	g.mu.Unlock()

	g.fireFinish(info)
}

// Move applies one move for the given wallet. Validation order and the
// error strings are part of the API contract.
func (g *Game) Move(player string, pos int) (finished bool, err error) {
	g.mu.Lock()

	if g.status != StatusActive {
		g.mu.Unlock()
		return false, ErrNotActive
	}
	if !g.deadline.IsZero() && time.Now().After(g.deadline) {
		g.mu.Unlock()
		return false, ErrDeadline
	}

	wallet := normalizeWallet(player)
	if g.players[X] != wallet && g.players[O] != wallet {
		g.mu.Unlock()
		return false, ErrNotInMatch
	}
	if g.players[g.turn] != wallet {
		g.mu.Unlock()
		return false, ErrNotYourTurn
	}
	if pos < 0 || pos > 8 {
		g.mu.Unlock()
		return false, ErrBadPosition
	}
	if g.board[pos] != "" {
		g.mu.Unlock()
		return false, ErrCellOccupied
	}

	g.board[pos] = g.turn
	g.history = append(g.history, MoveRecord{
		Player:   wallet,
		Position: pos,
		At:       time.Now().UTC(),
	})

	var info FinishInfo
	var done bool
	switch {
	case g.lineWonLocked():
		info = g.finishLocked(string(g.turn))
		done = true
	case len(g.history) == len(g.board):
		info = g.finishLocked("draw")
		done = true
	default:
		g.turn = other(g.turn)
		g.armClockLocked(g.moveDur)
		g.broadcastStateLocked()
		g.persistLocked()
	}
	g.mu.Unlock()

	if done {
		g.fireFinish(info)
	}
	return done, nil
}

// HandleTimeout forfeits the current turn's player if the game is still
// active. Returns nil with no mutation otherwise.
func (g *Game) HandleTimeout() *FinishInfo {
	g.mu.Lock()
	if g.status != StatusActive {
		g.mu.Unlock()
		return nil
	}
	info := g.timeoutLocked()
	g.mu.Unlock()

	g.fireFinish(info)
	return &info
}

// DeadlineExpired reports whether the move clock has run out.
func (g *Game) DeadlineExpired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status == StatusActive && !g.deadline.IsZero() && time.Now().After(g.deadline)
}

func (g *Game) timeoutLocked() FinishInfo {
	// the player on the clock loses
	return g.finishLocked(string(other(g.turn)))
}

func (g *Game) finishLocked(winner string) FinishInfo {
	g.status = StatusFinished
	g.winner = winner
	g.deadline = time.Time{}
	g.timerToken++ // invalidate any pending clock
	if g.moveTimer != nil {
		g.moveTimer.Stop()
	}

	info := g.finishInfoLocked()
	g.broadcastStateLocked()
	g.persistLocked()
	return info
}

func (g *Game) fireFinish(info FinishInfo) {
	g.mu.Lock()
	hook := g.onFinish
	g.mu.Unlock()
	if hook != nil {
		go hook(info)
	}
}

func (g *Game) lineWonLocked() bool {
	for _, line := range winningLines {
		a, b, c := g.board[line[0]], g.board[line[1]], g.board[line[2]]
		if a != "" && a == b && b == c {
			return true
		}
	}
	return false
}

// MarkSettled records that the on-chain finalize succeeded.
func (g *Game) MarkSettled() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled = true
	g.persistLocked()
}

func (g *Game) finishedUnsettled() (FinishInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusFinished || g.settled {
		return FinishInfo{}, false
	}
	return g.finishInfoLocked(), true
}

func (g *Game) finishInfoLocked() FinishInfo {
	info := FinishInfo{
		MatchID:      g.id,
		ContractAddr: g.contractAddr,
		Winner:       g.winner,
		PlayerX:      g.players[X],
		PlayerO:      g.players[O],
		Draw:         g.winner == "draw",
		Moves:        len(g.history),
	}
	if !info.Draw {
		info.WinnerWallet = g.players[Symbol(g.winner)]
		info.LoserWallet = g.players[other(Symbol(g.winner))]
	}
	return info
}

// StopClock cancels any pending move timer.
func (g *Game) StopClock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timerToken++
	if g.moveTimer != nil {
		g.moveTimer.Stop()
	}
}

func (g *Game) persistLocked() {
	if g.onPersist == nil {
		return
	}
	g.onPersist(g.snapshotLocked())
}

func other(s Symbol) Symbol {
	if s == X {
		return O
	}
	return X
}

func normalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
