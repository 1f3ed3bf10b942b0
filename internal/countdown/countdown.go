// Package countdown drives the match-activation countdown: when a
// GameMatch fills up, a deadline starts; if nobody withdraws before it
// expires, the controller auto-activates the match on chain.
//
// Chain state is authoritative. Every status poll re-verifies the
// contract and reconciles the stored record, so a match that went
// Active or Cancelled outside this path never leaves a stale countdown
// behind.
package countdown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"example.com/stakematch/internal/chain"
)

type record struct {
	matchID      string
	contractAddr string

	fullAt       time.Time
	deadline     time.Time
	isActivating bool
	activated    bool

	timer *time.Timer
	token int64
}

// Payload is the countdown view returned by the status endpoint.
type Payload struct {
	MatchID         string `json:"matchId"`
	ContractAddress string `json:"contractAddress"`
	ChainStatus     string `json:"chainStatus"`
	PlayerCount     int    `json:"playerCount"`
	MaxPlayers      int    `json:"maxPlayers"`
	Full            bool   `json:"full"`
	CountdownActive bool   `json:"countdownActive"`
	FullAtMs        int64  `json:"fullAtMs,omitempty"`
	DeadlineMs      int64  `json:"activationDeadlineMs,omitempty"`
	IsActivating    bool   `json:"isActivating"`
	Activated       bool   `json:"activated"`
}

type Service struct {
	mu   sync.Mutex
	recs map[string]*record

	dur    time.Duration
	reader chain.MatchReader
	writer chain.MatchWriter
	log    *slog.Logger
}

func NewService(dur time.Duration, reader chain.MatchReader, writer chain.MatchWriter, log *slog.Logger) *Service {
	return &Service{
		recs:   make(map[string]*record),
		dur:    dur,
		reader: reader,
		writer: writer,
		log:    log,
	}
}

// Status re-verifies the match on chain and reconciles the countdown
// record: start it when the match just filled, drop it when a player
// withdrew or the match moved past Open.
func (s *Service) Status(ctx context.Context, matchID, contractAddr string) (Payload, error) {
	info, err := s.reader.MatchInfo(ctx, common.HexToAddress(contractAddr))
	if err != nil {
		return Payload{}, err
	}

	p := Payload{
		MatchID:         matchID,
		ContractAddress: contractAddr,
		ChainStatus:     info.Status.String(),
		PlayerCount:     len(info.Players),
		MaxPlayers:      int(info.MaxPlayers),
		Full:            info.Full(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case info.Status == chain.MatchActive:
		if rec, ok := s.recs[matchID]; ok {
			rec.activated = true
			s.dropLocked(matchID)
		}
		p.Activated = true
		return p, nil

	case info.Status != chain.MatchOpen:
		s.dropLocked(matchID)
		return p, nil

	case !info.Full():
		// a player withdrew; the countdown is void
		if _, ok := s.recs[matchID]; ok {
			s.log.Info("countdown cancelled, match no longer full", "matchId", matchID)
			s.dropLocked(matchID)
		}
		return p, nil
	}

	rec, ok := s.recs[matchID]
	if !ok {
		rec = s.startLocked(matchID, contractAddr)
	}

	// an activation that failed earlier gets retried on poll
	if !rec.isActivating && !rec.activated && time.Now().After(rec.deadline) {
		go s.onExpired(matchID, rec.token)
	}

	p.CountdownActive = true
	p.FullAtMs = rec.fullAt.UnixMilli()
	p.DeadlineMs = rec.deadline.UnixMilli()
	p.IsActivating = rec.isActivating
	p.Activated = rec.activated
	return p, nil
}

// Cancel removes the countdown (player withdrew before expiry).
// Returns false if no countdown was running.
func (s *Service) Cancel(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recs[matchID]; !ok {
		return false
	}
	s.dropLocked(matchID)
	s.log.Info("countdown cancelled", "matchId", matchID)
	return true
}

// Tracked returns the match IDs with a live countdown record, for the
// reconciler.
func (s *Service) Tracked() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.recs))
	for id, rec := range s.recs {
		out[id] = rec.contractAddr
	}
	return out
}

func (s *Service) startLocked(matchID, contractAddr string) *record {
	now := time.Now()
	rec := &record{
		matchID:      matchID,
		contractAddr: contractAddr,
		fullAt:       now,
		deadline:     now.Add(s.dur),
	}
	rec.token++
	token := rec.token
	rec.timer = time.AfterFunc(s.dur, func() {
		s.onExpired(matchID, token)
	})
	s.recs[matchID] = rec
	s.log.Info("activation countdown started", "matchId", matchID, "deadline", rec.deadline)
	return rec
}

func (s *Service) dropLocked(matchID string) {
	if rec, ok := s.recs[matchID]; ok {
		rec.token++
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(s.recs, matchID)
	}
}

// onExpired fires when the countdown runs out: re-verify the match is
// still Open and full, then activate it with the controller key.
func (s *Service) onExpired(matchID string, token int64) {
	s.mu.Lock()
	rec, ok := s.recs[matchID]
	if !ok || token != rec.token || rec.isActivating || rec.activated {
		s.mu.Unlock()
		return
	}
	rec.isActivating = true
	addr := rec.contractAddr
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	info, err := s.reader.MatchInfo(ctx, common.HexToAddress(addr))
	if err != nil {
		s.log.Error("countdown expiry: match verification failed", "matchId", matchID, "err", err)
		s.clearActivating(matchID)
		return
	}
	if info.Status != chain.MatchOpen || !info.Full() {
		s.log.Info("countdown expired but match moved on", "matchId", matchID, "chainStatus", info.Status.String())
		s.mu.Lock()
		s.dropLocked(matchID)
		s.mu.Unlock()
		return
	}

	txHash, err := s.writer.Activate(ctx, common.HexToAddress(addr))
	if err != nil {
		s.log.Error("auto-activation failed", "matchId", matchID, "err", err)
		s.clearActivating(matchID)
		return
	}

	s.mu.Lock()
	if rec, ok := s.recs[matchID]; ok {
		rec.isActivating = false
		rec.activated = true
	}
	s.mu.Unlock()
	s.log.Info("match auto-activated", "matchId", matchID, "tx", txHash.Hex())
}

func (s *Service) clearActivating(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[matchID]; ok {
		rec.isActivating = false
	}
}
