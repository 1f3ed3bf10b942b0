package game

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"example.com/stakematch/internal/chain"
)

// Server exposes the match endpoints. Game creation is gated on the
// on-chain state: only a GameMatch that is Active with exactly two
// players gets an off-chain board.
type Server struct {
	games  *Service
	reader chain.MatchReader
	log    *slog.Logger
}

func NewServer(games *Service, reader chain.MatchReader, log *slog.Logger) *Server {
	return &Server{games: games, reader: reader, log: log}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/match/init", s.handleInit)
	mux.HandleFunc("/api/match/move", s.handleMove)
	mux.HandleFunc("/api/match/state", s.handleState)
	mux.HandleFunc("/api/match/timeout-check", s.handleTimeoutCheck)
	mux.HandleFunc("/ws/match", s.handleWS)
}

type initRequest struct {
	MatchID         string `json:"matchId"`
	ContractAddress string `json:"contractAddress"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MatchID == "" || !common.IsHexAddress(req.ContractAddress) {
		writeError(w, http.StatusBadRequest, "matchId and contractAddress are required")
		return
	}

	info, err := s.reader.MatchInfo(r.Context(), common.HexToAddress(req.ContractAddress))
	if err != nil {
		s.log.Error("match verification failed", "matchId", req.MatchID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to verify match on chain")
		return
	}
	if info.Status != chain.MatchActive {
		writeError(w, http.StatusBadRequest, "Match is not in Active status")
		return
	}
	if len(info.Players) != 2 {
		writeError(w, http.StatusBadRequest, "Match does not have exactly two players")
		return
	}

	g, created, err := s.games.Init(r.Context(), req.MatchID, req.ContractAddress,
		[2]string{info.Players[0].Hex(), info.Players[1].Hex()})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if created {
		s.log.Info("game initialized", "matchId", req.MatchID, "contract", req.ContractAddress)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"created": created,
		"state":   g.State(),
	})
}

type moveRequest struct {
	MatchID  string `json:"matchId"`
	Player   string `json:"player"`
	Position int    `json:"position"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MatchID == "" || req.Player == "" {
		writeError(w, http.StatusBadRequest, "matchId and player are required")
		return
	}

	g, ok, err := s.games.GetOrLoad(r.Context(), req.MatchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, ErrGameNotFound.Error())
		return
	}

	finished, err := g.Move(req.Player, req.Position)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"finished": finished,
		"state":    g.State(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	matchID := r.URL.Query().Get("matchId")
	if matchID == "" {
		writeError(w, http.StatusBadRequest, "matchId is required")
		return
	}

	g, ok, err := s.games.GetOrLoad(r.Context(), matchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, ErrGameNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"state":   g.State(),
	})
}

type timeoutCheckRequest struct {
	MatchID string `json:"matchId"`
}

func (s *Server) handleTimeoutCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req timeoutCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MatchID == "" {
		writeError(w, http.StatusBadRequest, "matchId is required")
		return
	}

	info, err := s.games.HandleTimeout(r.Context(), req.MatchID)
	if err == ErrGameNotFound {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	resp := map[string]any{
		"success":  true,
		"timedOut": info != nil,
	}
	if g, ok, _ := s.games.GetOrLoad(r.Context(), req.MatchID); ok {
		resp["state"] = g.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
