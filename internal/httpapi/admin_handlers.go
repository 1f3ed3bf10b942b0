package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/bcrypt"

	"example.com/stakematch/internal/auth"
	"example.com/stakematch/internal/chain"
	"example.com/stakematch/internal/contracts"
	"example.com/stakematch/internal/game"
)

// AdminHandler covers the controller-only surface: login, the contract
// registry, factory deployments and manual activate/finalize.
type AdminHandler struct {
	Secret       []byte
	PasswordHash string // bcrypt
	TokenTTL     time.Duration
	ChainID      int64

	Registry *contracts.Registry
	Deployer chain.Deployer
	Writer   chain.MatchWriter
	Games    *game.Service

	Log *slog.Logger
}

type loginRequest struct {
	Password string `json:"password"`
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if h.PasswordHash == "" {
		writeError(w, http.StatusUnauthorized, "admin login disabled")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, err := auth.Sign(h.Secret, "controller", "admin", h.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "accessToken": token})
}

// Contracts serves GET (public read) and POST (admin write, wrapped in
// AdminAuth by the router) for the address registry.
func (h *AdminHandler) GetContracts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	chainID := h.ChainID
	if v := r.URL.Query().Get("chainId"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chainId")
			return
		}
		chainID = parsed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"chainId":   chainID,
		"contracts": h.Registry.All(chainID),
	})
}

type setContractRequest struct {
	ChainID      int64  `json:"chainId"`
	ContractType string `json:"contractType"`
	Address      string `json:"address"`
}

func (h *AdminHandler) SetContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req setContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ChainID == 0 {
		req.ChainID = h.ChainID
	}
	if req.ContractType == "" || !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "contractType and a valid address are required")
		return
	}

	if err := h.Registry.Set(req.ChainID, req.ContractType, common.HexToAddress(req.Address).Hex()); err != nil {
		if errors.Is(err, contracts.ErrUnknownType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("registry write failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to persist registry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type deployMatchRequest struct {
	StakeWei   string `json:"stakeWei"`
	MaxPlayers int    `json:"maxPlayers"`
}

func (h *AdminHandler) DeployGameMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req deployMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	stake, ok := new(big.Int).SetString(req.StakeWei, 10)
	if !ok || stake.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "stakeWei must be a non-negative decimal string")
		return
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = 2
	}
	if req.MaxPlayers < 2 || req.MaxPlayers > 255 {
		writeError(w, http.StatusBadRequest, "maxPlayers out of range")
		return
	}

	addr, txHash, err := h.Deployer.DeployGameMatch(r.Context(), stake, uint8(req.MaxPlayers))
	if err != nil {
		h.Log.Error("game match deploy failed", "err", err)
		writeError(w, http.StatusInternalServerError, "deployment failed")
		return
	}

	if err := h.Registry.Set(h.ChainID, "gameMatch", addr.Hex()); err != nil {
		h.Log.Warn("deployed but registry write failed", "address", addr.Hex(), "err", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"address": addr.Hex(),
		"txHash":  txHash.Hex(),
	})
}

func (h *AdminHandler) DeployScoreBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	addr, txHash, err := h.Deployer.DeployScoreBoard(r.Context())
	if err != nil {
		h.Log.Error("score board deploy failed", "err", err)
		writeError(w, http.StatusInternalServerError, "deployment failed")
		return
	}

	if err := h.Registry.Set(h.ChainID, "scoreBoard", addr.Hex()); err != nil {
		h.Log.Warn("deployed but registry write failed", "address", addr.Hex(), "err", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"address": addr.Hex(),
		"txHash":  txHash.Hex(),
	})
}

type activateRequest struct {
	ContractAddress string `json:"contractAddress"`
}

func (h *AdminHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !common.IsHexAddress(req.ContractAddress) {
		writeError(w, http.StatusBadRequest, "a valid contractAddress is required")
		return
	}

	txHash, err := h.Writer.Activate(r.Context(), common.HexToAddress(req.ContractAddress))
	if err != nil {
		h.Log.Error("manual activation failed", "contract", req.ContractAddress, "err", err)
		writeError(w, http.StatusInternalServerError, "activation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "txHash": txHash.Hex()})
}

type finalizeRequest struct {
	MatchID string `json:"matchId"`
}

func (h *AdminHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MatchID == "" {
		writeError(w, http.StatusBadRequest, "matchId is required")
		return
	}

	err := h.Games.SettleMatch(r.Context(), req.MatchID)
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrNotFinished):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "finalize failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}
