package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sethvargo/go-retry"
)

var (
	ErrNoControllerKey = errors.New("controller key not configured")
	ErrTxReverted      = errors.New("transaction reverted")
)

type Config struct {
	RPCURL         string
	ChainID        int64
	ControllerKey  string
	MatchFactory   string
	ScoreFactory   string
	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
	MaxRetries     uint64
}

// Client wraps an EVM JSON-RPC node. Reads are retried with backoff;
// writes are signed with the controller key and serialized so the
// controller nonce never races.
type Client struct {
	log *slog.Logger
	eth *ethclient.Client

	chainID *big.Int
	key     *ecdsa.PrivateKey // nil => read-only client

	matchFactory common.Address
	scoreFactory common.Address

	callTimeout    time.Duration
	receiptTimeout time.Duration
	maxRetries     uint64

	txMu sync.Mutex
}

func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	remoteID, err := eth.ChainID(pingCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if remoteID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: node reports chain id %s, config says %d", remoteID, cfg.ChainID)
	}

	c := &Client{
		log:            log,
		eth:            eth,
		chainID:        big.NewInt(cfg.ChainID),
		matchFactory:   common.HexToAddress(cfg.MatchFactory),
		scoreFactory:   common.HexToAddress(cfg.ScoreFactory),
		callTimeout:    cfg.CallTimeout,
		receiptTimeout: cfg.ReceiptTimeout,
		maxRetries:     cfg.MaxRetries,
	}

	if cfg.ControllerKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.ControllerKey, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain: parse controller key: %w", err)
		}
		c.key = key
		log.Info("chain client ready", "chainId", cfg.ChainID, "controller", crypto.PubkeyToAddress(key.PublicKey))
	} else {
		log.Info("chain client ready (read-only)", "chainId", cfg.ChainID)
	}

	return c, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// ControllerAddress returns the address derived from the controller key,
// or the zero address for a read-only client.
func (c *Client) ControllerAddress() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

func (c *Client) bound(addr common.Address, parsed abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(addr, parsed, c.eth, c.eth, c.eth)
}

// withRetry runs fn with fibonacci backoff. Context cancellation wins
// over the retry budget.
func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(250*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		if err := fn(callCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (c *Client) MatchInfo(ctx context.Context, addr common.Address) (MatchInfo, error) {
	bc := c.bound(addr, gameMatchABI)
	var info MatchInfo

	err := c.withRetry(ctx, func(ctx context.Context) error {
		opts := &bind.CallOpts{Context: ctx}

		var out []any
		if err := bc.Call(opts, &out, "status"); err != nil {
			return fmt.Errorf("status: %w", err)
		}
		info.Status = MatchStatus(out[0].(uint8))

		out = nil
		if err := bc.Call(opts, &out, "getPlayers"); err != nil {
			return fmt.Errorf("getPlayers: %w", err)
		}
		info.Players = out[0].([]common.Address)

		out = nil
		if err := bc.Call(opts, &out, "maxPlayers"); err != nil {
			return fmt.Errorf("maxPlayers: %w", err)
		}
		info.MaxPlayers = out[0].(uint8)

		out = nil
		if err := bc.Call(opts, &out, "stakeAmount"); err != nil {
			return fmt.Errorf("stakeAmount: %w", err)
		}
		info.Stake = out[0].(*big.Int)
		return nil
	})
	if err != nil {
		return MatchInfo{}, fmt.Errorf("chain: match %s: %w", addr.Hex(), err)
	}
	return info, nil
}

func (c *Client) Activate(ctx context.Context, addr common.Address) (common.Hash, error) {
	return c.transact(ctx, addr, gameMatchABI, "activate")
}

func (c *Client) Finalize(ctx context.Context, addr common.Address, winner common.Address, draw bool) (common.Hash, error) {
	return c.transact(ctx, addr, gameMatchABI, "finalize", winner, draw)
}

func (c *Client) Cancel(ctx context.Context, addr common.Address) (common.Hash, error) {
	return c.transact(ctx, addr, gameMatchABI, "cancelMatch")
}

func (c *Client) RecordResult(ctx context.Context, board, winner, loser common.Address, draw bool) (common.Hash, error) {
	return c.transact(ctx, board, scoreBoardABI, "recordResult", winner, loser, draw)
}

// transact signs, sends and waits for one controller transaction.
func (c *Client) transact(ctx context.Context, addr common.Address, parsed abi.ABI, method string, args ...any) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, ErrNoControllerKey
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := c.bound(addr, parsed).Transact(opts, method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s on %s: %w", method, addr.Hex(), err)
	}

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return tx.Hash(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash(), fmt.Errorf("chain: %s on %s: %w", method, addr.Hex(), ErrTxReverted)
	}

	c.log.Info("tx mined", "method", method, "contract", addr.Hex(), "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
	return tx.Hash(), nil
}

func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("chain: wait receipt %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}
