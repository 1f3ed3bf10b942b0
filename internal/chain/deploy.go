package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DeployGameMatch asks the factory for a fresh GameMatch instance and
// returns its address, extracted from the MatchCreated event log.
func (c *Client) DeployGameMatch(ctx context.Context, stake *big.Int, maxPlayers uint8) (common.Address, common.Hash, error) {
	if c.key == nil {
		return common.Address{}, common.Hash{}, ErrNoControllerKey
	}
	if (c.matchFactory == common.Address{}) {
		return common.Address{}, common.Hash{}, fmt.Errorf("chain: GameMatch factory address not configured")
	}

	receipt, txHash, err := c.factoryCall(ctx, c.matchFactory, "createMatch", stake, maxPlayers)
	if err != nil {
		return common.Address{}, txHash, err
	}

	instance, err := eventAddress(receipt, c.matchFactory, matchFactoryABI.Events["MatchCreated"].ID)
	if err != nil {
		return common.Address{}, txHash, fmt.Errorf("chain: deploy game match: %w", err)
	}
	c.log.Info("game match deployed", "address", instance.Hex(), "stake", stake, "maxPlayers", maxPlayers)
	return instance, txHash, nil
}

// DeployScoreBoard creates a ScoreBoard instance through its factory.
func (c *Client) DeployScoreBoard(ctx context.Context) (common.Address, common.Hash, error) {
	if c.key == nil {
		return common.Address{}, common.Hash{}, ErrNoControllerKey
	}
	if (c.scoreFactory == common.Address{}) {
		return common.Address{}, common.Hash{}, fmt.Errorf("chain: ScoreBoard factory address not configured")
	}

	receipt, txHash, err := c.factoryCall(ctx, c.scoreFactory, "createScoreBoard")
	if err != nil {
		return common.Address{}, txHash, err
	}

	instance, err := eventAddress(receipt, c.scoreFactory, scoreFactoryABI.Events["ScoreBoardCreated"].ID)
	if err != nil {
		return common.Address{}, txHash, fmt.Errorf("chain: deploy score board: %w", err)
	}
	c.log.Info("score board deployed", "address", instance.Hex())
	return instance, txHash, nil
}

func (c *Client) factoryCall(ctx context.Context, factory common.Address, method string, args ...any) (*types.Receipt, common.Hash, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("chain: transactor: %w", err)
	}
	opts.Context = ctx

	var parsed = matchFactoryABI
	if factory == c.scoreFactory {
		parsed = scoreFactoryABI
	}

	tx, err := c.bound(factory, parsed).Transact(opts, method, args...)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("chain: %s on factory %s: %w", method, factory.Hex(), err)
	}

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return nil, tx.Hash(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, tx.Hash(), fmt.Errorf("chain: %s on factory %s: %w", method, factory.Hex(), ErrTxReverted)
	}
	return receipt, tx.Hash(), nil
}

// eventAddress finds the first log from emitter with the given topic and
// returns its first indexed address argument.
func eventAddress(receipt *types.Receipt, emitter common.Address, topic common.Hash) (common.Address, error) {
	for _, lg := range receipt.Logs {
		if lg.Address != emitter || len(lg.Topics) < 2 || lg.Topics[0] != topic {
			continue
		}
		return common.BytesToAddress(lg.Topics[1].Bytes()), nil
	}
	return common.Address{}, fmt.Errorf("creation event not found in receipt %s", receipt.TxHash.Hex())
}
