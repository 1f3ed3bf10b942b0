package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Hand-maintained ABI fragments for the externally deployed contracts.
// Only the functions and events this service touches are listed; the
// Solidity sources live in a separate repository.

const gameMatchABIJSON = `[
  {"type":"function","name":"status","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
  {"type":"function","name":"getPlayers","inputs":[],"outputs":[{"name":"","type":"address[]"}],"stateMutability":"view"},
  {"type":"function","name":"maxPlayers","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
  {"type":"function","name":"stakeAmount","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"activate","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"finalize","inputs":[{"name":"winner","type":"address"},{"name":"draw","type":"bool"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"cancelMatch","inputs":[],"outputs":[],"stateMutability":"nonpayable"}
]`

const matchFactoryABIJSON = `[
  {"type":"function","name":"createMatch","inputs":[{"name":"stakeAmount","type":"uint256"},{"name":"maxPlayers","type":"uint8"}],"outputs":[{"name":"","type":"address"}],"stateMutability":"nonpayable"},
  {"type":"event","name":"MatchCreated","inputs":[{"name":"matchAddress","type":"address","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"stakeAmount","type":"uint256","indexed":false}],"anonymous":false}
]`

const scoreBoardABIJSON = `[
  {"type":"function","name":"recordResult","inputs":[{"name":"winner","type":"address"},{"name":"loser","type":"address"},{"name":"draw","type":"bool"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const scoreFactoryABIJSON = `[
  {"type":"function","name":"createScoreBoard","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"nonpayable"},
  {"type":"event","name":"ScoreBoardCreated","inputs":[{"name":"boardAddress","type":"address","indexed":true},{"name":"creator","type":"address","indexed":true}],"anonymous":false}
]`

var (
	gameMatchABI    = mustABI(gameMatchABIJSON)
	matchFactoryABI = mustABI(matchFactoryABIJSON)
	scoreBoardABI   = mustABI(scoreBoardABIJSON)
	scoreFactoryABI = mustABI(scoreFactoryABIJSON)
)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
