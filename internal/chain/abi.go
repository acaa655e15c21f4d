package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const depositEventName = "DepositForStaking"

// depositorABI holds the single event of the depositor contract the relayer listens to:
// DepositForStaking(address indexed user, uint256 amount, bytes32 indexed varaAddress).
const depositorABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "internalType": "address", "name": "user", "type": "address"},
		{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
		{"indexed": true, "internalType": "bytes32", "name": "varaAddress", "type": "bytes32"}
	],
	"name": "DepositForStaking",
	"type": "event"
}]`

// DepositorABI parses the depositor contract ABI.
func DepositorABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(depositorABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse depositor abi: %w", err)
	}
	return parsed, nil
}

// DepositEventID is the topic0 of DepositForStaking logs.
func DepositEventID() common.Hash {
	parsed, err := DepositorABI()
	if err != nil {
		panic(err)
	}
	return parsed.Events[depositEventName].ID
}

type depositLog struct {
	Depositor common.Address
	Amount    *big.Int
	Recipient common.Hash
}

func decodeDepositLog(contract abi.ABI, l types.Log) (*depositLog, error) {
	ev := contract.Events[depositEventName]
	if len(l.Topics) != 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(l.Topics))
	}
	if l.Topics[0] != ev.ID {
		return nil, fmt.Errorf("unexpected event signature %s", l.Topics[0].Hex())
	}

	values, err := ev.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack log data: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("expected 1 data field, got %d", len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type %T", values[0])
	}

	return &depositLog{
		Depositor: common.BytesToAddress(l.Topics[1].Bytes()),
		Amount:    amount,
		Recipient: l.Topics[2],
	}, nil
}
