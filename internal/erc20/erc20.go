// Package erc20 encodes the handful of ERC-20 calls the wallet issues and
// decodes Transfer logs.
package erc20

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const abiJSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	parsedABI = mustParse(abiJSON)

	// TransferTopic is keccak256("Transfer(address,address,uint256)").
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("erc20: invalid abi: %v", err))
	}
	return parsed
}

func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return parsedABI.Pack("transfer", to, amount)
}

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return parsedABI.Pack("approve", spender, amount)
}

func PackBalanceOf(owner common.Address) ([]byte, error) {
	return parsedABI.Pack("balanceOf", owner)
}

func UnpackBalanceOf(data []byte) (*big.Int, error) {
	values, err := parsedABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("balanceOf: unexpected output count %d", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf: output is not uint256")
	}
	return balance, nil
}

// Selector returns the 4-byte method id of name.
func Selector(name string) []byte {
	method, ok := parsedABI.Methods[name]
	if !ok {
		return nil
	}
	return method.ID
}

// AddressTopic left-pads an address to a 32-byte log topic.
func AddressTopic(address common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(address.Bytes(), 32))
}

// Transfer is a decoded Transfer(address,address,uint256) log.
type Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

func DecodeTransfer(topics []string, data string) (Transfer, error) {
	if len(topics) < 3 {
		return Transfer{}, fmt.Errorf("transfer log: expected 3 topics, got %d", len(topics))
	}
	if !strings.EqualFold(topics[0], TransferTopic.Hex()) {
		return Transfer{}, fmt.Errorf("transfer log: unexpected topic0 %s", topics[0])
	}
	from, err := decodeTopicAddress(topics[1])
	if err != nil {
		return Transfer{}, err
	}
	to, err := decodeTopicAddress(topics[2])
	if err != nil {
		return Transfer{}, err
	}
	value, err := decodeUint256(data)
	if err != nil {
		return Transfer{}, err
	}
	return Transfer{From: from, To: to, Value: value}, nil
}

func decodeTopicAddress(topic string) (common.Address, error) {
	if !strings.HasPrefix(topic, "0x") || len(topic) != 66 {
		return common.Address{}, fmt.Errorf("invalid topic address: %s", topic)
	}
	return common.HexToAddress("0x" + topic[26:]), nil
}

func decodeUint256(data string) (*big.Int, error) {
	clean := strings.TrimPrefix(data, "0x")
	if len(clean) < 64 {
		return nil, fmt.Errorf("invalid data length: %d", len(clean))
	}
	value := new(big.Int)
	if _, ok := value.SetString(clean[:64], 16); !ok {
		return nil, errors.New("failed to parse uint256")
	}
	return value, nil
}
