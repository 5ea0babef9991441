// Package kernel encodes calls for Kernel v3 smart accounts: account
// initialization through the factory, counterfactual address lookup and the
// execute entry point used by user operations.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"aawallet/internal/domain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const kernelABIJSON = `[
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[
		{"name":"_rootValidator","type":"bytes21"},
		{"name":"hook","type":"address"},
		{"name":"validatorData","type":"bytes"},
		{"name":"hookData","type":"bytes"},
		{"name":"initConfig","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"execute","stateMutability":"payable","inputs":[
		{"name":"execMode","type":"bytes32"},
		{"name":"executionCalldata","type":"bytes"}],"outputs":[]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"payable","inputs":[
		{"name":"data","type":"bytes"},{"name":"salt","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view","inputs":[
		{"name":"data","type":"bytes"},{"name":"salt","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]}
]`

const entryPointABIJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[
		{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
	 "outputs":[{"name":"nonce","type":"uint256"}]}
]`

// validationTypeValidator tags a root validator id as a plain validator module.
const validationTypeValidator = 0x01

const (
	callTypeSingle byte = 0x00
	callTypeBatch  byte = 0x01
)

var (
	kernelABI     = mustParse(kernelABIJSON)
	factoryABI    = mustParse(factoryABIJSON)
	entryPointABI = mustParse(entryPointABIJSON)

	executionsType = mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("kernel: invalid abi: %v", err))
	}
	return parsed
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("kernel: invalid type %s: %v", t, err))
	}
	return typ
}

// ContractCaller performs read-only eth_call requests.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// RootValidatorID is the bytes21 identifier Kernel stores for its root
// validator: the validation type followed by the validator address.
func RootValidatorID(profile domain.AccountProfile) [21]byte {
	var id [21]byte
	id[0] = validationTypeValidator
	copy(id[1:], common.HexToAddress(profile.ValidatorAddress).Bytes())
	return id
}

// InitData is the calldata of Kernel.initialize installing the ECDSA
// validator for owner as root validator.
func InitData(profile domain.AccountProfile, owner common.Address) ([]byte, error) {
	return kernelABI.Pack("initialize",
		RootValidatorID(profile),
		common.Address{},
		owner.Bytes(),
		[]byte{},
		[][]byte{},
	)
}

// Salt is the factory salt for the profile's account index.
func Salt(profile domain.AccountProfile) [32]byte {
	var salt [32]byte
	new(big.Int).SetUint64(profile.AccountIndex).FillBytes(salt[:])
	return salt
}

// FactoryData is the createAccount calldata the first user operation carries
// while the account is not deployed yet.
func FactoryData(profile domain.AccountProfile, owner common.Address) ([]byte, error) {
	initData, err := InitData(profile, owner)
	if err != nil {
		return nil, err
	}
	return factoryABI.Pack("createAccount", initData, Salt(profile))
}

// Factory resolves counterfactual account addresses through the factory's
// getAddress view.
type Factory struct {
	caller  ContractCaller
	profile domain.AccountProfile
}

func NewFactory(caller ContractCaller, profile domain.AccountProfile) (*Factory, error) {
	if caller == nil {
		return nil, errors.New("contract caller is required")
	}
	if !common.IsHexAddress(profile.FactoryAddress) || !common.IsHexAddress(profile.ValidatorAddress) {
		return nil, errors.New("account profile addresses are invalid")
	}
	return &Factory{caller: caller, profile: profile}, nil
}

func (f *Factory) AccountAddress(ctx context.Context, owner common.Address) (common.Address, error) {
	initData, err := InitData(f.profile, owner)
	if err != nil {
		return common.Address{}, err
	}
	data, err := factoryABI.Pack("getAddress", initData, Salt(f.profile))
	if err != nil {
		return common.Address{}, err
	}
	out, err := f.caller.CallContract(ctx, common.HexToAddress(f.profile.FactoryAddress), data)
	if err != nil {
		return common.Address{}, fmt.Errorf("factory getAddress: %w", err)
	}
	values, err := factoryABI.Unpack("getAddress", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("factory getAddress: %w", err)
	}
	if len(values) != 1 {
		return common.Address{}, errors.New("factory getAddress: unexpected output")
	}
	address, ok := values[0].(common.Address)
	if !ok || address == (common.Address{}) {
		return common.Address{}, errors.New("factory getAddress: empty address")
	}
	return address, nil
}

// PackGetNonce encodes EntryPoint.getNonce(sender, key).
func PackGetNonce(sender common.Address, key *big.Int) ([]byte, error) {
	return entryPointABI.Pack("getNonce", sender, key)
}

func UnpackNonce(data []byte) (*big.Int, error) {
	values, err := entryPointABI.Unpack("getNonce", data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, errors.New("getNonce: unexpected output")
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("getNonce: output is not uint256")
	}
	return nonce, nil
}

type execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// EncodeExecute builds Kernel.execute calldata. A single call uses the single
// call type with packed (target, value, data); more calls use the batch call
// type with an abi-encoded Execution[] preserving order.
func EncodeExecute(calls []domain.Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, errors.New("at least one call is required")
	}
	var mode [32]byte
	if len(calls) == 1 {
		mode[0] = callTypeSingle
		call := calls[0]
		value := callValue(call)
		packed := make([]byte, 0, 20+32+len(call.Data))
		packed = append(packed, common.HexToAddress(call.Target).Bytes()...)
		packed = append(packed, common.LeftPadBytes(value.Bytes(), 32)...)
		packed = append(packed, call.Data...)
		return kernelABI.Pack("execute", mode, packed)
	}

	mode[0] = callTypeBatch
	executions := make([]execution, 0, len(calls))
	for _, call := range calls {
		executions = append(executions, execution{
			Target:   common.HexToAddress(call.Target),
			Value:    callValue(call),
			CallData: call.Data,
		})
	}
	encoded, err := abi.Arguments{{Type: executionsType}}.Pack(executions)
	if err != nil {
		return nil, err
	}
	return kernelABI.Pack("execute", mode, encoded)
}

// DecodeExecute reverses EncodeExecute.
func DecodeExecute(data []byte) ([]domain.Call, error) {
	method, err := kernelABI.MethodById(data)
	if err != nil {
		return nil, err
	}
	if method.Name != "execute" {
		return nil, fmt.Errorf("unexpected method %s", method.Name)
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	mode := values[0].([32]byte)
	payload := values[1].([]byte)

	switch mode[0] {
	case callTypeSingle:
		if len(payload) < 52 {
			return nil, errors.New("single call payload too short")
		}
		return []domain.Call{{
			Target: common.BytesToAddress(payload[:20]).Hex(),
			Value:  new(big.Int).SetBytes(payload[20:52]),
			Data:   payload[52:],
		}}, nil
	case callTypeBatch:
		args := abi.Arguments{{Type: executionsType}}
		unpacked, err := args.Unpack(payload)
		if err != nil {
			return nil, err
		}
		var executions []execution
		if err := args.Copy(&executions, unpacked); err != nil {
			return nil, err
		}
		calls := make([]domain.Call, 0, len(executions))
		for _, exec := range executions {
			calls = append(calls, domain.Call{Target: exec.Target.Hex(), Value: exec.Value, Data: exec.CallData})
		}
		return calls, nil
	default:
		return nil, fmt.Errorf("unsupported call type 0x%02x", mode[0])
	}
}

func callValue(call domain.Call) *big.Int {
	if call.Value == nil {
		return new(big.Int)
	}
	return call.Value
}
