// Package bundler builds, sponsors, signs and submits EntryPoint v0.7 user
// operations and tracks them through the bundler RPC.
package bundler

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DummySignature is a well-formed ECDSA signature used while the paymaster
// estimates gas for an unsigned operation.
const DummySignature = "0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c"

// UserOperation is the unpacked v0.7 user operation as bundlers exchange it.
type UserOperation struct {
	Sender                        common.Address
	Nonce                         *big.Int
	Factory                       *common.Address
	FactoryData                   []byte
	CallData                      []byte
	CallGasLimit                  *big.Int
	VerificationGasLimit          *big.Int
	PreVerificationGas            *big.Int
	MaxFeePerGas                  *big.Int
	MaxPriorityFeePerGas          *big.Int
	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte
	Signature                     []byte
}

var (
	typeAddress = mustType("address")
	typeUint256 = mustType("uint256")
	typeBytes32 = mustType("bytes32")

	packedOpArgs = abi.Arguments{
		{Type: typeAddress}, // sender
		{Type: typeUint256}, // nonce
		{Type: typeBytes32}, // keccak(initCode)
		{Type: typeBytes32}, // keccak(callData)
		{Type: typeBytes32}, // accountGasLimits
		{Type: typeUint256}, // preVerificationGas
		{Type: typeBytes32}, // gasFees
		{Type: typeBytes32}, // keccak(paymasterAndData)
	}
	opHashArgs = abi.Arguments{
		{Type: typeBytes32},
		{Type: typeAddress},
		{Type: typeUint256},
	}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("bundler: invalid type %s: %v", t, err))
	}
	return typ
}

// InitCode is factory || factoryData, empty once the account is deployed.
func (op *UserOperation) InitCode() []byte {
	if op.Factory == nil {
		return nil
	}
	out := append([]byte{}, op.Factory.Bytes()...)
	return append(out, op.FactoryData...)
}

// PaymasterAndData packs paymaster || verificationGas(16) || postOpGas(16) || data.
func (op *UserOperation) PaymasterAndData() ([]byte, error) {
	if op.Paymaster == nil {
		return nil, nil
	}
	gas, err := packUint128Pair(op.PaymasterVerificationGasLimit, op.PaymasterPostOpGasLimit)
	if err != nil {
		return nil, fmt.Errorf("paymaster gas: %w", err)
	}
	out := append([]byte{}, op.Paymaster.Bytes()...)
	out = append(out, gas[:]...)
	return append(out, op.PaymasterData...), nil
}

// Hash is the EntryPoint v0.7 user operation hash.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	accountGasLimits, err := packUint128Pair(op.VerificationGasLimit, op.CallGasLimit)
	if err != nil {
		return common.Hash{}, fmt.Errorf("account gas limits: %w", err)
	}
	gasFees, err := packUint128Pair(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas fees: %w", err)
	}
	paymasterAndData, err := op.PaymasterAndData()
	if err != nil {
		return common.Hash{}, err
	}

	packed, err := packedOpArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		[32]byte(crypto.Keccak256Hash(op.InitCode())),
		[32]byte(crypto.Keccak256Hash(op.CallData)),
		accountGasLimits,
		orZero(op.PreVerificationGas),
		gasFees,
		[32]byte(crypto.Keccak256Hash(paymasterAndData)),
	)
	if err != nil {
		return common.Hash{}, err
	}
	encoded, err := opHashArgs.Pack([32]byte(crypto.Keccak256Hash(packed)), entryPoint, orZero(chainID))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Sign sets the operation signature: an EIP-191 personal signature over the
// user operation hash, as the Kernel ECDSA validator expects.
func (op *UserOperation) Sign(key *ecdsa.PrivateKey, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	hash, err := op.Hash(entryPoint, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), key)
	if err != nil {
		return common.Hash{}, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	op.Signature = sig
	return hash, nil
}

// RPC renders the operation in the JSON shape bundlers accept.
func (op *UserOperation) RPC() map[string]any {
	out := map[string]any{
		"sender":               op.Sender.Hex(),
		"nonce":                quantity(op.Nonce),
		"callData":             hexutil.Encode(op.CallData),
		"callGasLimit":         quantity(op.CallGasLimit),
		"verificationGasLimit": quantity(op.VerificationGasLimit),
		"preVerificationGas":   quantity(op.PreVerificationGas),
		"maxFeePerGas":         quantity(op.MaxFeePerGas),
		"maxPriorityFeePerGas": quantity(op.MaxPriorityFeePerGas),
		"signature":            hexutil.Encode(op.Signature),
	}
	if op.Factory != nil {
		out["factory"] = op.Factory.Hex()
		out["factoryData"] = hexutil.Encode(op.FactoryData)
	}
	if op.Paymaster != nil {
		out["paymaster"] = op.Paymaster.Hex()
		out["paymasterVerificationGasLimit"] = quantity(op.PaymasterVerificationGasLimit)
		out["paymasterPostOpGasLimit"] = quantity(op.PaymasterPostOpGasLimit)
		out["paymasterData"] = hexutil.Encode(op.PaymasterData)
	}
	return out
}

func packUint128Pair(hi, lo *big.Int) ([32]byte, error) {
	var out [32]byte
	hi, lo = orZero(hi), orZero(lo)
	if hi.Sign() < 0 || lo.Sign() < 0 || hi.BitLen() > 128 || lo.BitLen() > 128 {
		return out, errors.New("value does not fit in uint128")
	}
	hi.FillBytes(out[:16])
	lo.FillBytes(out[16:])
	return out, nil
}

func quantity(v *big.Int) string {
	return hexutil.EncodeBig(orZero(v))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
