package bundler

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"aawallet/internal/domain"
	"aawallet/internal/infrastructure/ethrpc"
	"aawallet/internal/infrastructure/kernel"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultReceiptTimeout = 2 * time.Minute
)

// ChainReader is the subset of chain reads needed to assemble an operation.
type ChainReader interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
}

type Config struct {
	BundlerURL     string
	PaymasterURL   string
	ChainID        uint64
	Profile        domain.AccountProfile
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	Timeout        time.Duration
}

// Client submits sponsored user operations for one Kernel account.
type Client struct {
	bundler    *ethrpc.Transport
	paymaster  *ethrpc.Transport
	chain      ChainReader
	key        *ecdsa.PrivateKey
	owner      common.Address
	sender     common.Address
	entryPoint common.Address
	chainID    *big.Int
	profile    domain.AccountProfile

	pollInterval   time.Duration
	receiptTimeout time.Duration
}

func NewClient(cfg Config, chain ChainReader, key *ecdsa.PrivateKey, sender common.Address) (*Client, error) {
	if chain == nil {
		return nil, errors.New("chain reader is required")
	}
	if key == nil {
		return nil, errors.New("signer key is required")
	}
	if !common.IsHexAddress(cfg.Profile.EntryPointAddress) {
		return nil, errors.New("entry point address is invalid")
	}
	bundlerRPC, err := ethrpc.NewTransport("bundler", cfg.BundlerURL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("bundler: %w", err)
	}
	paymasterRPC, err := ethrpc.NewTransport("paymaster", cfg.PaymasterURL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("paymaster: %w", err)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = defaultReceiptTimeout
	}

	return &Client{
		bundler:        bundlerRPC,
		paymaster:      paymasterRPC,
		chain:          chain,
		key:            key,
		owner:          crypto.PubkeyToAddress(key.PublicKey),
		sender:         sender,
		entryPoint:     common.HexToAddress(cfg.Profile.EntryPointAddress),
		chainID:        new(big.Int).SetUint64(cfg.ChainID),
		profile:        cfg.Profile,
		pollInterval:   pollInterval,
		receiptTimeout: receiptTimeout,
	}, nil
}

type gasPrice struct {
	MaxFeePerGas         *hexutil.Big `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big `json:"maxPriorityFeePerGas"`
}

type gasPriceTiers struct {
	Slow     gasPrice `json:"slow"`
	Standard gasPrice `json:"standard"`
	Fast     gasPrice `json:"fast"`
}

type sponsorResult struct {
	Paymaster                     *common.Address `json:"paymaster"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
}

// SubmitBatch packs calls into one Kernel execute, has the paymaster sponsor
// it, signs it and hands it to the bundler. It returns the user operation hash.
func (c *Client) SubmitBatch(ctx context.Context, calls []domain.Call) (string, error) {
	op, err := c.buildOperation(ctx, calls)
	if err != nil {
		return "", err
	}
	if err := c.sponsor(ctx, op); err != nil {
		return "", err
	}
	hash, err := op.Sign(c.key, c.entryPoint, c.chainID)
	if err != nil {
		return "", fmt.Errorf("sign user operation: %w", err)
	}

	var sent string
	if err := c.bundler.Call(ctx, "eth_sendUserOperation", []any{op.RPC(), c.entryPoint.Hex()}, &sent); err != nil {
		return "", fmt.Errorf("send user operation: %w", err)
	}
	if sent == "" {
		sent = hash.Hex()
	}
	slog.Debug("user operation sent", "sender", c.sender.Hex(), "userOpHash", sent, "calls", len(calls))
	return sent, nil
}

func (c *Client) buildOperation(ctx context.Context, calls []domain.Call) (*UserOperation, error) {
	callData, err := kernel.EncodeExecute(calls)
	if err != nil {
		return nil, fmt.Errorf("encode calls: %w", err)
	}

	nonceCall, err := kernel.PackGetNonce(c.sender, new(big.Int))
	if err != nil {
		return nil, err
	}
	out, err := c.chain.CallContract(ctx, c.entryPoint, nonceCall)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	nonce, err := kernel.UnpackNonce(out)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	dummy, err := hexutil.Decode(DummySignature)
	if err != nil {
		return nil, fmt.Errorf("decode dummy signature: %w", err)
	}
	op := &UserOperation{
		Sender:    c.sender,
		Nonce:     nonce,
		CallData:  callData,
		Signature: dummy,
	}

	code, err := c.chain.CodeAt(ctx, c.sender)
	if err != nil {
		return nil, fmt.Errorf("read account code: %w", err)
	}
	if len(code) == 0 {
		factoryData, err := kernel.FactoryData(c.profile, c.owner)
		if err != nil {
			return nil, fmt.Errorf("encode factory data: %w", err)
		}
		factory := common.HexToAddress(c.profile.FactoryAddress)
		op.Factory = &factory
		op.FactoryData = factoryData
	}

	var tiers gasPriceTiers
	if err := c.bundler.Call(ctx, "zd_getUserOperationGasPrice", nil, &tiers); err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	op.MaxFeePerGas = tiers.Standard.MaxFeePerGas.ToInt()
	op.MaxPriorityFeePerGas = tiers.Standard.MaxPriorityFeePerGas.ToInt()
	return op, nil
}

func (c *Client) sponsor(ctx context.Context, op *UserOperation) error {
	request := map[string]any{
		"chainId":           c.chainID.Uint64(),
		"userOp":            op.RPC(),
		"entryPointAddress": c.entryPoint.Hex(),
		"shouldOverrideFee": false,
		"shouldConsume":     true,
	}
	var result *sponsorResult
	if err := c.paymaster.Call(ctx, "zd_sponsorUserOperation", []any{request}, &result); err != nil {
		return fmt.Errorf("sponsor user operation: %w", err)
	}
	if result == nil || result.Paymaster == nil {
		return errors.New("sponsor user operation: empty paymaster response")
	}

	op.Paymaster = result.Paymaster
	op.PaymasterData = result.PaymasterData
	op.PaymasterVerificationGasLimit = result.PaymasterVerificationGasLimit.ToInt()
	op.PaymasterPostOpGasLimit = result.PaymasterPostOpGasLimit.ToInt()
	op.CallGasLimit = result.CallGasLimit.ToInt()
	op.VerificationGasLimit = result.VerificationGasLimit.ToInt()
	op.PreVerificationGas = result.PreVerificationGas.ToInt()
	if result.MaxFeePerGas != nil {
		op.MaxFeePerGas = result.MaxFeePerGas.ToInt()
	}
	if result.MaxPriorityFeePerGas != nil {
		op.MaxPriorityFeePerGas = result.MaxPriorityFeePerGas.ToInt()
	}
	return nil
}

type receiptResult struct {
	UserOpHash string `json:"userOpHash"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason"`
	Receipt    struct {
		TransactionHash string `json:"transactionHash"`
	} `json:"receipt"`
}

// WaitForReceipt polls the bundler until the operation is included or the
// receipt timeout elapses. A missing receipt keeps polling; an RPC error ends
// the wait.
func (c *Client) WaitForReceipt(ctx context.Context, userOpHash string) (domain.OperationReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var result *receiptResult
		if err := c.bundler.Call(ctx, "eth_getUserOperationReceipt", []any{userOpHash}, &result); err != nil {
			if ctx.Err() != nil {
				return domain.OperationReceipt{}, fmt.Errorf("wait for receipt %s: %w", userOpHash, ctx.Err())
			}
			return domain.OperationReceipt{}, fmt.Errorf("wait for receipt: %w", err)
		}
		if result != nil {
			hash := result.UserOpHash
			if hash == "" {
				hash = userOpHash
			}
			return domain.OperationReceipt{
				UserOpHash:      hash,
				TransactionHash: result.Receipt.TransactionHash,
				Success:         result.Success,
				Reason:          result.Reason,
			}, nil
		}

		select {
		case <-ctx.Done():
			return domain.OperationReceipt{}, fmt.Errorf("wait for receipt %s: %w", userOpHash, ctx.Err())
		case <-ticker.C:
		}
	}
}
