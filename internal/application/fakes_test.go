package application

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"aawallet/internal/domain"
	"aawallet/internal/erc20"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const testToken = "0x2b9Ca0A8C773bb1B92A3dDAE9F882Fd14457DACc"

var testTokenInfo = domain.TokenInfo{Address: testToken, Symbol: "USDC", Name: "USD Coin", Decimals: 6}

type fakeStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   int
	getErr error
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}}
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	value, ok := s.data[key]
	return value, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.sets++
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// fakeResolver derives a stable pseudo account address from the owner.
type fakeResolver struct {
	calls int
	err   error
}

func (r *fakeResolver) AccountAddress(_ context.Context, owner common.Address) (common.Address, error) {
	r.calls++
	if r.err != nil {
		return common.Address{}, r.err
	}
	return common.BytesToAddress(crypto.Keccak256(owner.Bytes())[12:]), nil
}

type remoteErr struct{ msg string }

func (e *remoteErr) Error() string         { return "rpc error -32500: " + e.msg }
func (e *remoteErr) RemoteMessage() string { return e.msg }

type fakeClient struct {
	mu         sync.Mutex
	batches    [][]domain.Call
	submitErr  error
	receiptErr error
	receipt    *domain.OperationReceipt
	nextHash   int
}

func (c *fakeClient) SubmitBatch(_ context.Context, calls []domain.Call) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, calls)
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.nextHash++
	return fmt.Sprintf("0x%064x", c.nextHash), nil
}

func (c *fakeClient) WaitForReceipt(_ context.Context, userOpHash string) (domain.OperationReceipt, error) {
	if c.receiptErr != nil {
		return domain.OperationReceipt{}, c.receiptErr
	}
	if c.receipt != nil {
		return *c.receipt, nil
	}
	return domain.OperationReceipt{
		UserOpHash:      userOpHash,
		TransactionHash: "0x" + fmt.Sprintf("%064x", 0xabc000+len(c.batches)),
		Success:         true,
	}, nil
}

func (c *fakeClient) factory() ClientFactory {
	return func(*ecdsa.PrivateKey, common.Address) (OperationClient, error) {
		return c, nil
	}
}

type fakeRelay struct {
	ops []domain.RelayOperation
	err error
}

func (r *fakeRelay) UserOperationsByAddress(context.Context, common.Address) ([]domain.RelayOperation, error) {
	return r.ops, r.err
}

// fakeChain serves balances, transfer logs and block timestamps.
type fakeChain struct {
	mu sync.Mutex

	latest    uint64
	latestErr error

	tokenBalance  *big.Int
	nativeBalance *big.Int
	balanceErr    error

	logs       func(filter domain.TransferFilter) ([]domain.LogEntry, error)
	filters    []domain.TransferFilter
	timestamps map[uint64]uint64
	tsLookups  map[uint64]int
}

func (c *fakeChain) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return c.nativeBalance, c.balanceErr
}

func (c *fakeChain) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return c.tokenBalance, c.balanceErr
}

func (c *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return c.latest, c.latestErr
}

func (c *fakeChain) TransferLogs(_ context.Context, filter domain.TransferFilter) ([]domain.LogEntry, error) {
	c.mu.Lock()
	c.filters = append(c.filters, filter)
	c.mu.Unlock()
	if c.logs == nil {
		return nil, nil
	}
	return c.logs(filter)
}

func (c *fakeChain) BlockTimestamp(_ context.Context, block uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tsLookups == nil {
		c.tsLookups = map[uint64]int{}
	}
	c.tsLookups[block]++
	ts, ok := c.timestamps[block]
	if !ok {
		return 0, errors.New("block not found")
	}
	return ts, nil
}

func transferLog(txHash string, logIndex, block uint64, from, to common.Address, value int64) domain.LogEntry {
	return domain.LogEntry{
		BlockNumber: block,
		TxHash:      txHash,
		LogIndex:    logIndex,
		Address:     testToken,
		Topics: []string{
			erc20.TransferTopic.Hex(),
			erc20.AddressTopic(from).Hex(),
			erc20.AddressTopic(to).Hex(),
		},
		Data: fmt.Sprintf("0x%064x", value),
	}
}
