package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"aawallet/internal/domain"
	"aawallet/internal/erc20"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client issues read-only chain queries.
type Client struct {
	rpc *Transport
}

type Config struct {
	URL     string
	Timeout time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	transport, err := NewTransport("chain", cfg.URL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: transport}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.rpc.Call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result string
	if err := c.rpc.Call(ctx, "eth_chainId", nil, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

// BlockTimestamp returns the block's timestamp in seconds.
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	var result *rpcBlockHeader
	if err := c.rpc.Call(ctx, "eth_getBlockByNumber", []any{formatHexUint(blockNumber), false}, &result); err != nil {
		return 0, err
	}
	if result == nil {
		return 0, fmt.Errorf("block %d not found", blockNumber)
	}
	return parseHexUint(result.Timestamp)
}

func (c *Client) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var result string
	if err := c.rpc.Call(ctx, "eth_getBalance", []any{owner.Hex(), "latest"}, &result); err != nil {
		return nil, err
	}
	return hexutil.DecodeBig(normalizeQuantity(result))
}

func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20.PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := c.CallContract(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return erc20.UnpackBalanceOf(out)
}

// CallContract executes eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var result hexutil.Bytes
	call := map[string]any{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	if err := c.rpc.Call(ctx, "eth_call", []any{call, "latest"}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	var result hexutil.Bytes
	if err := c.rpc.Call(ctx, "eth_getCode", []any{address.Hex(), "latest"}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// TransferLogs fetches Transfer logs of filter.Token, filtering the indexed
// from/to topics when set.
func (c *Client) TransferLogs(ctx context.Context, filter domain.TransferFilter) ([]domain.LogEntry, error) {
	topics := []any{erc20.TransferTopic.Hex(), nil, nil}
	if filter.From != "" {
		topics[1] = erc20.AddressTopic(common.HexToAddress(filter.From)).Hex()
	}
	if filter.To != "" {
		topics[2] = erc20.AddressTopic(common.HexToAddress(filter.To)).Hex()
	}
	query := map[string]any{
		"fromBlock": formatHexUint(filter.FromBlock),
		"toBlock":   formatHexUint(filter.ToBlock),
		"address":   strings.ToLower(filter.Token),
		"topics":    trimTrailingNil(topics),
	}

	var result []rpcLog
	if err := c.rpc.Call(ctx, "eth_getLogs", []any{query}, &result); err != nil {
		return nil, err
	}

	logs := make([]domain.LogEntry, 0, len(result))
	for _, log := range result {
		blockNumber, err := parseHexUint(log.BlockNumber)
		if err != nil {
			return nil, err
		}
		logIndex, err := parseHexUint(log.LogIndex)
		if err != nil {
			return nil, err
		}
		logs = append(logs, domain.LogEntry{
			BlockNumber: blockNumber,
			BlockHash:   log.BlockHash,
			TxHash:      log.TxHash,
			LogIndex:    logIndex,
			Address:     strings.ToLower(log.Address),
			Data:        log.Data,
			Topics:      log.Topics,
			Removed:     log.Removed,
		})
	}
	return logs, nil
}

type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	BlockHash   string   `json:"blockHash"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

type rpcBlockHeader struct {
	Number    string `json:"number"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

func trimTrailingNil(topics []any) []any {
	end := len(topics)
	for end > 0 && topics[end-1] == nil {
		end--
	}
	return topics[:end]
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func formatHexUint(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}

// normalizeQuantity strips leading zeros some nodes emit, which hexutil
// rejects.
func normalizeQuantity(value string) string {
	trimmed := strings.TrimLeft(strings.TrimPrefix(value, "0x"), "0")
	if trimmed == "" {
		return "0x0"
	}
	return "0x" + trimmed
}
