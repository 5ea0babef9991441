package bundler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"aawallet/internal/domain"
	"aawallet/internal/infrastructure/ethrpc"

	"github.com/ethereum/go-ethereum/common"
)

// Relay lists user operations the bundler has seen for an account. Not every
// bundler implements the method.
type Relay struct {
	rpc *ethrpc.Transport
}

func NewRelay(endpoint string, timeout time.Duration) (*Relay, error) {
	transport, err := ethrpc.NewTransport("relay", endpoint, timeout)
	if err != nil {
		return nil, err
	}
	return &Relay{rpc: transport}, nil
}

type relayOperation struct {
	UserOpHash      string          `json:"userOpHash"`
	TransactionHash string          `json:"transactionHash"`
	Success         bool            `json:"success"`
	Target          string          `json:"target"`
	Timestamp       json.RawMessage `json:"timestamp"`
}

// UserOperationsByAddress returns the relay's operations for account in the
// order the relay reports them. A result that is not a list yields no records.
func (r *Relay) UserOperationsByAddress(ctx context.Context, account common.Address) ([]domain.RelayOperation, error) {
	var raw json.RawMessage
	if err := r.rpc.Call(ctx, "eth_getUserOperationsByAddress", []any{account.Hex()}, &raw); err != nil {
		return nil, err
	}
	var ops []relayOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, nil
	}

	out := make([]domain.RelayOperation, 0, len(ops))
	for _, op := range ops {
		out = append(out, domain.RelayOperation{
			UserOpHash:      op.UserOpHash,
			TransactionHash: op.TransactionHash,
			Success:         op.Success,
			Target:          op.Target,
			Timestamp:       parseTimestamp(op.Timestamp),
		})
	}
	return out, nil
}

// parseTimestamp accepts a JSON number, a decimal string or a hex quantity.
// Anything else is treated as absent.
func parseTimestamp(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		if v, err := strconv.ParseFloat(number.String(), 64); err == nil && v > 0 {
			return uint64(v)
		}
		return 0
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		v, err := strconv.ParseUint(text[2:], 16, 64)
		if err != nil {
			return 0
		}
		return v
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return uint64(v)
}
