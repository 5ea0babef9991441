package application

import (
	"context"
	"log/slog"
	"math/big"

	"aawallet/internal/domain"
	"aawallet/internal/erc20"

	"github.com/ethereum/go-ethereum/common"
)

const (
	balancePlaces  = 6
	nativeDecimals = 18
	zeroBalance    = "0"
)

type BalanceSource interface {
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// BalanceReader is best-effort: a failed read is logged and shown as "0".
type BalanceReader struct {
	source BalanceSource
	token  domain.TokenInfo
}

func NewBalanceReader(source BalanceSource, token domain.TokenInfo) *BalanceReader {
	return &BalanceReader{source: source, token: token}
}

func (b *BalanceReader) TokenBalance(ctx context.Context, account common.Address) string {
	if b.source == nil || account == (common.Address{}) {
		return zeroBalance
	}
	raw, err := b.source.TokenBalance(ctx, common.HexToAddress(b.token.Address), account)
	if err != nil {
		slog.Warn("token balance read failed", "account", account.Hex(), "token", b.token.Symbol, "err", err)
		return zeroBalance
	}
	return erc20.FormatFixed(raw, b.token.Decimals, balancePlaces)
}

func (b *BalanceReader) NativeBalance(ctx context.Context, account common.Address) string {
	if b.source == nil || account == (common.Address{}) {
		return zeroBalance
	}
	raw, err := b.source.NativeBalance(ctx, account)
	if err != nil {
		slog.Warn("native balance read failed", "account", account.Hex(), "err", err)
		return zeroBalance
	}
	return erc20.FormatFixed(raw, nativeDecimals, balancePlaces)
}
