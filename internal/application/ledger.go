package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aawallet/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

const (
	LedgerCapacity = 100
	userKey        = "user"
)

// KeyValueStore is the local persistence contract: absence is reported with
// ok=false, never as an error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// Ledger is the per-account transaction cache, newest first, unique by hash
// and capped at LedgerCapacity records.
type Ledger struct {
	store KeyValueStore
}

func NewLedger(store KeyValueStore) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	return &Ledger{store: store}, nil
}

func LedgerKey(account common.Address) string {
	return "transactions_" + account.Hex()
}

func (l *Ledger) Load(ctx context.Context, account common.Address) ([]domain.Transaction, error) {
	raw, ok, err := l.store.Get(ctx, LedgerKey(account))
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if !ok || len(raw) == 0 {
		return []domain.Transaction{}, nil
	}
	var txs []domain.Transaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return txs, nil
}

// Append dedupes by hash, prepends and truncates. A hash already present
// leaves the ledger untouched.
func (l *Ledger) Append(ctx context.Context, account common.Address, tx domain.Transaction) ([]domain.Transaction, error) {
	current, err := l.Load(ctx, account)
	if err != nil {
		return nil, err
	}
	next, added := prependUnique(current, tx)
	if !added {
		return current, nil
	}
	if err := l.save(ctx, account, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Replace overwrites the ledger with txs, truncated to capacity.
func (l *Ledger) Replace(ctx context.Context, account common.Address, txs []domain.Transaction) error {
	return l.save(ctx, account, capLedger(txs))
}

func (l *Ledger) SaveUser(ctx context.Context, user domain.StoredUser) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, userKey, payload)
}

func (l *Ledger) LoadUser(ctx context.Context) (domain.StoredUser, bool, error) {
	raw, ok, err := l.store.Get(ctx, userKey)
	if err != nil || !ok {
		return domain.StoredUser{}, false, err
	}
	var user domain.StoredUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.StoredUser{}, false, fmt.Errorf("decode user: %w", err)
	}
	return user, true, nil
}

func (l *Ledger) save(ctx context.Context, account common.Address, txs []domain.Transaction) error {
	if txs == nil {
		txs = []domain.Transaction{}
	}
	payload, err := json.Marshal(txs)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, LedgerKey(account), payload); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func prependUnique(txs []domain.Transaction, tx domain.Transaction) ([]domain.Transaction, bool) {
	for _, existing := range txs {
		if normalizeHash(existing.Hash) == normalizeHash(tx.Hash) {
			return txs, false
		}
	}
	next := make([]domain.Transaction, 0, len(txs)+1)
	next = append(next, tx)
	next = append(next, txs...)
	return capLedger(next), true
}

// normalizeHash lowercases hex hashes so records reported by different
// sources compare equal. Synthetic relay ids are left as they are.
func normalizeHash(hash string) string {
	if len(hash) > 2 && (hash[:2] == "0x" || hash[:2] == "0X") {
		return "0x" + strings.ToLower(hash[2:])
	}
	return hash
}

func capLedger(txs []domain.Transaction) []domain.Transaction {
	if len(txs) > LedgerCapacity {
		return txs[:LedgerCapacity]
	}
	return txs
}
