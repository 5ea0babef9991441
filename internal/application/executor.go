package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"aawallet/internal/domain"
	"aawallet/internal/erc20"

	"github.com/ethereum/go-ethereum/common"
)

const (
	EventTransactionConfirmed = "transaction_confirmed"
	EventHistoryReconciled    = "history_reconciled"
)

var recipientPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// LedgerEventPublisher receives ledger records as they are confirmed or
// reconciled. Publishing is best-effort.
type LedgerEventPublisher interface {
	PublishTransactions(ctx context.Context, account, event string, txs []domain.Transaction) error
}

// Executor turns transfer requests into one user operation each and records
// confirmed results in the ledger.
type Executor struct {
	token     domain.TokenInfo
	ledger    *Ledger
	publisher LedgerEventPublisher
	now       func() time.Time
}

func NewExecutor(token domain.TokenInfo, ledger *Ledger, publisher LedgerEventPublisher) (*Executor, error) {
	if !common.IsHexAddress(token.Address) {
		return nil, fmt.Errorf("invalid token address %q", token.Address)
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	return &Executor{token: token, ledger: ledger, publisher: publisher, now: time.Now}, nil
}

// Submission is the outcome of a confirmed operation.
type Submission struct {
	Record domain.Transaction
	Ledger []domain.Transaction
}

// TransferCalls validates a single transfer and returns its one call.
func (e *Executor) TransferCalls(recipient, amount string) ([]domain.Call, error) {
	const op = "transfer"
	to, err := parseRecipient(op, recipient)
	if err != nil {
		return nil, err
	}
	value, err := e.parseAmount(op, amount)
	if err != nil {
		return nil, err
	}
	data, err := erc20.PackTransfer(to, value)
	if err != nil {
		return nil, newWalletError(KindValidation, op, err)
	}
	return []domain.Call{{Target: e.token.Address, Data: data}}, nil
}

// BatchCalls validates an approve-and-transfer pair. The approve call always
// comes first.
func (e *Executor) BatchCalls(recipient, amount, approveAmount string) ([]domain.Call, error) {
	const op = "batch transfer"
	to, err := parseRecipient(op, recipient)
	if err != nil {
		return nil, err
	}
	value, err := e.parseAmount(op, amount)
	if err != nil {
		return nil, err
	}
	allowance, err := e.parseAmount(op, approveAmount)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(value) < 0 {
		return nil, validationError(op, "Approve amount must be at least the transfer amount")
	}

	approveData, err := erc20.PackApprove(to, allowance)
	if err != nil {
		return nil, newWalletError(KindValidation, op, err)
	}
	transferData, err := erc20.PackTransfer(to, value)
	if err != nil {
		return nil, newWalletError(KindValidation, op, err)
	}
	return []domain.Call{
		{Target: e.token.Address, Data: approveData},
		{Target: e.token.Address, Data: transferData},
	}, nil
}

// Submit sends calls as one user operation and blocks until its receipt.
// record supplies kind, amount and recipient; hash, status and timestamp are
// filled in on success. A failed submission leaves the ledger untouched.
func (e *Executor) Submit(ctx context.Context, account *SmartAccount, record domain.Transaction, calls []domain.Call) (Submission, error) {
	const op = "submit operation"
	if account == nil || account.client == nil {
		return Submission{}, &WalletError{Kind: KindSubmission, Op: op, Message: "Wallet not initialized", Err: ErrNotInitialized}
	}
	if len(calls) == 0 {
		return Submission{}, validationError(op, "at least one call is required")
	}
	for _, call := range calls {
		if call.Value != nil && call.Value.Sign() < 0 {
			return Submission{}, validationError(op, "call value must not be negative")
		}
	}

	userOpHash, err := account.client.SubmitBatch(ctx, calls)
	if err != nil {
		return Submission{}, newWalletError(KindSubmission, op, err)
	}
	receipt, err := account.client.WaitForReceipt(ctx, userOpHash)
	if err != nil {
		return Submission{}, newWalletError(KindSubmission, op, err)
	}
	if !receipt.Success {
		message := receipt.Reason
		if message == "" {
			message = "user operation reverted on-chain"
		}
		return Submission{}, &WalletError{Kind: KindSubmission, Op: op, Message: message}
	}

	record.Hash = normalizeHash(receipt.TransactionHash)
	if record.Hash == "" {
		record.Hash = normalizeHash(userOpHash)
	}
	record.Status = domain.TxStatusSuccess
	record.Timestamp = e.now().UnixMilli()

	ledger, err := e.ledger.Append(ctx, account.Address, record)
	if err != nil {
		// The operation is final on-chain; a cache failure must not report it as failed.
		slog.Warn("ledger append failed", "account", account.Address.Hex(), "hash", record.Hash, "err", err)
		ledger = []domain.Transaction{record}
	}
	e.publish(ctx, account.Address, EventTransactionConfirmed, []domain.Transaction{record})

	slog.Info("operation confirmed", "account", account.Address.Hex(), "kind", record.Kind, "hash", record.Hash, "userOpHash", userOpHash)
	return Submission{Record: record, Ledger: ledger}, nil
}

func (e *Executor) SendTransfer(ctx context.Context, account *SmartAccount, recipient, amount string) (Submission, error) {
	calls, err := e.TransferCalls(recipient, amount)
	if err != nil {
		return Submission{}, err
	}
	return e.Submit(ctx, account, domain.Transaction{
		Kind:      domain.TxKindTransfer,
		Amount:    amount,
		Recipient: recipient,
	}, calls)
}

func (e *Executor) BatchApproveAndTransfer(ctx context.Context, account *SmartAccount, recipient, amount, approveAmount string) (Submission, error) {
	calls, err := e.BatchCalls(recipient, amount, approveAmount)
	if err != nil {
		return Submission{}, err
	}
	return e.Submit(ctx, account, domain.Transaction{
		Kind:      domain.TxKindBatch,
		Amount:    amount,
		Recipient: recipient,
	}, calls)
}

func (e *Executor) publish(ctx context.Context, account common.Address, event string, txs []domain.Transaction) {
	if e.publisher == nil || len(txs) == 0 {
		return
	}
	if err := e.publisher.PublishTransactions(ctx, account.Hex(), event, txs); err != nil {
		slog.Warn("ledger event publish failed", "account", account.Hex(), "event", event, "err", err)
	}
}

func parseRecipient(op, recipient string) (common.Address, error) {
	if !recipientPattern.MatchString(recipient) {
		return common.Address{}, validationError(op, "Recipient must be a 0x-prefixed 40 hex character address")
	}
	return common.HexToAddress(recipient), nil
}

func (e *Executor) parseAmount(op, amount string) (*big.Int, error) {
	value, err := erc20.ParseUnits(amount, e.token.Decimals)
	if err != nil {
		return nil, validationError(op, fmt.Sprintf("Invalid amount %q", amount))
	}
	if value.Sign() <= 0 {
		return nil, validationError(op, "Amount must be greater than 0")
	}
	return value, nil
}
