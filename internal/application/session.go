package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aawallet/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type TxState string

const (
	TxStateIdle    TxState = "idle"
	TxStatePending TxState = "pending"
	TxStateSuccess TxState = "success"
	TxStateError   TxState = "error"
)

// ChainReader is everything the session reads from the chain.
type ChainReader interface {
	BalanceSource
	LogSource
}

// SessionObserver is told about finished submissions and reconciliations.
type SessionObserver interface {
	OnSubmission(kind domain.TxKind, err error, duration time.Duration)
	OnReconcile(records int, duration time.Duration)
}

type SessionConfig struct {
	SignerSalt  string
	Bootstrap   BootstrapConfig
	Token       domain.TokenInfo
	History     HistoryConfig
	ExplorerURL string
}

type SessionDeps struct {
	Resolver  AccountResolver
	NewClient ClientFactory
	Chain     ChainReader
	Relay     RelaySource
	Store     KeyValueStore
	Publisher LedgerEventPublisher
	Observer  SessionObserver
}

// SessionState is a snapshot for rendering.
type SessionState struct {
	Email        string               `json:"email"`
	Name         string               `json:"name,omitempty"`
	Picture      string               `json:"picture,omitempty"`
	Address      string               `json:"address"`
	Owner        string               `json:"owner"`
	Transactions []domain.Transaction `json:"transactions"`
	TxHash       string               `json:"txHash,omitempty"`
	TxStatus     TxState              `json:"txStatus"`
	TxMessage    string               `json:"txMessage,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Session is one user's wallet: the bootstrapped account, its collaborators
// and the state a UI renders. Operations are serialized; state reads are
// never blocked by an operation waiting on a receipt.
type Session struct {
	claim    domain.IdentityClaim
	identity domain.Identity
	account  *SmartAccount
	token    domain.TokenInfo
	explorer string

	ledger   *Ledger
	executor *Executor
	balances *BalanceReader
	history  *Reconciler
	observer SessionObserver

	opMu sync.Mutex

	mu           sync.RWMutex
	transactions []domain.Transaction
	txHash       string
	txStatus     TxState
	txMessage    string
	walletErr    *WalletError
}

// Open resolves the identity, derives its signer, bootstraps the account and
// loads the cached ledger. Derivation and bootstrap failures are terminal.
func Open(ctx context.Context, claim domain.IdentityClaim, cfg SessionConfig, deps SessionDeps) (*Session, error) {
	identity, err := ResolveIdentity(claim)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	salt := cfg.SignerSalt
	if salt == "" {
		salt = DefaultSignerSalt
	}
	key, err := DeriveSigner(identity.Email, salt)
	if err != nil {
		return nil, err
	}
	account, err := Bootstrap(ctx, key, cfg.Bootstrap, deps.Resolver, deps.NewClient)
	if err != nil {
		return nil, err
	}

	ledger, err := NewLedger(deps.Store)
	if err != nil {
		return nil, err
	}
	executor, err := NewExecutor(cfg.Token, ledger, deps.Publisher)
	if err != nil {
		return nil, newWalletError(KindBootstrap, "bootstrap account", err)
	}

	s := &Session{
		claim:    claim,
		identity: identity,
		account:  account,
		token:    cfg.Token,
		explorer: strings.TrimRight(cfg.ExplorerURL, "/"),
		ledger:   ledger,
		executor: executor,
		balances: NewBalanceReader(deps.Chain, cfg.Token),
		observer: deps.Observer,
		txStatus: TxStateIdle,
	}
	s.history = NewReconciler(deps.Relay, deps.Chain, cfg.Token, ledger, deps.Publisher, cfg.History)

	if previous, ok, err := ledger.LoadUser(ctx); err == nil && ok &&
		previous.Email == identity.Email && previous.SmartWalletAddress != account.Address.Hex() {
		slog.Warn("wallet address changed for identity", "email", identity.Email,
			"previous", previous.SmartWalletAddress, "current", account.Address.Hex())
	}
	if err := ledger.SaveUser(ctx, domain.StoredUser{
		Email:              identity.Email,
		Name:               claim.Name,
		Picture:            claim.Picture,
		SmartWalletAddress: account.Address.Hex(),
	}); err != nil {
		slog.Warn("store user failed", "account", account.Address.Hex(), "err", err)
	}
	cached, err := ledger.Load(ctx, account.Address)
	if err != nil {
		slog.Warn("cached ledger unreadable", "account", account.Address.Hex(), "err", err)
		cached = []domain.Transaction{}
	}
	s.transactions = cached

	slog.Info("wallet session opened", "account", account.Address.Hex(), "owner", account.Owner.Hex(), "cached_records", len(cached))
	return s, nil
}

func (s *Session) Identity() domain.Identity {
	return s.identity
}

func (s *Session) Account() *SmartAccount {
	return s.account
}

func (s *Session) Address() common.Address {
	return s.account.Address
}

func (s *Session) Token() domain.TokenInfo {
	return s.token
}

// ExplorerURL links a transaction hash on the configured block explorer.
func (s *Session) ExplorerURL(hash string) string {
	if s.explorer == "" || hash == "" {
		return ""
	}
	return s.explorer + "/tx/" + hash
}

func (s *Session) SendTransfer(ctx context.Context, recipient, amount string) (string, error) {
	return s.submit(ctx, domain.TxKindTransfer, "Sending gasless transfer...", "Gasless transfer completed successfully!",
		func() (Submission, error) {
			return s.executor.SendTransfer(ctx, s.account, recipient, amount)
		})
}

func (s *Session) BatchTransfer(ctx context.Context, recipient, amount, approveAmount string) (string, error) {
	return s.submit(ctx, domain.TxKindBatch, "Sending batched approval + transfer...", "Batch transaction completed successfully!",
		func() (Submission, error) {
			return s.executor.BatchApproveAndTransfer(ctx, s.account, recipient, amount, approveAmount)
		})
}

func (s *Session) submit(ctx context.Context, kind domain.TxKind, pending, done string, run func() (Submission, error)) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.txStatus = TxStatePending
	s.txMessage = pending
	s.walletErr = nil
	s.mu.Unlock()

	started := time.Now()
	result, err := run()
	if s.observer != nil {
		s.observer.OnSubmission(kind, err, time.Since(started))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		walletErr := asWalletError(err)
		s.walletErr = walletErr
		s.txStatus = TxStateError
		s.txMessage = walletErr.Message
		slog.Error("operation failed", "account", s.account.Address.Hex(), "kind", kind, "err", err)
		return "", walletErr
	}
	s.transactions = result.Ledger
	s.txHash = result.Record.Hash
	s.txStatus = TxStateSuccess
	s.txMessage = done
	return result.Record.Hash, nil
}

func (s *Session) TokenBalance(ctx context.Context) string {
	return s.balances.TokenBalance(ctx, s.account.Address)
}

func (s *Session) NativeBalance(ctx context.Context) string {
	return s.balances.NativeBalance(ctx, s.account.Address)
}

// RefreshHistory reconciles history and replaces the session's view with it.
func (s *Session) RefreshHistory(ctx context.Context) []domain.Transaction {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	started := time.Now()
	merged := s.history.Reconcile(ctx, s.account.Address)
	if s.observer != nil {
		s.observer.OnReconcile(len(merged), time.Since(started))
	}

	s.mu.Lock()
	s.transactions = merged
	s.mu.Unlock()
	return cloneTransactions(merged)
}

func (s *Session) Transactions() []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTransactions(s.transactions)
}

func (s *Session) ClearTransactionState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txHash = ""
	s.txStatus = TxStateIdle
	s.txMessage = ""
	s.walletErr = nil
}

// LastError is the error of the last failed operation, nil after a success
// or ClearTransactionState.
func (s *Session) LastError() *WalletError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walletErr
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := SessionState{
		Email:        s.identity.Email,
		Name:         s.claim.Name,
		Picture:      s.claim.Picture,
		Address:      s.account.Address.Hex(),
		Owner:        s.account.Owner.Hex(),
		Transactions: cloneTransactions(s.transactions),
		TxHash:       s.txHash,
		TxStatus:     s.txStatus,
		TxMessage:    s.txMessage,
	}
	if s.walletErr != nil {
		state.Error = s.walletErr.Message
	}
	return state
}

func asWalletError(err error) *WalletError {
	var walletErr *WalletError
	if errors.As(err, &walletErr) {
		return walletErr
	}
	return newWalletError(KindSubmission, "submit operation", err)
}

func cloneTransactions(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(txs))
	copy(out, txs)
	return out
}
