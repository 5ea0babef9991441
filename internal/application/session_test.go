package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"aawallet/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu          sync.Mutex
	submissions int
	failures    int
	reconciles  int
}

func (o *countingObserver) OnSubmission(_ domain.TxKind, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submissions++
	if err != nil {
		o.failures++
	}
}

func (o *countingObserver) OnReconcile(int, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconciles++
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Bootstrap: BootstrapConfig{
			RPCURL:       "https://rpc.example",
			BundlerURL:   "https://bundler.example",
			PaymasterURL: "https://paymaster.example",
			Profile:      domain.KernelV31ECDSA,
		},
		Token:       testTokenInfo,
		ExplorerURL: "https://sepolia.etherscan.io/",
	}
}

func openTestSession(t *testing.T, store *fakeStore, client *fakeClient, observer SessionObserver) *Session {
	t.Helper()
	session, err := Open(context.Background(), domain.IdentityClaim{Email: "a@x.com", Name: "A"}, testSessionConfig(), SessionDeps{
		Resolver:  &fakeResolver{},
		NewClient: client.factory(),
		Chain:     &fakeChain{latest: 10},
		Relay:     &fakeRelay{},
		Store:     store,
		Observer:  observer,
	})
	require.NoError(t, err)
	return session
}

func TestSessionEndToEndTransfer(t *testing.T) {
	store := newFakeStore()
	observer := &countingObserver{}
	session := openTestSession(t, store, &fakeClient{}, observer)

	hash, err := session.SendTransfer(context.Background(), "0x1234567890abcdef1234567890abcdef12345678", "10.5")
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, hash)

	ledger, err := NewLedger(store)
	require.NoError(t, err)
	stored, err := ledger.Load(context.Background(), session.Address())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, hash, stored[0].Hash)
	assert.Equal(t, domain.TxStatusSuccess, stored[0].Status)
	assert.Equal(t, domain.TxKindTransfer, stored[0].Kind)
	assert.Equal(t, "10.5", stored[0].Amount)

	state := session.State()
	assert.Equal(t, TxStateSuccess, state.TxStatus)
	assert.Equal(t, hash, state.TxHash)
	assert.Len(t, state.Transactions, 1)
	assert.Equal(t, 1, observer.submissions)
	assert.Equal(t, "https://sepolia.etherscan.io/tx/"+hash, session.ExplorerURL(hash))
}

func TestSessionStoresUserRecord(t *testing.T) {
	store := newFakeStore()
	session := openTestSession(t, store, &fakeClient{}, nil)

	var user domain.StoredUser
	require.NoError(t, json.Unmarshal(store.data["user"], &user))
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, session.Address().Hex(), user.SmartWalletAddress)
}

func TestSessionIsDeterministicAcrossOpens(t *testing.T) {
	first := openTestSession(t, newFakeStore(), &fakeClient{}, nil)
	second := openTestSession(t, newFakeStore(), &fakeClient{}, nil)
	assert.Equal(t, first.Address(), second.Address())
}

func TestSessionFailurePopulatesWalletError(t *testing.T) {
	store := newFakeStore()
	observer := &countingObserver{}
	client := &fakeClient{submitErr: &remoteErr{msg: "paymaster rejected: policy exhausted"}}
	session := openTestSession(t, store, client, observer)
	setsAfterOpen := store.sets

	_, err := session.BatchTransfer(context.Background(), "0x1234567890abcdef1234567890abcdef12345678", "1", "5")
	require.ErrorIs(t, err, ErrSubmission)

	state := session.State()
	assert.Equal(t, TxStateError, state.TxStatus)
	assert.Equal(t, "paymaster rejected: policy exhausted", state.Error)
	assert.Equal(t, "paymaster rejected: policy exhausted", state.TxMessage)
	require.NotNil(t, session.LastError())
	assert.Empty(t, session.Transactions())
	assert.Equal(t, setsAfterOpen, store.sets)
	assert.Equal(t, 1, observer.failures)

	session.ClearTransactionState()
	state = session.State()
	assert.Equal(t, TxStateIdle, state.TxStatus)
	assert.Empty(t, state.Error)
	assert.Nil(t, session.LastError())
}

func TestSessionOpenLoadsCachedLedger(t *testing.T) {
	store := newFakeStore()
	first := openTestSession(t, store, &fakeClient{}, nil)
	_, err := first.SendTransfer(context.Background(), "0x1234567890abcdef1234567890abcdef12345678", "1")
	require.NoError(t, err)

	second := openTestSession(t, store, &fakeClient{}, nil)
	assert.Len(t, second.Transactions(), 1)
}

func TestSessionOpenRejectsMissingEmail(t *testing.T) {
	_, err := Open(context.Background(), domain.IdentityClaim{}, testSessionConfig(), SessionDeps{Store: newFakeStore()})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSessionRefreshHistoryNotifiesObserver(t *testing.T) {
	observer := &countingObserver{}
	session := openTestSession(t, newFakeStore(), &fakeClient{}, observer)

	txs := session.RefreshHistory(context.Background())
	assert.Empty(t, txs)
	assert.Equal(t, 1, observer.reconciles)
}
