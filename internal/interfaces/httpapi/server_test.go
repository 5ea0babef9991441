package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aawallet/internal/application"
	"aawallet/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const txHash = "0x00000000000000000000000000000000000000000000000000000000000000a1"

type fakeSession struct {
	submitErr error
	cleared   bool
	refreshed int
	recipient string
	amount    string
	approve   string
	txs       []domain.Transaction

	// hold keeps SendTransfer busy until ctx ends or hold elapses; the
	// context error seen at that point is sent on held.
	hold time.Duration
	held chan error
}

func (f *fakeSession) Account() *application.SmartAccount {
	return &application.SmartAccount{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Owner:   common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Profile: domain.KernelV31ECDSA,
	}
}

func (f *fakeSession) Token() domain.TokenInfo {
	return domain.TokenInfo{Address: "0x2b9Ca0A8C773bb1B92A3dDAE9F882Fd14457DACc", Symbol: "USDC", Name: "USD Coin", Decimals: 6}
}

func (f *fakeSession) State() application.SessionState {
	return application.SessionState{Email: "a@x.com", TxStatus: application.TxStateIdle}
}

func (f *fakeSession) ExplorerURL(hash string) string {
	return "https://sepolia.etherscan.io/tx/" + hash
}

func (f *fakeSession) TokenBalance(context.Context) string  { return "12.500000" }
func (f *fakeSession) NativeBalance(context.Context) string { return "0" }

func (f *fakeSession) SendTransfer(ctx context.Context, recipient, amount string) (string, error) {
	f.recipient, f.amount = recipient, amount
	if f.hold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.hold):
		}
		f.held <- ctx.Err()
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return txHash, nil
}

func (f *fakeSession) BatchTransfer(_ context.Context, recipient, amount, approveAmount string) (string, error) {
	f.approve = approveAmount
	return f.SendTransfer(context.Background(), recipient, amount)
}

func (f *fakeSession) Transactions() []domain.Transaction { return f.txs }

func (f *fakeSession) RefreshHistory(context.Context) []domain.Transaction {
	f.refreshed++
	return f.txs
}

func (f *fakeSession) ClearTransactionState() { f.cleared = true }

type fakeRPC struct{ err error }

func (f fakeRPC) LatestBlockNumber(context.Context) (uint64, error) { return 100, f.err }

func newTestServer(t *testing.T, session *fakeSession, rpc fakeRPC) (*httptest.Server, *Metrics) {
	t.Helper()
	metrics := NewMetrics()
	server, err := NewServer(session, rpc, metrics, BuildInfo{Version: "1.2.3"})
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, metrics
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

func TestTransferEndpoint(t *testing.T) {
	session := &fakeSession{}
	ts, _ := newTestServer(t, session, fakeRPC{})

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/transfers", `{"recipient":"0x1234567890abcdef1234567890abcdef12345678","amount":"10.5"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out transferResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, txHash, out.Hash)
	assert.Equal(t, "https://sepolia.etherscan.io/tx/"+txHash, out.ExplorerURL)
	assert.Equal(t, "10.5", session.amount)
}

func TestBatchTransferPassesApproveAmount(t *testing.T) {
	session := &fakeSession{}
	ts, _ := newTestServer(t, session, fakeRPC{})

	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/batch-transfers", `{"recipient":"0x1234567890abcdef1234567890abcdef12345678","amount":"1","approveAmount":"5"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", session.approve)
}

func TestSubmissionErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &application.WalletError{Kind: application.KindValidation, Message: "Invalid amount"}, http.StatusBadRequest},
		{"not initialized", &application.WalletError{Kind: application.KindSubmission, Message: "Wallet not initialized", Err: application.ErrNotInitialized}, http.StatusConflict},
		{"remote", &application.WalletError{Kind: application.KindSubmission, Message: "paymaster rejected"}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeSession{submitErr: tc.err}, fakeRPC{})
			resp, body := doRequest(t, http.MethodPost, ts.URL+"/transfers", `{"recipient":"0x1","amount":"1"}`)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Contains(t, string(body), `"error"`)
		})
	}
}

func TestSubmissionErrorKeepsRemoteMessage(t *testing.T) {
	session := &fakeSession{submitErr: &application.WalletError{Kind: application.KindSubmission, Op: "transfer", Message: "AA21 didn't pay prefund"}}
	ts, _ := newTestServer(t, session, fakeRPC{})

	_, body := doRequest(t, http.MethodPost, ts.URL+"/transfers", `{"recipient":"0x1","amount":"1"}`)
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "AA21 didn't pay prefund", out["error"])
}

func TestTransferRejectsMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t, &fakeSession{}, fakeRPC{})

	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/transfers", `{"recipient":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodPost, ts.URL+"/transfers", `{"to":"0x1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, &fakeSession{}, fakeRPC{})
	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/transfers", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAccountEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeSession{}, fakeRPC{})

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/account", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out accountResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "a@x.com", out.Email)
	assert.Equal(t, "0.3.1", out.KernelVersion)
	assert.Equal(t, "0.7", out.EntryPointVersion)
	assert.Equal(t, "USDC", out.Token.Symbol)
	assert.Equal(t, "idle", out.TxStatus)
}

func TestBalancesEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeSession{}, fakeRPC{})

	_, body := doRequest(t, http.MethodGet, ts.URL+"/balances", "")
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "12.500000", out["token"])
	assert.Equal(t, "0", out["native"])
}

func TestTransactionsAndRefresh(t *testing.T) {
	session := &fakeSession{txs: []domain.Transaction{{Hash: txHash, Status: domain.TxStatusSuccess, Kind: domain.TxKindTransfer, Amount: "1", Timestamp: 1}}}
	ts, _ := newTestServer(t, session, fakeRPC{})

	_, body := doRequest(t, http.MethodGet, ts.URL+"/transactions", "")
	var listed []domain.Transaction
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Len(t, listed, 1)

	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/transactions/refresh", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, session.refreshed)
}

func TestClearTxState(t *testing.T) {
	session := &fakeSession{}
	ts, _ := newTestServer(t, session, fakeRPC{})

	resp, _ := doRequest(t, http.MethodDelete, ts.URL+"/tx-state", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, session.cleared)
}

func TestReadyReflectsRPC(t *testing.T) {
	ts, _ := newTestServer(t, &fakeSession{}, fakeRPC{err: errors.New("dial tcp: refused")})
	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ts, _ = newTestServer(t, &fakeSession{}, fakeRPC{})
	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, metrics := newTestServer(t, &fakeSession{}, fakeRPC{})
	metrics.OnSubmission(domain.TxKindBatch, errors.New("rejected"), time.Second)
	metrics.OnReconcile(7, 250*time.Millisecond)

	_, body := doRequest(t, http.MethodGet, ts.URL+"/metrics", "")
	text := string(body)
	assert.Contains(t, text, `aawallet_submissions_total{kind="batch"} 1`)
	assert.Contains(t, text, `aawallet_submission_failures_total{kind="batch"} 1`)
	assert.Contains(t, text, `aawallet_submissions_total{kind="transfer"} 0`)
	assert.Contains(t, text, "aawallet_last_reconcile_records 7")
	assert.Contains(t, text, `aawallet_http_requests_total{route="GET /metrics"} 1`)
}

func TestVersionEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeSession{}, fakeRPC{})
	_, body := doRequest(t, http.MethodGet, ts.URL+"/version", "")
	assert.JSONEq(t, `{"version":"1.2.3","commit":"","buildTime":""}`, string(body))
}

func TestTransferSurvivesClientDisconnect(t *testing.T) {
	session := &fakeSession{hold: 500 * time.Millisecond, held: make(chan error, 1)}
	ts, _ := newTestServer(t, session, fakeRPC{})

	client := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := client.Post(ts.URL+"/transfers", "application/json",
		strings.NewReader(`{"recipient":"0x1234567890abcdef1234567890abcdef12345678","amount":"1"}`))
	require.Error(t, err)

	select {
	case ctxErr := <-session.held:
		assert.NoError(t, ctxErr)
	case <-time.After(3 * time.Second):
		t.Fatal("transfer did not finish")
	}
}
