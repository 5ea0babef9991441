package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"aawallet/internal/application"
	"aawallet/internal/domain"
)

const maxBodyBytes = 1 << 16

// WalletSession is the part of application.Session the API serves.
type WalletSession interface {
	Account() *application.SmartAccount
	Token() domain.TokenInfo
	State() application.SessionState
	ExplorerURL(hash string) string
	TokenBalance(ctx context.Context) string
	NativeBalance(ctx context.Context) string
	SendTransfer(ctx context.Context, recipient, amount string) (string, error)
	BatchTransfer(ctx context.Context, recipient, amount, approveAmount string) (string, error)
	Transactions() []domain.Transaction
	RefreshHistory(ctx context.Context) []domain.Transaction
	ClearTransactionState()
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	session   WalletSession
	rpc       RPCStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(session WalletSession, rpc RPCStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if session == nil || rpc == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{session: session, rpc: rpc, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", s.handleHealth)
	s.route(mux, "GET /readyz", s.handleReady)
	s.route(mux, "GET /account", s.handleAccount)
	s.route(mux, "GET /balances", s.handleBalances)
	s.route(mux, "POST /transfers", s.handleTransfer)
	s.route(mux, "POST /batch-transfers", s.handleBatchTransfer)
	s.route(mux, "GET /transactions", s.handleTransactions)
	s.route(mux, "POST /transactions/refresh", s.handleRefresh)
	s.route(mux, "DELETE /tx-state", s.handleClearTxState)
	s.route(mux, "GET /metrics", s.handleMetrics)
	s.route(mux, "GET /version", s.handleVersion)
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		s.metrics.IncRequest(pattern)
		handler(w, r)
	})
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type accountResponse struct {
	Email             string           `json:"email"`
	Address           string           `json:"address"`
	Owner             string           `json:"owner"`
	KernelVersion     string           `json:"kernelVersion"`
	EntryPointVersion string           `json:"entryPointVersion"`
	EntryPoint        string           `json:"entryPoint"`
	Token             domain.TokenInfo `json:"token"`
	TxHash            string           `json:"txHash,omitempty"`
	TxStatus          string           `json:"txStatus"`
	TxMessage         string           `json:"txMessage,omitempty"`
	Error             string           `json:"error,omitempty"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account := s.session.Account()
	state := s.session.State()
	respondJSON(w, http.StatusOK, accountResponse{
		Email:             state.Email,
		Address:           account.Address.Hex(),
		Owner:             account.Owner.Hex(),
		KernelVersion:     account.Profile.KernelVersion,
		EntryPointVersion: account.Profile.EntryPointVersion,
		EntryPoint:        account.Profile.EntryPointAddress,
		Token:             s.session.Token(),
		TxHash:            state.TxHash,
		TxStatus:          string(state.TxStatus),
		TxMessage:         state.TxMessage,
		Error:             state.Error,
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"token":  s.session.TokenBalance(r.Context()),
		"native": s.session.NativeBalance(r.Context()),
		"symbol": s.session.Token().Symbol,
	})
}

type transferRequest struct {
	Recipient     string `json:"recipient"`
	Amount        string `json:"amount"`
	ApproveAmount string `json:"approveAmount"`
}

type transferResponse struct {
	Hash        string `json:"hash"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTransfer(w, r)
	if !ok {
		return
	}
	hash, err := s.session.SendTransfer(submissionContext(r), req.Recipient, req.Amount)
	s.respondSubmission(w, hash, err)
}

func (s *Server) handleBatchTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTransfer(w, r)
	if !ok {
		return
	}
	hash, err := s.session.BatchTransfer(submissionContext(r), req.Recipient, req.Amount, req.ApproveAmount)
	s.respondSubmission(w, hash, err)
}

// submissionContext detaches a submission from the client connection. Once
// an operation is broadcast only the receipt timeout may end the wait.
func submissionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) respondSubmission(w http.ResponseWriter, hash string, err error) {
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transferResponse{Hash: hash, ExplorerURL: s.session.ExplorerURL(hash)})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Transactions())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.RefreshHistory(r.Context()))
}

func (s *Server) handleClearTxState(w http.ResponseWriter, r *http.Request) {
	s.session.ClearTransactionState()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	fmt.Fprintf(w, "aawallet_uptime_seconds %.0f\n", time.Since(snap.StartTime).Seconds())
	for _, kind := range []domain.TxKind{domain.TxKindTransfer, domain.TxKindBatch} {
		fmt.Fprintf(w, "aawallet_submissions_total{kind=%q} %d\n", kind, snap.Submissions[kind])
		fmt.Fprintf(w, "aawallet_submission_failures_total{kind=%q} %d\n", kind, snap.SubmissionFailures[kind])
	}
	fmt.Fprintf(w, "aawallet_last_submission_seconds %.3f\n", snap.LastSubmission.Seconds())
	fmt.Fprintf(w, "aawallet_reconciles_total %d\n", snap.Reconciles)
	fmt.Fprintf(w, "aawallet_last_reconcile_seconds %.3f\n", snap.LastReconcile.Seconds())
	fmt.Fprintf(w, "aawallet_last_reconcile_records %d\n", snap.LastRecords)

	routes := make([]string, 0, len(snap.HTTPRequests))
	for route := range snap.HTTPRequests {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	for _, route := range routes {
		fmt.Fprintf(w, "aawallet_http_requests_total{route=%q} %d\n", route, snap.HTTPRequests[route])
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func decodeTransfer(w http.ResponseWriter, r *http.Request) (transferRequest, bool) {
	var req transferRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return transferRequest{}, false
	}
	return req, true
}

// statusFor maps a wallet failure onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, application.ErrSubmission):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWalletError(w http.ResponseWriter, err error) {
	message := err.Error()
	var walletErr *application.WalletError
	if errors.As(err, &walletErr) && walletErr.Message != "" {
		message = walletErr.Message
	}
	respondError(w, statusFor(err), message)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
