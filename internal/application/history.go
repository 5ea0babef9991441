package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"aawallet/internal/domain"
	"aawallet/internal/erc20"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHistoryDepth     = 100_000
	defaultHistoryChunk     = 8_000
	defaultHistoryLimit     = 50
	defaultTimestampWorkers = 8
	relayFallbackSpacing    = time.Minute
)

var (
	errSourceUnavailable = errors.New("source unavailable")
	errAllChunksFailed   = errors.New("every log chunk failed")
)

type RelaySource interface {
	UserOperationsByAddress(ctx context.Context, account common.Address) ([]domain.RelayOperation, error)
}

type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	TransferLogs(ctx context.Context, filter domain.TransferFilter) ([]domain.LogEntry, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)
}

type HistoryConfig struct {
	MaxDepth         uint64
	ChunkSize        uint64
	Limit            int
	TimestampWorkers int
}

// Reconciler rebuilds an account's history from the bundler relay and the
// token's Transfer logs. It never fails: unavailable sources contribute no
// records.
type Reconciler struct {
	relay     RelaySource
	logs      LogSource
	token     domain.TokenInfo
	ledger    *Ledger
	publisher LedgerEventPublisher
	cfg       HistoryConfig
	now       func() time.Time
}

func NewReconciler(relay RelaySource, logs LogSource, token domain.TokenInfo, ledger *Ledger, publisher LedgerEventPublisher, cfg HistoryConfig) *Reconciler {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = defaultHistoryDepth
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultHistoryChunk
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultHistoryLimit
	}
	if cfg.TimestampWorkers <= 0 {
		cfg.TimestampWorkers = defaultTimestampWorkers
	}
	return &Reconciler{
		relay:     relay,
		logs:      logs,
		token:     token,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// sourceResult is one source's contribution. Records of a result with Err
// set are ignored by mergeSources.
type sourceResult struct {
	Name    string
	Records []domain.Transaction
	Err     error
}

// logScan is the log source outcome plus the wall-clock start of the scanned
// window, used to decide which cached records the scan covered.
type logScan struct {
	sourceResult
	windowStart int64 // epoch millis, 0 when unknown
}

// Reconcile returns the account's merged history, newest first and capped at
// the configured limit, and persists it to the ledger.
func (r *Reconciler) Reconcile(ctx context.Context, account common.Address) []domain.Transaction {
	started := r.now()

	relay := r.fetchRelay(ctx, account)
	scan := r.fetchLogs(ctx, account)
	merged := mergeSources(r.cfg.Limit, relay, scan.sourceResult)

	slog.Info("history reconciled",
		"account", account.Hex(),
		"relay_records", len(relay.Records),
		"relay_err", errString(relay.Err),
		"log_records", len(scan.Records),
		"log_err", errString(scan.Err),
		"merged", len(merged),
		"duration", time.Since(started),
	)

	r.persist(ctx, account, merged, scan)
	return merged
}

func (r *Reconciler) fetchRelay(ctx context.Context, account common.Address) sourceResult {
	result := sourceResult{Name: "relay"}
	if r.relay == nil {
		result.Err = errSourceUnavailable
		return result
	}
	ops, err := r.relay.UserOperationsByAddress(ctx, account)
	if err != nil {
		slog.Debug("relay history unavailable", "account", account.Hex(), "err", err)
		result.Err = err
		return result
	}
	result.Records = relayRecords(ops, r.now())
	return result
}

func relayRecords(ops []domain.RelayOperation, now time.Time) []domain.Transaction {
	records := make([]domain.Transaction, 0, len(ops))
	for i, op := range ops {
		hash := op.TransactionHash
		if hash == "" {
			hash = op.UserOpHash
		}
		if hash == "" {
			hash = fmt.Sprintf("userOp_%d", i)
		}
		status := domain.TxStatusFailed
		if op.Success {
			status = domain.TxStatusSuccess
		}
		timestamp := now.Add(-time.Duration(i) * relayFallbackSpacing).UnixMilli()
		if op.Timestamp > 0 {
			timestamp = int64(op.Timestamp) * 1000
		}
		records = append(records, domain.Transaction{
			Hash:      normalizeHash(hash),
			Status:    status,
			Kind:      domain.TxKindTransfer,
			Amount:    "0",
			Recipient: op.Target,
			Timestamp: timestamp,
		})
	}
	return records
}

func (r *Reconciler) fetchLogs(ctx context.Context, account common.Address) logScan {
	scan := logScan{sourceResult: sourceResult{Name: "logs"}}
	if r.logs == nil {
		scan.Err = errSourceUnavailable
		return scan
	}
	latest, err := r.logs.LatestBlockNumber(ctx)
	if err != nil {
		slog.Warn("history log scan skipped", "account", account.Hex(), "err", err)
		scan.Err = err
		return scan
	}
	start := uint64(0)
	if latest > r.cfg.MaxDepth {
		start = latest - r.cfg.MaxDepth
	}

	entries, chunks, failed := r.scanChunks(ctx, account, start, latest)
	if chunks > 0 && failed == chunks {
		scan.Err = errAllChunksFailed
		return scan
	}
	entries = dedupeLogs(entries)

	blocks := make([]uint64, 0, len(entries)+1)
	blocks = append(blocks, start)
	for _, entry := range entries {
		blocks = append(blocks, entry.BlockNumber)
	}
	timestamps := r.blockTimestamps(ctx, blocks)

	nowMillis := r.now().UnixMilli()
	var oldest int64
	for _, entry := range entries {
		record, ok := r.logRecord(entry)
		if !ok {
			continue
		}
		record.Timestamp = nowMillis
		if ts, ok := timestamps[entry.BlockNumber]; ok {
			record.Timestamp = ts
		}
		if oldest == 0 || record.Timestamp < oldest {
			oldest = record.Timestamp
		}
		scan.Records = append(scan.Records, record)
	}

	// A partially scanned window cannot vouch for the cached records in it.
	if failed > 0 {
		return scan
	}
	if ts, ok := timestamps[start]; ok {
		scan.windowStart = ts
	} else {
		scan.windowStart = oldest
	}
	return scan
}

// scanChunks walks [start, latest] newest first in ChunkSize ranges. Each
// chunk queries outgoing and incoming transfers concurrently; a failed chunk
// is skipped and counted.
func (r *Reconciler) scanChunks(ctx context.Context, account common.Address, start, latest uint64) (entries []domain.LogEntry, chunks, failed int) {
	to := latest
	for {
		if ctx.Err() != nil {
			return entries, chunks + 1, failed + 1
		}
		chunks++
		from := start
		if to-start+1 > r.cfg.ChunkSize {
			from = to - r.cfg.ChunkSize + 1
		}

		outgoing, incoming, err := r.queryChunk(ctx, account, from, to)
		if err != nil {
			failed++
			slog.Debug("history chunk skipped", "account", account.Hex(), "from", from, "to", to, "err", err)
		} else {
			entries = append(entries, outgoing...)
			entries = append(entries, incoming...)
		}

		if from <= start {
			return entries, chunks, failed
		}
		to = from - 1
	}
}

func (r *Reconciler) queryChunk(ctx context.Context, account common.Address, from, to uint64) ([]domain.LogEntry, []domain.LogEntry, error) {
	var outgoing, incoming []domain.LogEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logs, err := r.logs.TransferLogs(gctx, domain.TransferFilter{
			Token: r.token.Address, From: account.Hex(), FromBlock: from, ToBlock: to,
		})
		outgoing = logs
		return err
	})
	g.Go(func() error {
		logs, err := r.logs.TransferLogs(gctx, domain.TransferFilter{
			Token: r.token.Address, To: account.Hex(), FromBlock: from, ToBlock: to,
		})
		incoming = logs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return outgoing, incoming, nil
}

// blockTimestamps resolves each distinct block once. Failed lookups are left
// out of the map.
func (r *Reconciler) blockTimestamps(ctx context.Context, blocks []uint64) map[uint64]int64 {
	seen := make(map[uint64]struct{}, len(blocks))
	out := make(map[uint64]int64, len(blocks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.TimestampWorkers)
	for _, block := range blocks {
		if _, ok := seen[block]; ok {
			continue
		}
		seen[block] = struct{}{}
		g.Go(func() error {
			ts, err := r.logs.BlockTimestamp(gctx, block)
			if err != nil {
				slog.Debug("block timestamp unavailable", "block", block, "err", err)
				return nil
			}
			mu.Lock()
			out[block] = int64(ts) * 1000
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Reconciler) logRecord(entry domain.LogEntry) (domain.Transaction, bool) {
	if entry.Removed || entry.TxHash == "" {
		return domain.Transaction{}, false
	}
	transfer, err := erc20.DecodeTransfer(entry.Topics, entry.Data)
	if err != nil {
		slog.Debug("skipping undecodable transfer log", "tx", entry.TxHash, "log_index", entry.LogIndex, "err", err)
		return domain.Transaction{}, false
	}
	return domain.Transaction{
		Hash:      normalizeHash(entry.TxHash),
		Status:    domain.TxStatusSuccess,
		Kind:      domain.TxKindTransfer,
		Amount:    erc20.FormatUnits(transfer.Value, r.token.Decimals),
		Recipient: transfer.To.Hex(),
	}, true
}

type logKey struct {
	txHash   string
	logIndex uint64
}

func dedupeLogs(entries []domain.LogEntry) []domain.LogEntry {
	seen := make(map[logKey]struct{}, len(entries))
	out := make([]domain.LogEntry, 0, len(entries))
	for _, entry := range entries {
		key := logKey{txHash: normalizeHash(entry.TxHash), logIndex: entry.LogIndex}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// mergeSources concatenates the available sources in order, keeps the first
// record per hash, sorts newest first (stable) and truncates to limit.
func mergeSources(limit int, results ...sourceResult) []domain.Transaction {
	seen := make(map[string]struct{})
	merged := make([]domain.Transaction, 0)
	for _, result := range results {
		if result.Err != nil {
			continue
		}
		for _, record := range result.Records {
			key := normalizeHash(record.Hash)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, record)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// retainOutsideWindow returns the cached records the scan could not have
// seen: those not in merged and older than windowStart. With no known
// window every cached record not in merged is kept.
func retainOutsideWindow(cached, merged []domain.Transaction, windowStart int64) []domain.Transaction {
	present := make(map[string]struct{}, len(merged))
	for _, record := range merged {
		present[normalizeHash(record.Hash)] = struct{}{}
	}
	var kept []domain.Transaction
	for _, record := range cached {
		if _, ok := present[normalizeHash(record.Hash)]; ok {
			continue
		}
		if windowStart > 0 && record.Timestamp >= windowStart {
			continue
		}
		kept = append(kept, record)
	}
	return kept
}

func (r *Reconciler) persist(ctx context.Context, account common.Address, merged []domain.Transaction, scan logScan) {
	if r.ledger == nil {
		return
	}
	cached, err := r.ledger.Load(ctx, account)
	if err != nil {
		slog.Warn("ledger load failed during reconcile", "account", account.Hex(), "err", err)
		cached = nil
	}

	windowStart := scan.windowStart
	if scan.Err != nil {
		windowStart = 0
	}
	next := make([]domain.Transaction, 0, len(merged)+len(cached))
	next = append(next, merged...)
	next = append(next, retainOutsideWindow(cached, merged, windowStart)...)

	if err := r.ledger.Replace(ctx, account, next); err != nil {
		slog.Warn("ledger replace failed during reconcile", "account", account.Hex(), "err", err)
		return
	}

	if r.publisher != nil {
		fresh := newRecords(cached, merged)
		if len(fresh) > 0 {
			if err := r.publisher.PublishTransactions(ctx, account.Hex(), EventHistoryReconciled, fresh); err != nil {
				slog.Warn("ledger event publish failed", "account", account.Hex(), "event", EventHistoryReconciled, "err", err)
			}
		}
	}
}

func newRecords(cached, merged []domain.Transaction) []domain.Transaction {
	known := make(map[string]struct{}, len(cached))
	for _, record := range cached {
		known[normalizeHash(record.Hash)] = struct{}{}
	}
	var fresh []domain.Transaction
	for _, record := range merged {
		if _, ok := known[normalizeHash(record.Hash)]; !ok {
			fresh = append(fresh, record)
		}
	}
	return fresh
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
