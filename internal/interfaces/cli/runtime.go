package cli

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"aawallet/internal/application"
	"aawallet/internal/config"
	"aawallet/internal/domain"
	"aawallet/internal/infrastructure/bundler"
	"aawallet/internal/infrastructure/ethrpc"
	"aawallet/internal/infrastructure/kafka"
	"aawallet/internal/infrastructure/kernel"
	"aawallet/internal/infrastructure/logging"
	"aawallet/internal/infrastructure/memstore"
	"aawallet/internal/infrastructure/mysql"
	"aawallet/internal/infrastructure/redisstore"
	"aawallet/internal/infrastructure/sqlite"
	"aawallet/internal/infrastructure/storage"
	"aawallet/internal/infrastructure/telemetry"
	"aawallet/internal/interfaces/httpapi"

	"github.com/ethereum/go-ethereum/common"
)

const serviceName = "aawallet"

// runtime is one opened wallet session plus everything it holds open.
type runtime struct {
	cfg     config.Config
	chain   *ethrpc.Client
	session *application.Session
	metrics *httpapi.Metrics
	closers []func() error
}

func openRuntime(ctx context.Context, opts *RootOptions) (*runtime, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	rt := &runtime{cfg: cfg, metrics: httpapi.NewMetrics()}

	logWriter, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Service:    serviceName,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("logging error: %w", err)
	}
	if logWriter != nil {
		rt.closers = append(rt.closers, logWriter.Close)
	}

	shutdownTracing, err := telemetry.InitTracer(ctx, serviceName, cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	}
	rt.closers = append(rt.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(shutdownCtx)
	})

	claim, err := resolveClaim(opts, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	session, err := rt.open(ctx, claim)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.session = session
	return rt, nil
}

func (rt *runtime) open(ctx context.Context, claim domain.IdentityClaim) (*application.Session, error) {
	cfg := rt.cfg
	chain, err := ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL, Timeout: cfg.RPCTimeout})
	if err != nil {
		return nil, fmt.Errorf("rpc error: %w", err)
	}
	rt.chain = chain
	if id, err := chain.ChainID(ctx); err != nil {
		slog.Warn("chain id check skipped", "err", err)
	} else if id != cfg.ChainID {
		return nil, fmt.Errorf("rpc chain id %d does not match CHAIN_ID %d", id, cfg.ChainID)
	}

	profile := domain.KernelV31ECDSA
	factory, err := kernel.NewFactory(chain, profile)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openLedgerStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger store error: %w", err)
	}
	rt.closers = append(rt.closers, closeStore)

	deps := application.SessionDeps{
		Resolver: factory,
		NewClient: func(key *ecdsa.PrivateKey, account common.Address) (application.OperationClient, error) {
			return bundler.NewClient(bundler.Config{
				BundlerURL:     cfg.BundlerURL,
				PaymasterURL:   cfg.PaymasterURL,
				ChainID:        cfg.ChainID,
				Profile:        profile,
				PollInterval:   cfg.ReceiptPollInterval,
				ReceiptTimeout: cfg.ReceiptTimeout,
				Timeout:        cfg.RPCTimeout,
			}, chain, key, account)
		},
		Chain:    chain,
		Store:    store,
		Observer: rt.metrics,
	}

	if cfg.BundlerURL != "" {
		relay, err := bundler.NewRelay(cfg.BundlerURL, cfg.RPCTimeout)
		if err != nil {
			slog.Warn("bundler relay disabled", "err", err)
		} else {
			deps.Relay = relay
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
			ChainID:     cfg.ChainID,
		})
		if err != nil {
			slog.Warn("ledger events disabled", "err", err)
		} else {
			deps.Publisher = producer
			rt.closers = append(rt.closers, producer.Close)
			slog.Info("ledger events enabled", "topic", producer.Topic(), "brokers", len(cfg.KafkaBrokers))
		}
	}

	return application.Open(ctx, claim, application.SessionConfig{
		SignerSalt: cfg.SignerSalt,
		Bootstrap: application.BootstrapConfig{
			RPCURL:       cfg.RPCURL,
			BundlerURL:   cfg.BundlerURL,
			PaymasterURL: cfg.PaymasterURL,
			Profile:      profile,
		},
		Token: domain.TokenInfo{
			Address:  cfg.TokenAddress,
			Symbol:   cfg.TokenSymbol,
			Name:     cfg.TokenName,
			Decimals: cfg.TokenDecimals,
		},
		History: application.HistoryConfig{
			MaxDepth:  cfg.HistoryMaxDepth,
			ChunkSize: cfg.HistoryChunkSize,
			Limit:     cfg.HistoryLimit,
		},
		ExplorerURL: cfg.ExplorerURL,
	}, deps)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}
	rt.closers = nil
}

// resolveClaim picks the identity from --id-token, then --email, then
// WALLET_EMAIL.
func resolveClaim(opts *RootOptions, cfg config.Config) (domain.IdentityClaim, error) {
	if strings.TrimSpace(opts.IDToken) != "" {
		return application.ClaimFromIDToken(strings.TrimSpace(opts.IDToken))
	}
	email := strings.TrimSpace(opts.Email)
	if email == "" {
		email = cfg.WalletEmail
	}
	if email == "" {
		return domain.IdentityClaim{}, errors.New("an identity is required: pass --email, --id-token or set WALLET_EMAIL")
	}
	return domain.IdentityClaim{Email: email}, nil
}

type ledgerStore interface {
	application.KeyValueStore
	io.Closer
}

// openLedgerStore returns the configured key-value backend, optionally behind
// a redis read-through cache, and the function that closes what it opened.
func openLedgerStore(cfg config.Config) (application.KeyValueStore, func() error, error) {
	var (
		store ledgerStore
		err   error
	)
	switch cfg.LedgerBackend {
	case config.LedgerBackendMemory:
		return memstore.New(), func() error { return nil }, nil
	case config.LedgerBackendMySQL:
		store, err = mysql.NewStore(cfg.DBDSN)
	case config.LedgerBackendRedis:
		store, err = redisstore.NewStore(redisstore.Config{Addr: cfg.RedisAddr})
	case config.LedgerBackendSQLite, "":
		store, err = sqlite.NewStore(cfg.LedgerSQLitePath)
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
	if err != nil {
		return nil, nil, err
	}
	if !cfg.LedgerRedisCache || cfg.LedgerBackend == config.LedgerBackendRedis {
		return store, store.Close, nil
	}

	cache, err := redisstore.NewStore(redisstore.Config{Addr: cfg.RedisAddr, TTL: cfg.LedgerCacheTTL})
	if err != nil {
		slog.Warn("redis cache disabled", "err", err)
		return store, store.Close, nil
	}
	cached, err := storage.NewCachedStore(store, cache)
	if err != nil {
		_ = cache.Close()
		_ = store.Close()
		return nil, nil, err
	}
	return cached, func() error {
		return errors.Join(cache.Close(), store.Close())
	}, nil
}
