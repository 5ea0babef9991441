package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	LedgerBackendSQLite = "sqlite"
	LedgerBackendMySQL  = "mysql"
	LedgerBackendRedis  = "redis"
	LedgerBackendMemory = "memory"
)

type Config struct {
	RPCURL       string
	BundlerURL   string
	PaymasterURL string
	ChainID      uint64
	ExplorerURL  string
	RPCTimeout   time.Duration

	TokenAddress  string
	TokenDecimals uint8
	TokenSymbol   string
	TokenName     string

	SignerSalt  string
	WalletEmail string

	HistoryMaxDepth  uint64
	HistoryChunkSize uint64
	HistoryLimit     int

	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration

	LedgerBackend    string
	LedgerSQLitePath string
	DBDSN            string
	RedisAddr        string
	LedgerRedisCache bool
	LedgerCacheTTL   time.Duration

	OtelEndpoint     string
	KafkaBrokers     []string
	KafkaTopicPrefix string

	HTTPAddr      string
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// EnvSource looks configuration keys up by name.
type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL := lookupString(source, "RPC_URL", "")
	if rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	cfg := Config{
		RPCURL:           rpcURL,
		BundlerURL:       lookupString(source, "BUNDLER_URL", ""),
		PaymasterURL:     lookupString(source, "PAYMASTER_URL", ""),
		ExplorerURL:      strings.TrimRight(lookupString(source, "EXPLORER_URL", "https://sepolia.etherscan.io"), "/"),
		TokenAddress:     lookupString(source, "TOKEN_ADDRESS", "0x2b9Ca0A8C773bb1B92A3dDAE9F882Fd14457DACc"),
		TokenSymbol:      lookupString(source, "TOKEN_SYMBOL", "USDC"),
		TokenName:        lookupString(source, "TOKEN_NAME", "USD Coin"),
		SignerSalt:       lookupString(source, "SIGNER_SALT", "zerodev-salt"),
		WalletEmail:      lookupString(source, "WALLET_EMAIL", ""),
		LedgerBackend:    strings.ToLower(lookupString(source, "LEDGER_BACKEND", LedgerBackendSQLite)),
		LedgerSQLitePath: lookupString(source, "LEDGER_SQLITE_PATH", "aawallet.db"),
		DBDSN:            lookupString(source, "DB_DSN", "root:@tcp(127.0.0.1:3306)/aawallet?parseTime=true"),
		RedisAddr:        lookupString(source, "REDIS_ADDR", "127.0.0.1:6379"),
		OtelEndpoint:     lookupString(source, "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		KafkaTopicPrefix: lookupString(source, "KAFKA_TOPIC_PREFIX", "aawallet-ledger"),
		HTTPAddr:         lookupString(source, "HTTP_ADDR", ":8080"),
		LogLevel:         lookupString(source, "LOG_LEVEL", "info"),
		LogFormat:        lookupString(source, "LOG_FORMAT", "text"),
		LogFile:          lookupString(source, "LOG_FILE", ""),
		KafkaBrokers:     parseList(source, "KAFKA_BROKERS"),
	}

	var err error
	if cfg.ChainID, err = parseUintEnv(source, "CHAIN_ID", 11155111); err != nil {
		return Config{}, err
	}
	if cfg.ChainID == 0 {
		return Config{}, errors.New("CHAIN_ID must be positive")
	}
	decimals, err := parseUintEnv(source, "TOKEN_DECIMALS", 6)
	if err != nil {
		return Config{}, err
	}
	if decimals > 36 {
		return Config{}, fmt.Errorf("invalid TOKEN_DECIMALS: %d", decimals)
	}
	cfg.TokenDecimals = uint8(decimals)
	if !common.IsHexAddress(cfg.TokenAddress) {
		return Config{}, fmt.Errorf("invalid TOKEN_ADDRESS: %q", cfg.TokenAddress)
	}

	if cfg.HistoryMaxDepth, err = parseUintEnv(source, "HISTORY_MAX_DEPTH", 100_000); err != nil {
		return Config{}, err
	}
	if cfg.HistoryChunkSize, err = parseUintEnv(source, "HISTORY_CHUNK_SIZE", 8_000); err != nil {
		return Config{}, err
	}
	if cfg.HistoryChunkSize == 0 {
		return Config{}, errors.New("HISTORY_CHUNK_SIZE must be positive")
	}
	limit, err := parseUintEnv(source, "HISTORY_LIMIT", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit = int(limit)

	if cfg.RPCTimeout, err = parseDurationEnv(source, "RPC_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReceiptPollInterval, err = parseDurationEnv(source, "RECEIPT_POLL_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReceiptTimeout, err = parseDurationEnv(source, "RECEIPT_TIMEOUT", 2*time.Minute); err != nil {
		return Config{}, err
	}

	if cfg.LedgerRedisCache, err = parseBoolEnv(source, "LEDGER_REDIS_CACHE", false); err != nil {
		return Config{}, err
	}
	if cfg.LedgerCacheTTL, err = parseDurationEnv(source, "LEDGER_CACHE_TTL", time.Hour); err != nil {
		return Config{}, err
	}

	switch cfg.LedgerBackend {
	case LedgerBackendSQLite, LedgerBackendMySQL, LedgerBackendRedis, LedgerBackendMemory:
	default:
		return Config{}, fmt.Errorf("invalid LEDGER_BACKEND: %q", cfg.LedgerBackend)
	}

	maxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	cfg.LogMaxSizeMB = int(maxSize)
	backups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}
	cfg.LogMaxBackups = int(backups)

	return cfg, nil
}

func lookupString(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseBoolEnv(source EnvSource, key string, defaultValue bool) (bool, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return value, nil
}

func parseList(source EnvSource, key string) []string {
	raw, _ := source.Lookup(key)
	var values []string
	for _, item := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(item); value != "" {
			values = append(values, value)
		}
	}
	return values
}
