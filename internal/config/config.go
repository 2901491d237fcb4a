package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. It is read-only once Load returns.
type Config struct {
	Chain   ChainConfig   `yaml:"chain"`
	Signer  SignerConfig  `yaml:"signer"`
	Store   StoreConfig   `yaml:"store"`
	Service ServiceConfig `yaml:"service"`
	Log     LogConfig     `yaml:"log"`
}

// ChainConfig replaces the fixed process-wide ledger constants.
type ChainConfig struct {
	RPCURL                 string        `yaml:"rpcUrl"`
	NetworkPassphrase      string        `yaml:"networkPassphrase"`
	ContractID             string        `yaml:"contractId"`
	BaseFee                int64         `yaml:"baseFee"`
	TxTimeout              time.Duration `yaml:"txTimeout"`
	PollInterval           time.Duration `yaml:"pollInterval"`
	PollMaxAttempts        int           `yaml:"pollMaxAttempts"`
	AmountScale            int64         `yaml:"amountScale"`
	FailClosedOnPauseCheck bool          `yaml:"failClosedOnPauseCheck"`
	ReservedSymbols        []string      `yaml:"reservedSymbols"`
	RPCTimeout             time.Duration `yaml:"rpcTimeout"`
}

type SignerConfig struct {
	// Mode is one of "wallet", "local" or "none".
	Mode       string        `yaml:"mode"`
	URL        string        `yaml:"url"`
	SecretSeed string        `yaml:"secretSeed"`
	Timeout    time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	// Driver is one of "memory", "file" or "postgres".
	Driver      string `yaml:"driver"`
	FilePath    string `yaml:"filePath"`
	PostgresDSN string `yaml:"postgresDsn"`

	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	ReconcileBatch    int           `yaml:"reconcileBatch"`
	ReconcileRate     float64       `yaml:"reconcileRate"`
	MaxWriteAttempts  int           `yaml:"maxWriteAttempts"`
}

type ServiceConfig struct {
	HTTPPort          int           `yaml:"httpPort"`
	HMACSecret        string        `yaml:"hmacSecret"`
	HMACClockSkew     time.Duration `yaml:"hmacClockSkew"`
	IdempotencyWindow time.Duration `yaml:"idempotencyWindow"`
	LockTimeout       time.Duration `yaml:"lockTimeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	UTC        bool   `yaml:"utc"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

const (
	TestNetworkPassphrase = "Test SDF Network ; September 2015"

	DefaultAmountScale = 10_000_000
)

// DefaultReservedSymbols are the job-status tags that encode as ledger symbols
// rather than plain strings.
var DefaultReservedSymbols = []string{"Open", "InProgress", "Completed", "Disputed", "Cancelled", "Released", "Refunded"}

// Defaults returns a configuration usable against a local dev ledger.
func Defaults() *Config {
	return &Config{
		Chain: ChainConfig{
			NetworkPassphrase: TestNetworkPassphrase,
			BaseFee:           100,
			TxTimeout:         30 * time.Second,
			PollInterval:      time.Second,
			PollMaxAttempts:   60,
			AmountScale:       DefaultAmountScale,
			ReservedSymbols:   append([]string(nil), DefaultReservedSymbols...),
			RPCTimeout:        15 * time.Second,
		},
		Signer: SignerConfig{
			Mode:    "wallet",
			Timeout: 2 * time.Minute,
		},
		Store: StoreConfig{
			Driver:            "memory",
			ReconcileInterval: 30 * time.Second,
			ReconcileBatch:    25,
			ReconcileRate:     5,
			MaxWriteAttempts:  20,
		},
		Service: ServiceConfig{
			HTTPPort:          3000,
			HMACClockSkew:     time.Minute,
			IdempotencyWindow: 24 * time.Hour,
			LockTimeout:       5 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "simple",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads the YAML file at path (if non-empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = envOr("ESCROW_CONFIG", "")
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, cfg)
}

func applyEnv(cfg *Config) {
	cfg.Chain.RPCURL = envOr("ESCROW_RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.NetworkPassphrase = envOr("ESCROW_NETWORK_PASSPHRASE", cfg.Chain.NetworkPassphrase)
	cfg.Chain.ContractID = envOr("ESCROW_CONTRACT_ID", cfg.Chain.ContractID)
	cfg.Chain.BaseFee = int64(envOrInt("ESCROW_BASE_FEE", int(cfg.Chain.BaseFee)))
	cfg.Chain.PollInterval = envOrDuration("ESCROW_POLL_INTERVAL", cfg.Chain.PollInterval)
	cfg.Chain.PollMaxAttempts = envOrInt("ESCROW_POLL_MAX_ATTEMPTS", cfg.Chain.PollMaxAttempts)
	cfg.Chain.FailClosedOnPauseCheck = envOrBool("ESCROW_FAIL_CLOSED_ON_PAUSE_CHECK", cfg.Chain.FailClosedOnPauseCheck)

	cfg.Signer.Mode = envOr("ESCROW_SIGNER_MODE", cfg.Signer.Mode)
	cfg.Signer.URL = envOr("ESCROW_SIGNER_URL", cfg.Signer.URL)
	cfg.Signer.SecretSeed = envOr("ESCROW_SIGNER_SEED", cfg.Signer.SecretSeed)

	cfg.Store.PostgresDSN = envOr("ESCROW_POSTGRES_DSN", cfg.Store.PostgresDSN)
	if cfg.Store.PostgresDSN != "" && cfg.Store.Driver == "memory" {
		cfg.Store.Driver = "postgres"
	}
	cfg.Store.Driver = envOr("ESCROW_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.FilePath = envOr("ESCROW_STORE_PATH", cfg.Store.FilePath)

	cfg.Service.HTTPPort = envOrInt("API_HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Service.HMACSecret = envOr("ESCROW_HMAC_SECRET", cfg.Service.HMACSecret)
	cfg.Service.HMACClockSkew = time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", int(cfg.Service.HMACClockSkew/time.Second))) * time.Second

	cfg.Log.Level = envOr("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("LOG_FORMAT", cfg.Log.Format)
}

// Validate checks the values the lock path depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Chain.NetworkPassphrase == "" {
		errs = append(errs, errors.New("chain.networkPassphrase is required"))
	}
	if c.Chain.BaseFee <= 0 {
		errs = append(errs, errors.New("chain.baseFee must be positive"))
	}
	if c.Chain.TxTimeout <= 0 {
		errs = append(errs, errors.New("chain.txTimeout must be positive"))
	}
	if c.Chain.PollInterval <= 0 {
		errs = append(errs, errors.New("chain.pollInterval must be positive"))
	}
	if c.Chain.PollMaxAttempts <= 0 {
		errs = append(errs, errors.New("chain.pollMaxAttempts must be positive"))
	}
	if c.Chain.AmountScale <= 0 {
		errs = append(errs, errors.New("chain.amountScale must be positive"))
	}
	switch c.Signer.Mode {
	case "wallet":
		if c.Signer.URL == "" && c.Chain.RPCURL != "" {
			errs = append(errs, errors.New("signer.url is required in wallet mode"))
		}
	case "local":
		if c.Signer.SecretSeed == "" {
			errs = append(errs, errors.New("signer.secretSeed is required in local mode"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("unknown signer.mode %q", c.Signer.Mode))
	}
	switch c.Store.Driver {
	case "memory":
	case "file":
		if c.Store.FilePath == "" {
			errs = append(errs, errors.New("store.filePath is required for the file driver"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgresDsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// IdempotencyPath is where the file driver keeps idempotency records, next
// to the record file.
func (s StoreConfig) IdempotencyPath() string {
	return strings.TrimSuffix(s.FilePath, ".json") + ".idempotency.json"
}

// DevMode reports whether no RPC endpoint is configured, in which case the
// process runs against the in-memory ledger.
func (c *Config) DevMode() bool {
	return strings.TrimSpace(c.Chain.RPCURL) == ""
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
