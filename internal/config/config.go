// Package config provides static network, contract and gas configuration plus
// the mutable persisted paymaster API credential. It is read-only for every
// other component; the credential is the only value with a write path.
package config

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/nerochain/aa-client/internal/store"
)

// GasConfig holds the hex-encoded defaults applied to every user operation
// and the multiplier (in percent, 100 = unchanged) applied to the fee fields.
type GasConfig struct {
	CallGasLimit         string `mapstructure:"call_gas_limit" validate:"required,hexadecimal"`
	VerificationGasLimit string `mapstructure:"verification_gas_limit" validate:"required,hexadecimal"`
	PreVerificationGas   string `mapstructure:"pre_verification_gas" validate:"required,hexadecimal"`
	MaxFeePerGas         string `mapstructure:"max_fee_per_gas" validate:"required,hexadecimal"`
	MaxPriorityFeePerGas string `mapstructure:"max_priority_fee_per_gas" validate:"required,hexadecimal"`
	FeeMultiplier        int    `mapstructure:"fee_multiplier" validate:"gt=0"`
}

// GasParams are the decoded gas fields for a single user operation.
type GasParams struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Config is the process-wide configuration snapshot. Fields are set once at
// Load and never mutated afterwards, except the credential which is guarded
// by its own mutex.
type Config struct {
	ChainID      int64  `mapstructure:"chain_id" validate:"gt=0"`
	ChainName    string `mapstructure:"chain_name"`
	EthClientURL string `mapstructure:"eth_client_url" validate:"required,url"`
	BundlerURL   string `mapstructure:"bundler_url" validate:"required,url"`
	PaymasterURL string `mapstructure:"paymaster_url" validate:"required,url"`

	EntryPointHex     string `mapstructure:"entry_point" validate:"required,eth_addr"`
	AccountFactoryHex string `mapstructure:"account_factory" validate:"required,eth_addr"`
	PaymasterHex      string `mapstructure:"paymaster_address" validate:"required,eth_addr"`
	NFTContractHex    string `mapstructure:"nft_contract" validate:"required,eth_addr"`
	TokenContractHex  string `mapstructure:"token_contract" validate:"required,eth_addr"`

	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval" validate:"gt=0"`
	ReceiptWaitTimeout  time.Duration `mapstructure:"receipt_wait_timeout" validate:"gt=0"`

	TokenCacheWindow  time.Duration `mapstructure:"token_cache_window" validate:"gt=0"`
	NFTCacheWindow    time.Duration `mapstructure:"nft_cache_window" validate:"gt=0"`
	PendingOpWindow   time.Duration `mapstructure:"pending_op_window" validate:"gt=0"`
	MaxTokenRefreshes int           `mapstructure:"max_token_refreshes" validate:"gt=0"`

	Gas GasConfig `mapstructure:"gas"`

	logger logr.Logger

	credMu     sync.Mutex
	credential string
	creds      *store.CredentialStore
}

const envPrefix = "aa_client"

func setDefaults() {
	viper.SetDefault("chain_id", 689)
	viper.SetDefault("chain_name", "NERO Chain Testnet")
	viper.SetDefault("eth_client_url", "https://rpc-testnet.nerochain.io")
	viper.SetDefault("bundler_url", "https://bundler.service.nerochain.io")
	viper.SetDefault("paymaster_url", "https://paymaster-testnet.nerochain.io")

	viper.SetDefault("entry_point", "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	viper.SetDefault("account_factory", "0x9406Cc6185a346906296840746125a0E44976454")
	viper.SetDefault("paymaster_address", "0x5a6680dFd4a77FEea0A7be291147768EaA2414ad")
	viper.SetDefault("nft_contract", "0x63f1f7c6a24294a874d7c8ea289e4624f84b48cb")
	viper.SetDefault("token_contract", "0xA919e465871871F2D1da94BccAF3acaF9609D968")

	viper.SetDefault("data_dir", "/tmp/aa_client")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("receipt_poll_interval", 2*time.Second)
	viper.SetDefault("receipt_wait_timeout", 60*time.Second)

	viper.SetDefault("token_cache_window", 30*time.Second)
	viper.SetDefault("nft_cache_window", 60*time.Second)
	viper.SetDefault("pending_op_window", 5*time.Second)
	viper.SetDefault("max_token_refreshes", 5)

	viper.SetDefault("gas.call_gas_limit", "0x88b8")
	viper.SetDefault("gas.verification_gas_limit", "0x33450")
	viper.SetDefault("gas.pre_verification_gas", "0xc350")
	viper.SetDefault("gas.max_fee_per_gas", "0x2162553062")
	viper.SetDefault("gas.max_priority_fee_per_gas", "0x40dbcf36")
	viper.SetDefault("gas.fee_multiplier", 100)
}

// Load reads configuration from the environment (AA_CLIENT_* variables) with
// NERO testnet defaults, validates it, and opens the persisted credential
// slot. A credential store that cannot be opened is logged and treated as
// absent; it never fails the load.
func Load(l logr.Logger) (*Config, error) {
	setDefaults()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg := &Config{logger: l.WithName("config")}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	creds, err := store.Open(cfg.DataDir)
	if err != nil {
		cfg.logger.Error(err, "credential store unavailable, continuing in-memory")
	} else {
		cfg.creds = creds
	}

	return cfg, nil
}

func (c *Config) EntryPoint() common.Address     { return common.HexToAddress(c.EntryPointHex) }
func (c *Config) AccountFactory() common.Address { return common.HexToAddress(c.AccountFactoryHex) }
func (c *Config) Paymaster() common.Address      { return common.HexToAddress(c.PaymasterHex) }
func (c *Config) NFTContract() common.Address    { return common.HexToAddress(c.NFTContractHex) }
func (c *Config) TokenContract() common.Address  { return common.HexToAddress(c.TokenContractHex) }

// GasParams decodes the configured gas defaults and scales the fee fields by
// multiplier percent. A multiplier <= 0 means the configured default.
func (c *Config) GasParams(multiplier int) GasParams {
	if multiplier <= 0 {
		multiplier = c.Gas.FeeMultiplier
	}

	scale := func(hex string, pct int) *big.Int {
		v, err := hexutil.DecodeBig(hex)
		if err != nil {
			c.logger.Error(err, "bad gas default", "value", hex)
			v = big.NewInt(0)
		}
		if pct == 100 {
			return v
		}

		v.Mul(v, big.NewInt(int64(pct)))
		return v.Div(v, big.NewInt(100))
	}

	return GasParams{
		CallGasLimit:         scale(c.Gas.CallGasLimit, 100),
		VerificationGasLimit: scale(c.Gas.VerificationGasLimit, 100),
		PreVerificationGas:   scale(c.Gas.PreVerificationGas, 100),
		MaxFeePerGas:         scale(c.Gas.MaxFeePerGas, multiplier),
		MaxPriorityFeePerGas: scale(c.Gas.MaxPriorityFeePerGas, multiplier),
	}
}

// Credential returns the in-memory credential.
func (c *Config) Credential() string {
	c.credMu.Lock()
	defer c.credMu.Unlock()

	return c.credential
}

// SetCredential stores the credential in memory and persists it. Persistence
// failures are logged; the in-memory value is kept either way.
func (c *Config) SetCredential(value string) {
	c.credMu.Lock()
	defer c.credMu.Unlock()

	c.credential = value
	if c.creds == nil {
		return
	}
	if err := c.creds.Put(value); err != nil {
		c.logger.Error(err, "failed to persist credential")
	}
}

// LoadCredential reads the persisted credential into memory and reports
// whether one was found.
func (c *Config) LoadCredential() bool {
	c.credMu.Lock()
	defer c.credMu.Unlock()

	if c.creds == nil {
		return false
	}

	value, found, err := c.creds.Get()
	if err != nil {
		c.logger.Error(err, "failed to read persisted credential")
		return false
	}
	if found {
		c.credential = value
	}

	return found
}

// ClearCredential removes the credential from memory and from the store.
func (c *Config) ClearCredential() {
	c.credMu.Lock()
	defer c.credMu.Unlock()

	c.credential = ""
	if c.creds == nil {
		return
	}
	if err := c.creds.Delete(); err != nil {
		c.logger.Error(err, "failed to delete persisted credential")
	}
}

// Close releases the credential store.
func (c *Config) Close() error {
	if c.creds == nil {
		return nil
	}

	return c.creds.Close()
}
