// Package config loads the service's runtime configuration from the
// environment (prefix MARKETPLACE_), mirroring the teacher's pattern of one
// struct populated at startup and passed down by constructor injection.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SecretsDriver selects the SeedStore backend.
type SecretsDriver string

const (
	SecretsDriverEnv           SecretsDriver = "env"
	SecretsDriverEncryptedFile SecretsDriver = "encrypted_file"
)

// SandboxDriver selects the verification sandbox Runner backend.
type SandboxDriver string

const (
	SandboxDriverLocal   SandboxDriver = "local"
	SandboxDriverManaged SandboxDriver = "managed"
)

// Config is the fully-resolved set of runtime settings, populated once at
// startup and threaded through every component constructor.
type Config struct {
	HTTPAddr string

	PostgresDSN string
	RedisAddr   string

	RequestTimestampSkew time.Duration
	NonceTTL             time.Duration

	SecretsDriver       SecretsDriver
	SeedEnvVar          string
	SeedEncryptedPath   string
	SeedPassphraseEnv   string

	SandboxDriver         SandboxDriver
	SandboxImagePython    string
	SandboxImageNode      string
	SandboxImageBash      string
	SandboxImageRuby      string
	SandboxManagedBaseURL string
	SandboxMaxTimeoutSec  int
	SandboxMaxMemoryMB    int

	ChainID             string
	RPCEndpoints        []string
	USDCContractAddress string
	RequiredConfirmations uint32
	MinimumDepositUSDC    int64

	TreasuryPrivateKeyEnv string
	TreasuryAddress       string
	AlchemyAPIKey         string

	BaseFeePercentBp   int64 // basis points, e.g. 250 = 2.50%
	VerificationFeePerCPUSecond Credits
	VerificationFeeMinimum      Credits
	StorageFeePerKB             Credits
	StorageFeeMinimum           Credits
	WithdrawalFlatFee           Credits

	JobDefaultMaxRounds int

	DevDirectDepositEnabled bool

	MetricsAddr string

	TreasuryAuditLogPath string
}

// Credits mirrors models.Credits without importing the models package,
// keeping config dependency-free of the domain layer; callers convert at
// the edge via models.NewCreditsFromString.
type Credits = string

// Load reads MARKETPLACE_-prefixed environment variables into a Config,
// applying defaults for everything not set.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETPLACE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("postgres_dsn", "postgres://localhost:5432/marketplace?sslmode=disable")
	v.SetDefault("redis_addr", "localhost:6379")

	v.SetDefault("request_timestamp_skew_seconds", 30)
	v.SetDefault("nonce_ttl_seconds", 60)

	v.SetDefault("secrets_driver", string(SecretsDriverEnv))
	v.SetDefault("seed_env_var", "MARKETPLACE_HD_SEED_HEX")
	v.SetDefault("seed_encrypted_path", "/etc/marketplace/seed.enc")
	v.SetDefault("seed_passphrase_env", "MARKETPLACE_SEED_PASSPHRASE")

	v.SetDefault("sandbox_driver", string(SandboxDriverLocal))
	v.SetDefault("sandbox_image_python", "python:3.12-slim@sha256:placeholder")
	v.SetDefault("sandbox_image_node", "node:20-slim@sha256:placeholder")
	v.SetDefault("sandbox_image_bash", "bash:5@sha256:placeholder")
	v.SetDefault("sandbox_image_ruby", "ruby:3.3-slim@sha256:placeholder")
	v.SetDefault("sandbox_managed_base_url", "")
	v.SetDefault("sandbox_max_timeout_seconds", 300)
	v.SetDefault("sandbox_max_memory_mb", 512)

	v.SetDefault("chain_id", "base-sepolia")
	v.SetDefault("rpc_endpoints", []string{})
	v.SetDefault("usdc_contract_address", "")
	v.SetDefault("required_confirmations", 12)
	v.SetDefault("minimum_deposit_usdc", 1_000_000) // 1.000000 USDC

	v.SetDefault("treasury_private_key_env", "MARKETPLACE_TREASURY_KEY_HEX")
	v.SetDefault("treasury_address", "")
	v.SetDefault("alchemy_api_key", "")

	v.SetDefault("base_fee_percent_bp", 250) // 2.50%
	v.SetDefault("verification_fee_per_cpu_second", "0.01")
	v.SetDefault("verification_fee_minimum", "0.01")
	v.SetDefault("storage_fee_per_kb", "0.01")
	v.SetDefault("storage_fee_minimum", "0.01")
	v.SetDefault("withdrawal_flat_fee", "0.50")

	v.SetDefault("job_default_max_rounds", 5)

	v.SetDefault("dev_direct_deposit_enabled", false)
	v.SetDefault("treasury_audit_log_path", "/var/log/marketplace/treasury-audit.ndjson")

	cfg := &Config{
		HTTPAddr:    v.GetString("http_addr"),
		MetricsAddr: v.GetString("metrics_addr"),
		PostgresDSN: v.GetString("postgres_dsn"),
		RedisAddr:   v.GetString("redis_addr"),

		RequestTimestampSkew: v.GetDuration("request_timestamp_skew_seconds") * time.Second,
		NonceTTL:             v.GetDuration("nonce_ttl_seconds") * time.Second,

		SecretsDriver:     SecretsDriver(v.GetString("secrets_driver")),
		SeedEnvVar:        v.GetString("seed_env_var"),
		SeedEncryptedPath: v.GetString("seed_encrypted_path"),
		SeedPassphraseEnv: v.GetString("seed_passphrase_env"),

		SandboxDriver:          SandboxDriver(v.GetString("sandbox_driver")),
		SandboxImagePython:     v.GetString("sandbox_image_python"),
		SandboxImageNode:       v.GetString("sandbox_image_node"),
		SandboxImageBash:       v.GetString("sandbox_image_bash"),
		SandboxImageRuby:       v.GetString("sandbox_image_ruby"),
		SandboxManagedBaseURL:  v.GetString("sandbox_managed_base_url"),
		SandboxMaxTimeoutSec:   v.GetInt("sandbox_max_timeout_seconds"),
		SandboxMaxMemoryMB:     v.GetInt("sandbox_max_memory_mb"),

		ChainID:               v.GetString("chain_id"),
		RPCEndpoints:          v.GetStringSlice("rpc_endpoints"),
		USDCContractAddress:   v.GetString("usdc_contract_address"),
		RequiredConfirmations: uint32(v.GetInt("required_confirmations")),
		MinimumDepositUSDC:    v.GetInt64("minimum_deposit_usdc"),

		TreasuryPrivateKeyEnv: v.GetString("treasury_private_key_env"),
		TreasuryAddress:       v.GetString("treasury_address"),
		AlchemyAPIKey:         v.GetString("alchemy_api_key"),

		BaseFeePercentBp:            v.GetInt64("base_fee_percent_bp"),
		VerificationFeePerCPUSecond: v.GetString("verification_fee_per_cpu_second"),
		VerificationFeeMinimum:      v.GetString("verification_fee_minimum"),
		StorageFeePerKB:             v.GetString("storage_fee_per_kb"),
		StorageFeeMinimum:           v.GetString("storage_fee_minimum"),
		WithdrawalFlatFee:           v.GetString("withdrawal_flat_fee"),

		JobDefaultMaxRounds: v.GetInt("job_default_max_rounds"),

		DevDirectDepositEnabled: v.GetBool("dev_direct_deposit_enabled"),

		TreasuryAuditLogPath: v.GetString("treasury_audit_log_path"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SecretsDriver {
	case SecretsDriverEnv, SecretsDriverEncryptedFile:
	default:
		return fmt.Errorf("invalid secrets_driver: %s", c.SecretsDriver)
	}
	switch c.SandboxDriver {
	case SandboxDriverLocal, SandboxDriverManaged:
	default:
		return fmt.Errorf("invalid sandbox_driver: %s", c.SandboxDriver)
	}
	if c.SandboxDriver == SandboxDriverManaged && c.SandboxManagedBaseURL == "" {
		return fmt.Errorf("sandbox_managed_base_url is required when sandbox_driver=managed")
	}
	if c.JobDefaultMaxRounds < 1 || c.JobDefaultMaxRounds > 20 {
		return fmt.Errorf("job_default_max_rounds must be between 1 and 20")
	}
	return nil
}
