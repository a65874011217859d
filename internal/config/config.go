package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration derived from environment variables.
// Token amounts are parsed from human values ("0.05") into base units.
type Config struct {
	HTTPPort string

	TokenSymbol   string
	TokenDecimals int32

	DripAmount          domain.Amount
	RecipientCap        domain.Amount
	GlobalBudget        domain.Amount
	MaxRecipientBalance domain.Amount

	Cooldown           time.Duration
	ResetInterval      time.Duration
	ConfirmTimeout     time.Duration
	FundingBackoff     time.Duration
	FundingWaitCeiling time.Duration
	SubmitAttempts     int

	FundingIDs  []string
	SeedBalance domain.Amount // initial mock-node balance per funding identity

	NATSURL     string
	NATSSubject string

	JWTSecret          string
	PublicRateLimitRPS int
	LogLevel           string
}

// Load reads environment variables using viper and returns a typed config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	bindEnv(v, "port", "PORT", "FAUCET_PORT")
	bindEnv(v, "token_symbol", "TOKEN_SYMBOL", "FAUCET_TOKEN_SYMBOL")
	bindEnv(v, "token_decimals", "TOKEN_DECIMALS", "FAUCET_TOKEN_DECIMALS")
	bindEnv(v, "drip_amount", "DRIP_AMOUNT", "FAUCET_DRIP_AMOUNT")
	bindEnv(v, "recipient_cap", "RECIPIENT_CAP", "FAUCET_RECIPIENT_CAP")
	bindEnv(v, "global_budget", "GLOBAL_BUDGET", "FAUCET_GLOBAL_BUDGET")
	bindEnv(v, "max_recipient_balance", "MAX_RECIPIENT_BALANCE", "FAUCET_MAX_RECIPIENT_BALANCE")
	bindEnv(v, "cooldown", "COOLDOWN", "FAUCET_COOLDOWN")
	bindEnv(v, "reset_interval", "RESET_INTERVAL", "FAUCET_RESET_INTERVAL")
	bindEnv(v, "confirm_timeout", "CONFIRM_TIMEOUT", "FAUCET_CONFIRM_TIMEOUT")
	bindEnv(v, "funding_backoff", "FUNDING_BACKOFF", "FAUCET_FUNDING_BACKOFF")
	bindEnv(v, "funding_wait_ceiling", "FUNDING_WAIT_CEILING", "FAUCET_FUNDING_WAIT_CEILING")
	bindEnv(v, "submit_attempts", "SUBMIT_ATTEMPTS", "FAUCET_SUBMIT_ATTEMPTS")
	bindEnv(v, "funding_ids", "FUNDING_IDS", "FAUCET_FUNDING_IDS")
	bindEnv(v, "seed_balance", "SEED_BALANCE", "FAUCET_SEED_BALANCE")
	bindEnv(v, "nats_url", "NATS_URL", "FAUCET_NATS_URL")
	bindEnv(v, "nats_subject", "NATS_SUBJECT", "FAUCET_NATS_SUBJECT")
	bindEnv(v, "jwt_secret", "JWT_SECRET", "FAUCET_JWT_SECRET")
	bindEnv(v, "public_rate_limit_rps", "PUBLIC_RATE_LIMIT_RPS", "FAUCET_PUBLIC_RATE_LIMIT_RPS")
	bindEnv(v, "log_level", "LOG_LEVEL", "FAUCET_LOG_LEVEL")

	v.SetDefault("port", "8080")
	v.SetDefault("token_symbol", "MON")
	v.SetDefault("token_decimals", 18)
	v.SetDefault("drip_amount", "0.05")
	v.SetDefault("recipient_cap", "300")
	v.SetDefault("global_budget", "300")
	v.SetDefault("max_recipient_balance", "10")
	v.SetDefault("cooldown", "12h")
	v.SetDefault("reset_interval", "12h")
	v.SetDefault("confirm_timeout", "60s")
	v.SetDefault("funding_backoff", "5s")
	v.SetDefault("funding_wait_ceiling", "60s")
	v.SetDefault("submit_attempts", 3)
	v.SetDefault("funding_ids", "")
	v.SetDefault("seed_balance", "100")
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "faucet.transfers")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("public_rate_limit_rps", 10)
	v.SetDefault("log_level", "info")

	decimals := int32(v.GetInt("token_decimals"))
	if decimals <= 0 || decimals > 30 {
		return nil, fmt.Errorf("TOKEN_DECIMALS must be between 1 and 30, got %d", decimals)
	}

	cfg := &Config{
		HTTPPort:           v.GetString("port"),
		TokenSymbol:        v.GetString("token_symbol"),
		TokenDecimals:      decimals,
		NATSURL:            v.GetString("nats_url"),
		NATSSubject:        v.GetString("nats_subject"),
		JWTSecret:          v.GetString("jwt_secret"),
		PublicRateLimitRPS: max(v.GetInt("public_rate_limit_rps"), 1),
		LogLevel:           v.GetString("log_level"),
	}

	var err error
	for _, field := range []struct {
		dst *domain.Amount
		key string
		env string
	}{
		{&cfg.DripAmount, "drip_amount", "DRIP_AMOUNT"},
		{&cfg.RecipientCap, "recipient_cap", "RECIPIENT_CAP"},
		{&cfg.GlobalBudget, "global_budget", "GLOBAL_BUDGET"},
		{&cfg.MaxRecipientBalance, "max_recipient_balance", "MAX_RECIPIENT_BALANCE"},
		{&cfg.SeedBalance, "seed_balance", "SEED_BALANCE"},
	} {
		*field.dst, err = domain.ParseTokens(v.GetString(field.key), decimals)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", field.env, err)
		}
	}

	for _, field := range []struct {
		dst *time.Duration
		key string
		env string
	}{
		{&cfg.Cooldown, "cooldown", "COOLDOWN"},
		{&cfg.ResetInterval, "reset_interval", "RESET_INTERVAL"},
		{&cfg.ConfirmTimeout, "confirm_timeout", "CONFIRM_TIMEOUT"},
		{&cfg.FundingBackoff, "funding_backoff", "FUNDING_BACKOFF"},
		{&cfg.FundingWaitCeiling, "funding_wait_ceiling", "FUNDING_WAIT_CEILING"},
	} {
		*field.dst, err = time.ParseDuration(v.GetString(field.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", field.env, err)
		}
	}

	cfg.SubmitAttempts = v.GetInt("submit_attempts")
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = 3
	}

	for _, id := range strings.Split(v.GetString("funding_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.FundingIDs = append(cfg.FundingIDs, id)
		}
	}
	if len(cfg.FundingIDs) == 0 {
		return nil, fmt.Errorf("FUNDING_IDS is required (comma-separated funding identity addresses)")
	}

	if !cfg.DripAmount.IsPositive() {
		return nil, fmt.Errorf("DRIP_AMOUNT must be positive")
	}
	if cfg.GlobalBudget.Cmp(cfg.DripAmount) < 0 {
		return nil, fmt.Errorf("GLOBAL_BUDGET must cover at least one drip")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	return cfg, nil
}

func bindEnv(v *viper.Viper, key string, names ...string) {
	args := append([]string{key}, names...)
	_ = v.BindEnv(args...)
}
