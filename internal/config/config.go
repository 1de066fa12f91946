package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	GenAIAPIKey    string   `mapstructure:"GENAI_API_KEY"`
	GenAIModel     string   `mapstructure:"GENAI_MODEL"`
	AIMaxTokens    int      `mapstructure:"AI_REVIEW_MAX_TOKENS"`
	AITemperature  float64  `mapstructure:"AI_REVIEW_TEMPERATURE"`
	MessageTTLDays int      `mapstructure:"MESSAGE_TTL_DAYS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("GENAI_MODEL", "gemini-2.0-flash")
	v.SetDefault("AI_REVIEW_MAX_TOKENS", 1024)
	v.SetDefault("AI_REVIEW_TEMPERATURE", 0.2)
	v.SetDefault("MESSAGE_TTL_DAYS", 30)
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("GENAI_API_KEY")
	v.BindEnv("GENAI_MODEL")
	v.BindEnv("AI_REVIEW_MAX_TOKENS")
	v.BindEnv("AI_REVIEW_TEMPERATURE")
	v.BindEnv("MESSAGE_TTL_DAYS")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Model-assisted review
// is optional: without GENAI_API_KEY the endpoint reports the collaborator as
// unconfigured instead of failing at startup, except in production where the
// key is required.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" && c.Env != "test" {
		return fmt.Errorf("ENV must be \"development\", \"production\", or \"test\", got %q", c.Env)
	}
	if c.IsProduction() && c.GenAIAPIKey == "" {
		return fmt.Errorf("GENAI_API_KEY is required in production")
	}
	if c.AIMaxTokens <= 0 {
		return fmt.Errorf("AI_REVIEW_MAX_TOKENS must be positive, got %d", c.AIMaxTokens)
	}
	if c.AITemperature < 0 || c.AITemperature > 2 {
		return fmt.Errorf("AI_REVIEW_TEMPERATURE must be in [0, 2], got %v", c.AITemperature)
	}
	if c.MessageTTLDays <= 0 {
		return fmt.Errorf("MESSAGE_TTL_DAYS must be positive, got %d", c.MessageTTLDays)
	}
	return nil
}
