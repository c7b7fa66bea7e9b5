package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ehr/clinicdata/internal/platform/realtime"
	"github.com/ehr/clinicdata/internal/platform/store"
)

type Config struct {
	Port                     string   `mapstructure:"PORT"`
	Env                      string   `mapstructure:"ENV"`
	LogLevel                 string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL              string   `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32    `mapstructure:"DB_MIN_CONNS"`
	DBQueryLogLevel          string   `mapstructure:"DB_QUERY_LOG_LEVEL"`
	CORSOrigins              []string `mapstructure:"CORS_ORIGINS"`
	ExposedTables            []string `mapstructure:"EXPOSED_TABLES"`
	RealtimeMode             string   `mapstructure:"REALTIME_MODE"`
	RealtimeSubscribeOnFetch bool     `mapstructure:"REALTIME_SUBSCRIBE_ON_FETCH"`
	MigrationsSchema         string   `mapstructure:"MIGRATIONS_SCHEMA"`
	BodyLimit                string   `mapstructure:"BODY_LIMIT"`
}

var defaultTables = []string{
	"treatment_plans",
	"treatment_procedures",
	"procedure_templates",
	"user_settings",
}

// Load reads configuration from the environment, falling back to a .env
// file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_QUERY_LOG_LEVEL", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("EXPOSED_TABLES", strings.Join(defaultTables, ","))
	v.SetDefault("REALTIME_MODE", string(realtime.ModeShared))
	v.SetDefault("REALTIME_SUBSCRIBE_ON_FETCH", true)
	v.SetDefault("MIGRATIONS_SCHEMA", "public")
	v.SetDefault("BODY_LIMIT", "1M")

	// Unmarshal only sees keys viper knows about.
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"DB_QUERY_LOG_LEVEL", "CORS_ORIGINS", "EXPOSED_TABLES", "REALTIME_MODE",
		"REALTIME_SUBSCRIBE_ON_FETCH", "MIGRATIONS_SCHEMA", "BODY_LIMIT",
	} {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.ExposedTables = splitList(v.GetString("EXPOSED_TABLES"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Level parses LOG_LEVEL, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks values Load cannot: realtime mode, table names and pool
// sizing.
func (c *Config) Validate() error {
	if _, err := realtime.ParseMode(c.RealtimeMode); err != nil {
		return fmt.Errorf("REALTIME_MODE: %w", err)
	}
	for _, t := range c.ExposedTables {
		if !store.ValidIdentifier(t) {
			return fmt.Errorf("EXPOSED_TABLES: invalid table name %q", t)
		}
	}
	if !store.ValidIdentifier(c.MigrationsSchema) {
		return fmt.Errorf("MIGRATIONS_SCHEMA: invalid schema name %q", c.MigrationsSchema)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max >= 1",
			c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
