// Package config loads service configuration from defaults, an optional
// config file, and CUSTODY_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/erazemk/custody/internal/db"
	"github.com/erazemk/custody/internal/transfer"
)

// EnvPrefix prefixes every environment variable, e.g. CUSTODY_DB_PATH.
const EnvPrefix = "CUSTODY"

// Config is the full service configuration.
type Config struct {
	Addr     string          `mapstructure:"addr"`
	DB       DBConfig        `mapstructure:"db"`
	Log      LogConfig       `mapstructure:"log"`
	Admin    AdminConfig     `mapstructure:"admin"`
	NodeID   int64           `mapstructure:"node_id"`
	Locale   string          `mapstructure:"locale"`
	TokenTTL time.Duration   `mapstructure:"token_ttl"`
	Policy   transfer.Policy `mapstructure:"policy"`
}

type DBConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

type AdminConfig struct {
	Username string `mapstructure:"username"`
}

// Load reads configuration. If file is empty, custody.{toml,yaml,json} is
// looked up in the working directory and /etc/custody; a missing file is
// not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("custody")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/custody")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Policy.Locale = cfg.Locale

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	policy := transfer.DefaultPolicy()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db.path", "custody.sqlite3")
	v.SetDefault("db.busy_timeout", db.DefaultBusyTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("node_id", 1)
	v.SetDefault("locale", policy.Locale)
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("policy.global_roles", policy.GlobalRoles)
	v.SetDefault("policy.center_roles", policy.CenterRoles)
	v.SetDefault("policy.low_stock_threshold", policy.LowStockThreshold)

	rules := make([]map[string]any, 0, len(policy.Rules))
	for _, r := range policy.Rules {
		rule := map[string]any{
			"name":       r.Name,
			"from":       string(r.From),
			"to":         string(r.To),
			"constraint": string(r.Constraint),
		}
		if len(r.Types) > 0 {
			types := make([]string, 0, len(r.Types))
			for _, t := range r.Types {
				types = append(types, string(t))
			}
			rule["types"] = types
		}
		rules = append(rules, rule)
	}
	v.SetDefault("policy.rules", rules)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.DB.Path == "" {
		return errors.New("db.path must not be empty")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node_id must be between 0 and 1023, got %d", c.NodeID)
	}
	if c.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}
