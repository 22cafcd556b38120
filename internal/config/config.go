// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration errors. All of them are fatal at startup.
var (
	ErrUnknownBackend    = errors.New("unknown storage backend")
	ErrUnknownTransport  = errors.New("unknown bot transport")
	ErrMissingVocabulary = errors.New("missing vocabulary configuration")
	ErrInvalidPolicy     = errors.New("invalid policy value")
)

// Storage backend names.
const (
	BackendInMemory   = "inmemory"
	BackendRedis      = "redis"
	BackendAzureTable = "azuretable"
	BackendPostgres   = "postgres"
	BackendSQLite     = "sqlite"
)

// Transport names.
const (
	TransportTelegram = "telegram"
	TransportDiscord  = "discord"
)

// Policy values for self-give and negative points.
const (
	PolicyAllow    = "allow"
	PolicyDisallow = "disallow"
)

// Config holds all application configuration.
type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Points     PointsConfig     `mapstructure:"points"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Redis      RedisConfig      `mapstructure:"redis"`
	AzureTable AzureTableConfig `mapstructure:"azure_table"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Whitelist  WhitelistConfig  `mapstructure:"whitelist"`
	Handler    HandlerConfig    `mapstructure:"handler"`
	Log        LogConfig        `mapstructure:"log"`
}

// BotConfig holds chat transport configuration.
type BotConfig struct {
	Transport string `mapstructure:"transport"`
	Token     string `mapstructure:"token"`
	// ID is the bot's own user ID; the mention token is derived from it.
	ID string `mapstructure:"id"`
	// Username is the bot's @handle on transports that mention by name.
	Username string `mapstructure:"username"`
}

// PointsConfig holds the command vocabulary and game rules.
// It is fixed at process start.
type PointsConfig struct {
	Word                string `mapstructure:"word"`
	Emoji               string `mapstructure:"emoji"`
	NegativeWord        string `mapstructure:"negative_word"`
	NegativeEmoji       string `mapstructure:"negative_emoji"`
	DailyCapPositive    int64  `mapstructure:"daily_cap_positive"`
	DailyCapNegative    int64  `mapstructure:"daily_cap_negative"`
	SelfGive            string `mapstructure:"self_give"`
	NegativePoints      string `mapstructure:"negative_points"`
	GiveAllWord         string `mapstructure:"give_all_word"`
	NegativeGiveAllWord string `mapstructure:"negative_give_all_word"`
	LeaderboardWord     string `mapstructure:"leaderboard_word"`
	FullLeaderboardWord string `mapstructure:"full_leaderboard_word"`
	PreferenceWord      string `mapstructure:"preference_word"`
}

// SelfGiveAllowed reports whether users may give points to themselves.
func (p *PointsConfig) SelfGiveAllowed() bool {
	return p.SelfGive == PolicyAllow
}

// NegativeAllowed reports whether negative points are enabled.
func (p *PointsConfig) NegativeAllowed() bool {
	return p.NegativePoints == PolicyAllow
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds the key-value backend connection.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AzureTableConfig holds the wide-column table backend connection.
type AzureTableConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	TableName        string `mapstructure:"table_name"`
}

// HTTPConfig holds the read-only HTTP API configuration.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []string `mapstructure:"chats"`
}

// HandlerConfig bounds per-message work.
type HandlerConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., BOT_TOKEN, STORAGE_BACKEND, POINTS_DAILY_CAP_POSITIVE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so AutomaticEnv can fill them
	v.SetDefault("bot.transport", TransportTelegram)
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.id", "")
	v.SetDefault("bot.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("azure_table.connection_string", "")

	// Vocabulary and rules
	v.SetDefault("points.word", "shots")
	v.SetDefault("points.emoji", ":fireball:")
	v.SetDefault("points.negative_word", "penalties")
	v.SetDefault("points.negative_emoji", ":ice_cube:")
	v.SetDefault("points.daily_cap_positive", 5)
	v.SetDefault("points.daily_cap_negative", 3)
	v.SetDefault("points.self_give", PolicyDisallow)
	v.SetDefault("points.negative_points", PolicyAllow)
	v.SetDefault("points.give_all_word", "all")
	v.SetDefault("points.negative_give_all_word", "negall")
	v.SetDefault("points.leaderboard_word", "leaderboard")
	v.SetDefault("points.full_leaderboard_word", "fullboard")
	v.SetDefault("points.preference_word", "pm")

	v.SetDefault("storage.backend", BackendInMemory)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fireball")
	v.SetDefault("database.name", "fireball")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("sqlite.path", "fireball.db")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "fireball")
	v.SetDefault("azure_table.table_name", "fireball")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("handler.timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

func (c *Config) normalize() {
	c.Bot.Transport = strings.ToLower(strings.TrimSpace(c.Bot.Transport))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Points.SelfGive = strings.ToLower(strings.TrimSpace(c.Points.SelfGive))
	c.Points.NegativePoints = strings.ToLower(strings.TrimSpace(c.Points.NegativePoints))
}

// Validate checks the configuration for errors that must stop the process.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendInMemory, BackendRedis, BackendAzureTable, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}

	switch c.Bot.Transport {
	case TransportTelegram, TransportDiscord:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Bot.Transport)
	}

	for _, p := range []struct{ key, val string }{
		{"points.self_give", c.Points.SelfGive},
		{"points.negative_points", c.Points.NegativePoints},
	} {
		if p.val != PolicyAllow && p.val != PolicyDisallow {
			return fmt.Errorf("%w: %s=%q", ErrInvalidPolicy, p.key, p.val)
		}
	}

	required := map[string]string{
		"points.word":                  c.Points.Word,
		"points.emoji":                 c.Points.Emoji,
		"points.give_all_word":         c.Points.GiveAllWord,
		"points.leaderboard_word":      c.Points.LeaderboardWord,
		"points.full_leaderboard_word": c.Points.FullLeaderboardWord,
		"points.preference_word":       c.Points.PreferenceWord,
	}
	if c.Points.NegativeAllowed() {
		required["points.negative_word"] = c.Points.NegativeWord
		required["points.negative_emoji"] = c.Points.NegativeEmoji
		required["points.negative_give_all_word"] = c.Points.NegativeGiveAllWord
	}
	keys := make([]string, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if strings.TrimSpace(required[k]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingVocabulary, k)
		}
	}

	if c.Points.DailyCapPositive <= 0 || c.Points.DailyCapNegative <= 0 {
		return fmt.Errorf("%w: daily caps must be positive", ErrMissingVocabulary)
	}

	return nil
}

// BotMention returns the token that addresses the bot, e.g. "<@U0BOT>".
func (c *Config) BotMention() string {
	return "<@" + c.Bot.ID + ">"
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID string) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	return slices.Contains(c.Whitelist.Chats, chatID)
}
