// Package config loads the bot settings from defaults, an optional TOML file and
// DREAF_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/scragly/dreaf/pkg/errutil"
	"github.com/scragly/dreaf/pkg/util"
)

const (
	// TokenEnv holds the Discord bot token.
	TokenEnv = "DREAF_BOT_TOKEN"
	// FileEnv points at an explicit TOML file.
	FileEnv = "DREAF_CONFIG"
)

// Duration is a time.Duration that decodes from TOML strings such as "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Discord DiscordConfig `toml:"discord"`
	Storage StorageConfig `toml:"storage"`
	Vendor  VendorConfig  `toml:"vendor"`
	Redeem  RedeemConfig  `toml:"redeem"`
	Log     LogConfig     `toml:"log"`
}

type DiscordConfig struct {
	Token             string   `toml:"token"`
	GuildID           string   `toml:"guild_id"`
	CodeChannelID     string   `toml:"code_channel_id"`
	CodeFeedChannelID string   `toml:"code_feed_channel_id"`
	CodeLogsChannelID string   `toml:"code_logs_channel_id"`
	DeputyRoleIDs     []string `toml:"deputy_role_ids"`
}

type StorageConfig struct {
	DBPath      string `toml:"db_path"`
	SessionsDir string `toml:"sessions_dir"`
}

type VendorConfig struct {
	BaseURL           string   `toml:"base_url"`
	Game              string   `toml:"game"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	Timeout           Duration `toml:"timeout"`
}

type RedeemConfig struct {
	// ReplyWindow bounds the wait for a verification code reply.
	ReplyWindow         Duration `toml:"reply_window"`
	MaxRetries          int      `toml:"max_retries"`
	CredentialRetention Duration `toml:"credential_retention"`
	MaxConcurrency      int      `toml:"max_concurrency"`
	// BoardRefresh and CredentialSweep pace the periodic jobs; 0 disables one.
	BoardRefresh    Duration `toml:"board_refresh"`
	CredentialSweep Duration `toml:"credential_sweep"`
}

type LogConfig struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the built-in settings. The token is left empty.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:      util.DefaultDBPath(),
			SessionsDir: util.DefaultSessionsDir(),
		},
		Vendor: VendorConfig{
			BaseURL:           "https://cdkey.lilith.com",
			Game:              "afk",
			RequestsPerSecond: 5,
			Burst:             10,
			Timeout:           Duration{15 * time.Second},
		},
		Redeem: RedeemConfig{
			ReplyWindow:         Duration{600 * time.Second},
			MaxRetries:          3,
			CredentialRetention: Duration{14 * 24 * time.Hour},
			MaxConcurrency:      16,
			BoardRefresh:        Duration{time.Hour},
			CredentialSweep:     Duration{6 * time.Hour},
		},
		Log: LogConfig{
			Dir:        util.LogDir(),
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration. An empty path falls back to DREAF_CONFIG and then to
// the default config file; only an explicitly named file is required to exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env files are applied first so they can provide DREAF_CONFIG too.
	_, _ = util.LoadEnvWithLocalBinFallback(TokenEnv)

	explicit := true
	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path == "" {
		path = util.DefaultConfigFile()
		explicit = false
	}

	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return errutil.HandleConfigError("read", path, func() error { return err })
	}
	return errutil.HandleConfigError("decode", path, func() error {
		return toml.Unmarshal(data, c)
	})
}

func (c *Config) applyEnv() {
	c.Discord.Token = util.EnvString(TokenEnv, c.Discord.Token)
	c.Discord.GuildID = util.EnvString("DREAF_GUILD_ID", c.Discord.GuildID)
	c.Discord.CodeChannelID = util.EnvString("DREAF_CODE_CHANNEL_ID", c.Discord.CodeChannelID)
	c.Discord.CodeFeedChannelID = util.EnvString("DREAF_CODE_FEED_CHANNEL_ID", c.Discord.CodeFeedChannelID)
	c.Discord.CodeLogsChannelID = util.EnvString("DREAF_CODE_LOGS_CHANNEL_ID", c.Discord.CodeLogsChannelID)
	if roles := util.EnvList("DREAF_DEPUTY_ROLE_IDS"); roles != nil {
		c.Discord.DeputyRoleIDs = roles
	}

	c.Storage.DBPath = util.EnvString("DREAF_DB_PATH", c.Storage.DBPath)
	c.Storage.SessionsDir = util.EnvString("DREAF_SESSIONS_DIR", c.Storage.SessionsDir)

	c.Vendor.BaseURL = util.EnvString("DREAF_VENDOR_URL", c.Vendor.BaseURL)
	c.Vendor.Game = util.EnvString("DREAF_GAME", c.Vendor.Game)
	c.Vendor.RequestsPerSecond = util.EnvFloat("DREAF_VENDOR_RPS", c.Vendor.RequestsPerSecond)
	c.Vendor.Burst = int(util.EnvInt64("DREAF_VENDOR_BURST", int64(c.Vendor.Burst)))
	c.Vendor.Timeout.Duration = util.EnvDuration("DREAF_VENDOR_TIMEOUT", c.Vendor.Timeout.Duration)

	c.Redeem.ReplyWindow.Duration = util.EnvDuration("DREAF_REPLY_WINDOW", c.Redeem.ReplyWindow.Duration)
	c.Redeem.MaxRetries = int(util.EnvInt64("DREAF_VERIFY_MAX_RETRIES", int64(c.Redeem.MaxRetries)))
	c.Redeem.CredentialRetention.Duration = util.EnvDuration("DREAF_CREDENTIAL_RETENTION", c.Redeem.CredentialRetention.Duration)
	c.Redeem.MaxConcurrency = int(util.EnvInt64("DREAF_REDEEM_CONCURRENCY", int64(c.Redeem.MaxConcurrency)))
	c.Redeem.BoardRefresh.Duration = util.EnvDuration("DREAF_BOARD_REFRESH", c.Redeem.BoardRefresh.Duration)
	c.Redeem.CredentialSweep.Duration = util.EnvDuration("DREAF_CREDENTIAL_SWEEP", c.Redeem.CredentialSweep.Duration)

	c.Log.Dir = util.EnvString("DREAF_LOG_DIR", c.Log.Dir)
	c.Log.Level = util.EnvString("DREAF_LOG_LEVEL", c.Log.Level)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, fmt.Errorf("discord token is required (%s)", TokenEnv))
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		errs = append(errs, errors.New("storage.db_path is empty"))
	}
	if strings.TrimSpace(c.Storage.SessionsDir) == "" {
		errs = append(errs, errors.New("storage.sessions_dir is empty"))
	}
	if u, err := url.Parse(c.Vendor.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("vendor.base_url %q is not an absolute URL", c.Vendor.BaseURL))
	}
	if strings.TrimSpace(c.Vendor.Game) == "" {
		errs = append(errs, errors.New("vendor.game is empty"))
	}
	if c.Vendor.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("vendor.requests_per_second must be > 0"))
	}
	if c.Vendor.Burst < 1 {
		errs = append(errs, errors.New("vendor.burst must be >= 1"))
	}
	if c.Vendor.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("vendor.timeout must be > 0"))
	}
	if c.Redeem.ReplyWindow.Duration <= 0 {
		errs = append(errs, errors.New("redeem.reply_window must be > 0"))
	}
	if c.Redeem.MaxRetries < 1 {
		errs = append(errs, errors.New("redeem.max_retries must be >= 1"))
	}
	if c.Redeem.CredentialRetention.Duration <= 0 {
		errs = append(errs, errors.New("redeem.credential_retention must be > 0"))
	}
	if c.Redeem.MaxConcurrency < 1 {
		errs = append(errs, errors.New("redeem.max_concurrency must be >= 1"))
	}
	if c.Redeem.BoardRefresh.Duration < 0 || c.Redeem.CredentialSweep.Duration < 0 {
		errs = append(errs, errors.New("redeem.board_refresh and redeem.credential_sweep must not be negative"))
	}
	return errors.Join(errs...)
}

// IsDeputyRole reports whether roleID is one of the configured deputy roles.
func (c *Config) IsDeputyRole(roleID string) bool {
	for _, id := range c.Discord.DeputyRoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
