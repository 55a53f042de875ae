// Package config provides YAML-based configuration loading for Ticketbooth.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvDiscordToken  = "TICKETBOOTH_DISCORD_TOKEN"
	EnvSlackToken    = "TICKETBOOTH_SLACK_TOKEN"
	EnvMySQLPassword = "TICKETBOOTH_MYSQL_PASSWORD"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the top-level Ticketbooth configuration, loaded from ticketbooth.yaml.
type Config struct {
	Discord       DiscordConfig    `yaml:"discord"`
	Transcripts   TranscriptConfig `yaml:"transcripts"`
	Store         StoreConfig      `yaml:"store"`
	CloseDelaySec int              `yaml:"close_delay_sec"`
	Sweep         SweepConfig      `yaml:"sweep"`
	Dashboard     DashboardConfig  `yaml:"dashboard"`
	Slack         SlackConfig      `yaml:"slack"`
	Log           LogConfig        `yaml:"log"`
}

// DiscordConfig identifies the bot and the guild objects the ticket flow uses.
type DiscordConfig struct {
	Token            string `yaml:"token"`
	GuildID          string `yaml:"guild_id"`
	TicketCategoryID string `yaml:"ticket_category_id"`
	SupportRoleID    string `yaml:"support_role_id"`
	LogChannelID     string `yaml:"log_channel_id"`
}

// TranscriptConfig controls transcript export and on-disk archival.
type TranscriptConfig struct {
	Save         bool   `yaml:"save"`
	Dir          string `yaml:"dir"`
	Timezone     string `yaml:"timezone"`
	MessageLimit int    `yaml:"message_limit"`
}

// StoreConfig selects where ticket bookkeeping is persisted.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig holds connection settings for the mysql store driver.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// SweepConfig schedules the stale-ticket sweep. An empty schedule disables it.
type SweepConfig struct {
	Schedule string `yaml:"schedule"`
}

// DashboardConfig enables the read-only HTTP API when Port is non-zero.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// SlackConfig enables mirroring log notices to a Slack channel.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Load reads a YAML config file from path, applies environment overrides
// (including a .env file in the working directory, if present) and returns a
// validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config. Environment overrides
// are not applied.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) string { return "" })
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDiscordToken); v != "" {
		c.Discord.Token = v
	}
	if v := getenv(EnvSlackToken); v != "" {
		c.Slack.BotToken = v
	}
	if v := getenv(EnvMySQLPassword); v != "" {
		c.Store.MySQL.Password = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Transcripts.Dir == "" {
		c.Transcripts.Dir = "./transcripts"
	}
	if c.Transcripts.Timezone == "" {
		c.Transcripts.Timezone = "Europe/London"
	}
	if c.Transcripts.MessageLimit == 0 {
		c.Transcripts.MessageLimit = 500
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverFile
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case DriverFile:
			c.Store.Path = "tickets.json"
		case DriverSQLite:
			c.Store.Path = "tickets.db"
		}
	}
	if c.Store.Driver == DriverMySQL {
		if c.Store.MySQL.Host == "" {
			c.Store.MySQL.Host = "127.0.0.1"
		}
		if c.Store.MySQL.Port == 0 {
			c.Store.MySQL.Port = 3306
		}
		if c.Store.MySQL.User == "" {
			c.Store.MySQL.User = "root"
		}
		if c.Store.MySQL.Database == "" {
			c.Store.MySQL.Database = "ticketbooth"
		}
	}
	if c.CloseDelaySec == 0 {
		c.CloseDelaySec = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "console"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Discord.Token == "" {
		errs = append(errs, "discord.token is required (or set "+EnvDiscordToken+")")
	}
	if c.Discord.GuildID == "" {
		errs = append(errs, "discord.guild_id is required")
	}
	if c.Discord.TicketCategoryID == "" {
		errs = append(errs, "discord.ticket_category_id is required")
	}
	if c.Discord.SupportRoleID == "" {
		errs = append(errs, "discord.support_role_id is required")
	}
	if c.Discord.LogChannelID == "" {
		errs = append(errs, "discord.log_channel_id is required")
	}
	if _, err := time.LoadLocation(c.Transcripts.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("transcripts.timezone %q: %v", c.Transcripts.Timezone, err))
	}
	if c.Transcripts.MessageLimit < 0 {
		errs = append(errs, "transcripts.message_limit must not be negative")
	}
	switch c.Store.Driver {
	case DriverFile, DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of file, sqlite, mysql", c.Store.Driver))
	}
	if c.CloseDelaySec < 0 {
		errs = append(errs, "close_delay_sec must not be negative")
	}
	if c.Sweep.Schedule != "" {
		if _, err := ParseSchedule(c.Sweep.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("sweep.schedule %q: %v", c.Sweep.Schedule, err))
		}
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if (c.Slack.BotToken == "") != (c.Slack.Channel == "") {
		errs = append(errs, "slack.bot_token and slack.channel must be set together")
	}
	switch c.Log.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.encoding %q is not one of console, json", c.Log.Encoding))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CloseDelay returns the pause between acknowledging a close and deleting the channel.
func (c *Config) CloseDelay() time.Duration {
	return time.Duration(c.CloseDelaySec) * time.Second
}

// Location returns the transcript timezone. validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Transcripts.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
