// Package config provides centralized configuration for the collector jobs.
// Configuration is loaded from an optional JSON file, overridden by
// environment variables, then validated before any job starts.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tde/go-alor-collector/internal/errs"
	"github.com/tde/go-alor-collector/internal/models"
)

// AppConfig is the complete application configuration.
type AppConfig struct {
	// API endpoints
	BaseURL string `json:"base_url" env:"BASE_URL"`
	AuthURL string `json:"auth_url" env:"OAUTH_URL"`
	WSURL   string `json:"ws_url" env:"WS_URL"`

	// Trading instrument
	Exchange string `json:"exchange" env:"EXCHANGE"`
	Symbol   string `json:"symbol" env:"SYMBOL"`

	// Credentials
	RefreshToken string `json:"refresh_token" env:"REFRESH_TOKEN"`

	// History crawl settings
	History HistoryConfig `json:"history"`

	// Live dump settings
	Dump DumpConfig `json:"dump"`

	// Volume histogram settings
	Volume VolumeConfig `json:"volume"`

	// Trading calendar settings
	Calendar CalendarConfig `json:"calendar"`

	// Logging settings
	Logging LoggingConfig `json:"logging"`
}

// HistoryConfig configures the windowed REST crawl.
type HistoryConfig struct {
	PageLimit int    `json:"page_limit" env:"PAGE_LIMIT"` // items per hourly request
	MaxPages  int    `json:"max_pages" env:"MAX_PAGES"`   // sanity cap, not consumed by the crawl itself
	RateLimit int    `json:"rate_limit" env:"RATE_LIMIT"` // requests per second against the REST API
	StartDate string `json:"start_date" env:"START_DATE"` // dd.mm.yyyy
	WorkDays  int    `json:"work_days" env:"WORK_DAYS"`   // number of working days to crawl
}

// DumpConfig configures the streaming dump job.
type DumpConfig struct {
	DataDir   string `json:"data_dir" env:"DATA_DIR"`     // directory for per-day data files
	FlushSize int    `json:"flush_size" env:"FLUSH_SIZE"` // buffer length that triggers a flush
	Depth     int    `json:"depth" env:"DEPTH"`           // order-book subscription depth
	Frequency int    `json:"frequency" env:"FREQUENCY"`   // order-book update frequency, ms
	Sessions  string `json:"sessions" env:"SESSIONS"`     // "HH:MM-HH:MM,HH:MM-HH:MM"
}

// VolumeConfig configures volume histogram bucketing. Per-symbol overrides
// come from RulesJSON, a map like {"SiU5": {"qty_interval": 10, "interval_count": 10}}.
type VolumeConfig struct {
	QtyInterval   int    `json:"qty_interval" env:"QTY_INTERVAL"`
	IntervalCount int    `json:"interval_count" env:"INTERVAL_COUNT"`
	RulesJSON     string `json:"rules_json" env:"VOLUME_RULES_JSON"`
}

// CalendarConfig configures exchange-local time handling.
type CalendarConfig struct {
	OffsetHours int `json:"offset_hours" env:"TZ_OFFSET_HOURS"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`             // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"`           // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"`           // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`     // log file path when output is "file"
	MaxSize    int    `json:"max_size" env:"LOG_MAX_SIZE"`       // MB per log file
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"` // rotated files kept
	MaxAge     int    `json:"max_age" env:"LOG_MAX_AGE"`         // days
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`
}

// DefaultConfig returns a configuration with sensible defaults. Endpoint
// URLs, instrument and credentials have no useful defaults and must come
// from the file or the environment.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		History: HistoryConfig{
			PageLimit: 5000,
			MaxPages:  200,
			RateLimit: 5,
			WorkDays:  5,
		},
		Dump: DumpConfig{
			DataDir:   "./data",
			FlushSize: 500,
			Depth:     20,
			Frequency: 100,
			Sessions:  "09:00-23:58",
		},
		Volume: VolumeConfig{
			QtyInterval:   0,
			IntervalCount: 10,
		},
		Calendar: CalendarConfig{
			OffsetHours: 3,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// Manager handles configuration loading and validation.
type Manager struct {
	configPath string
	logger     *slog.Logger
	config     *AppConfig
}

// NewManager creates a configuration manager. configPath may be empty, in
// which case only defaults and environment variables apply.
func NewManager(configPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{configPath: configPath, logger: logger}
}

// Load assembles the configuration with priority order: environment
// variables over the configuration file over defaults.
func (m *Manager) Load() (*AppConfig, error) {
	cfg := DefaultConfig()

	if m.configPath != "" {
		if err := m.loadFromFile(cfg); err != nil {
			return nil, errs.New(errs.KindConfig, "load file", err)
		}
	}

	m.loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.config = cfg
	m.logger.Info("configuration loaded",
		"config_path", m.configPath,
		"exchange", cfg.Exchange,
		"symbol", cfg.Symbol,
		"log_level", cfg.Logging.Level)

	return cfg, nil
}

// Get returns the last loaded configuration.
func (m *Manager) Get() *AppConfig {
	return m.config
}

func (m *Manager) loadFromFile(cfg *AppConfig) error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.logger.Debug("config file does not exist, using defaults", "path", m.configPath)
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", m.configPath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", m.configPath, err)
	}
	return nil
}

func (m *Manager) loadFromEnv(cfg *AppConfig) {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			*dst = val == "true"
		}
	}

	setString("BASE_URL", &cfg.BaseURL)
	setString("OAUTH_URL", &cfg.AuthURL)
	setString("WS_URL", &cfg.WSURL)
	setString("EXCHANGE", &cfg.Exchange)
	setString("SYMBOL", &cfg.Symbol)
	setString("REFRESH_TOKEN", &cfg.RefreshToken)

	setInt("PAGE_LIMIT", &cfg.History.PageLimit)
	setInt("MAX_PAGES", &cfg.History.MaxPages)
	setInt("RATE_LIMIT", &cfg.History.RateLimit)
	setString("START_DATE", &cfg.History.StartDate)
	setInt("WORK_DAYS", &cfg.History.WorkDays)

	setString("DATA_DIR", &cfg.Dump.DataDir)
	setInt("FLUSH_SIZE", &cfg.Dump.FlushSize)
	setInt("DEPTH", &cfg.Dump.Depth)
	setInt("FREQUENCY", &cfg.Dump.Frequency)
	setString("SESSIONS", &cfg.Dump.Sessions)

	setInt("QTY_INTERVAL", &cfg.Volume.QtyInterval)
	setInt("INTERVAL_COUNT", &cfg.Volume.IntervalCount)
	setString("VOLUME_RULES_JSON", &cfg.Volume.RulesJSON)

	setInt("TZ_OFFSET_HOURS", &cfg.Calendar.OffsetHours)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_OUTPUT", &cfg.Logging.Output)
	setString("LOG_FILE_PATH", &cfg.Logging.FilePath)
	setInt("LOG_MAX_SIZE", &cfg.Logging.MaxSize)
	setInt("LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	setInt("LOG_MAX_AGE", &cfg.Logging.MaxAge)
	setBool("LOG_COMPRESS", &cfg.Logging.Compress)
}

// Validate checks the configuration for consistency and required fields
// shared by both jobs. Job-specific requirements (start date, refresh token)
// are validated by the consuming job.
func (c *AppConfig) Validate() error {
	var problems []string

	if c.History.PageLimit <= 0 {
		problems = append(problems, "history.page_limit must be greater than 0")
	}
	if c.History.RateLimit <= 0 {
		problems = append(problems, "history.rate_limit must be greater than 0")
	}
	if c.History.WorkDays <= 0 {
		problems = append(problems, "history.work_days must be greater than 0")
	}
	if c.Dump.FlushSize <= 0 {
		problems = append(problems, "dump.flush_size must be greater than 0")
	}
	if c.Dump.DataDir == "" {
		problems = append(problems, "dump.data_dir is required")
	}
	if c.Volume.IntervalCount <= 0 {
		problems = append(problems, "volume.interval_count must be greater than 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		problems = append(problems, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		problems = append(problems, "logging.format must be one of: json, text")
	}

	if len(problems) > 0 {
		return errs.Newf(errs.KindConfig, "validate",
			"configuration validation errors:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// StartDate parses the configured dd.mm.yyyy start date as midnight in the
// given location.
func (c *AppConfig) StartDate(loc *time.Location) (time.Time, error) {
	if c.History.StartDate == "" {
		return time.Time{}, errs.Newf(errs.KindConfig, "start date", "START_DATE is not set")
	}
	t, err := time.ParseInLocation("02.01.2006", strings.TrimSpace(c.History.StartDate), loc)
	if err != nil {
		return time.Time{}, errs.Newf(errs.KindConfig, "start date",
			"invalid START_DATE %q (expected dd.mm.yyyy)", c.History.StartDate)
	}
	return t, nil
}

// SessionRanges parses the configured session list. Each entry is
// "HH:MM-HH:MM" exchange-local, entries separated by commas.
func (c *AppConfig) SessionRanges() ([]models.SessionRange, error) {
	raw := strings.TrimSpace(c.Dump.Sessions)
	if raw == "" {
		return nil, nil
	}

	var ranges []models.SessionRange
	for _, part := range strings.Split(raw, ",") {
		bounds := strings.SplitN(strings.TrimSpace(part), "-", 2)
		if len(bounds) != 2 {
			return nil, errs.Newf(errs.KindConfig, "sessions", "invalid session range %q", part)
		}
		start, err := parseMinuteOfDay(bounds[0])
		if err != nil {
			return nil, errs.New(errs.KindConfig, "sessions", err)
		}
		end, err := parseMinuteOfDay(bounds[1])
		if err != nil {
			return nil, errs.New(errs.KindConfig, "sessions", err)
		}
		r := models.SessionRange{StartMinute: start, EndMinute: end}
		if err := r.Validate(); err != nil {
			return nil, errs.New(errs.KindConfig, "sessions", err)
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// VolumeBinning returns the histogram settings for the given symbol.
// Per-symbol rules from VOLUME_RULES_JSON override the global defaults;
// a malformed rules document is ignored, matching lenient loading of
// optional overrides.
func (c *AppConfig) VolumeBinning(symbol string) (qtyInterval, intervalCount int) {
	qtyInterval = c.Volume.QtyInterval
	intervalCount = c.Volume.IntervalCount

	if c.Volume.RulesJSON == "" {
		return qtyInterval, intervalCount
	}

	var rules map[string]struct {
		QtyInterval   int `json:"qty_interval"`
		IntervalCount int `json:"interval_count"`
	}
	if err := json.Unmarshal([]byte(c.Volume.RulesJSON), &rules); err != nil {
		return qtyInterval, intervalCount
	}
	if r, ok := rules[symbol]; ok {
		if r.QtyInterval != 0 {
			qtyInterval = r.QtyInterval
		}
		if r.IntervalCount != 0 {
			intervalCount = r.IntervalCount
		}
	}
	return qtyInterval, intervalCount
}
