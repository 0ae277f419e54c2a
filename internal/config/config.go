package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"NewsDigest/internal/domain"
)

const (
	defaultTimezone = "UTC"
	defaultCron     = "0 8 * * *"
	defaultFrom     = "onboarding@resend.dev"
	defaultTimeout  = 8 * time.Second

	configPathEnv      = "NEWS_DIGEST_CONFIG"
	cronEnv            = "DAILY_EMAIL_CRON"
	timezoneEnv        = "TIMEZONE"
	emailFromEnv       = "EMAIL_FROM"
	providerEnv        = "DELIVERY_PROVIDER"
	resendAPIKeyEnv    = "RESEND_API_KEY"
	newsAPIKeyEnv      = "NEWS_API_KEY"
	databaseDriverEnv  = "DATABASE_DRIVER"
	databaseDSNEnv     = "DATABASE_DSN"
	smtpHostEnv        = "SMTP_HOST"
	smtpPortEnv        = "SMTP_PORT"
	smtpSecureEnv      = "SMTP_SECURE"
	smtpUserEnv        = "SMTP_USER"
	smtpPassEnv        = "SMTP_PASS"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	httpAddrEnv        = "HTTP_ADDR"
	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	dispatchWorkersEnv = "DISPATCH_WORKERS"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Content       ContentConfig      `yaml:"content"`
	Delivery      DeliveryConfig     `yaml:"delivery"`
	Dispatch      DispatchConfig     `yaml:"dispatch"`
	Notifications NotificationConfig `yaml:"notifications"`
	HTTP          HTTPConfig         `yaml:"http"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig points at the recipient directory.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when digest runs fire.
type SchedulerConfig struct {
	Timezone  string           `yaml:"timezone"`
	Schedules []ScheduleConfig `yaml:"schedules"`
	location  *time.Location   `yaml:"-"`
}

// ScheduleConfig binds a cron expression to a digest cadence.
type ScheduleConfig struct {
	Name    string `yaml:"name"`
	Cron    string `yaml:"cron"`
	Cadence string `yaml:"cadence"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ContentConfig groups settings for content sources.
type ContentConfig struct {
	MaxItems int            `yaml:"maxItems"`
	Language string         `yaml:"language"`
	Timeout  time.Duration  `yaml:"timeout"`
	Sources  []SourceConfig `yaml:"sources"`
}

// SourceConfig describes a single upstream with its strategy.
type SourceConfig struct {
	Name     string            `yaml:"name"`
	Strategy string            `yaml:"strategy"`
	URL      string            `yaml:"url"`
	APIKey   string            `yaml:"apiKey"`
	Options  map[string]string `yaml:"options"`
}

// DeliveryConfig selects and tunes the outbound mail provider.
type DeliveryConfig struct {
	Provider      string        `yaml:"provider"`
	From          string        `yaml:"from"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	Burst         int           `yaml:"burst"`
	Resend        ResendConfig  `yaml:"resend"`
	SMTP          SMTPConfig    `yaml:"smtp"`
}

// ResendConfig wires the Resend HTTP API.
type ResendConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// SMTPConfig wires a plain SMTP relay.
type SMTPConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secure bool   `yaml:"secure"`
	User   string `yaml:"user"`
	Pass   string `yaml:"pass"`
}

// DispatchConfig bounds per-run parallelism.
type DispatchConfig struct {
	Workers int `yaml:"workers"`
}

// NotificationConfig encapsulates operator-facing channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// HTTPConfig configures the operator API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads .env and YAML configuration (if present) and applies environment overrides.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot read .env: %v", err)
	}

	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			fileCfg, err := Parse(raw)
			if err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CronParser accepts five-field expressions, an optional leading seconds field
// and descriptors such as @daily or @every 1h. Validate and the scheduler
// both parse with it.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate rejects settings that would make every run fail.
func (c Config) Validate() error {
	var errs []error

	if len(c.Scheduler.Schedules) == 0 {
		errs = append(errs, errors.New("scheduler: at least one schedule is required"))
	}
	for _, s := range c.Scheduler.Schedules {
		if _, err := CronParser.Parse(s.Cron); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: schedule %s: %w", s.Name, err))
		}
		cadence, err := domain.ParseFrequency(s.Cadence)
		if err != nil {
			errs = append(errs, fmt.Errorf("scheduler: schedule %s: %w", s.Name, err))
		} else if cadence == domain.FrequencyNever {
			errs = append(errs, fmt.Errorf("scheduler: schedule %s: cadence %q never delivers", s.Name, cadence))
		}
	}

	if c.Content.MaxItems <= 0 || c.Content.MaxItems > domain.MaxNewsCount {
		errs = append(errs, fmt.Errorf("content: maxItems must be within 1..%d", domain.MaxNewsCount))
	}
	if strings.TrimSpace(c.Delivery.From) == "" {
		errs = append(errs, errors.New("delivery: from address is required"))
	}
	switch c.Delivery.Provider {
	case "resend":
		if c.Delivery.Resend.APIKey == "" {
			errs = append(errs, errors.New("delivery: resend api key is required"))
		}
	case "smtp":
		if c.Delivery.SMTP.Host == "" {
			errs = append(errs, errors.New("delivery: smtp host is required"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("delivery: unknown provider %q", c.Delivery.Provider))
	}

	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(cronEnv); v != "" {
		c.setDailyCron(v)
	}

	if v := os.Getenv(timezoneEnv); v != "" {
		c.Scheduler.Timezone = v
	}

	if v := os.Getenv(emailFromEnv); v != "" {
		c.Delivery.From = v
	}

	if v := os.Getenv(providerEnv); v != "" {
		c.Delivery.Provider = strings.ToLower(v)
	}

	if v := os.Getenv(resendAPIKeyEnv); v != "" {
		c.Delivery.Resend.APIKey = v
	}

	if v := os.Getenv(newsAPIKeyEnv); v != "" {
		for i := range c.Content.Sources {
			if c.Content.Sources[i].Strategy == "newsapi" {
				c.Content.Sources[i].APIKey = v
			}
		}
	}

	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(smtpHostEnv); v != "" {
		c.Delivery.SMTP.Host = v
	}

	if v := os.Getenv(smtpPortEnv); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Delivery.SMTP.Port = port
		} else {
			log.Printf("config: invalid %s %q: %v", smtpPortEnv, v, err)
		}
	}

	if v := os.Getenv(smtpSecureEnv); v != "" {
		c.Delivery.SMTP.Secure = v == "true"
	}

	if v := os.Getenv(smtpUserEnv); v != "" {
		c.Delivery.SMTP.User = v
	}

	if v := os.Getenv(smtpPassEnv); v != "" {
		c.Delivery.SMTP.Pass = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(dispatchWorkersEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatch.Workers = n
		}
	}
}

// setDailyCron overrides the first daily schedule, adding one if none exists.
func (c *Config) setDailyCron(expr string) {
	for i := range c.Scheduler.Schedules {
		if cadence, _ := domain.ParseFrequency(c.Scheduler.Schedules[i].Cadence); cadence == domain.FrequencyDaily {
			c.Scheduler.Schedules[i].Cron = expr
			return
		}
	}
	c.Scheduler.Schedules = append(c.Scheduler.Schedules, ScheduleConfig{Name: "daily", Cron: expr, Cadence: string(domain.FrequencyDaily)})
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		tz = defaultTimezone
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.Timezone = tz
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if len(override.Scheduler.Schedules) > 0 {
		base.Scheduler.Schedules = override.Scheduler.Schedules
	}

	if override.Content.MaxItems > 0 {
		base.Content.MaxItems = override.Content.MaxItems
	}
	if override.Content.Language != "" {
		base.Content.Language = override.Content.Language
	}
	if override.Content.Timeout > 0 {
		base.Content.Timeout = override.Content.Timeout
	}
	if len(override.Content.Sources) > 0 {
		base.Content.Sources = override.Content.Sources
	}

	if override.Delivery.Provider != "" {
		base.Delivery.Provider = strings.ToLower(override.Delivery.Provider)
	}
	if override.Delivery.From != "" {
		base.Delivery.From = override.Delivery.From
	}
	if override.Delivery.Timeout > 0 {
		base.Delivery.Timeout = override.Delivery.Timeout
	}
	if override.Delivery.RatePerSecond > 0 {
		base.Delivery.RatePerSecond = override.Delivery.RatePerSecond
	}
	if override.Delivery.Burst > 0 {
		base.Delivery.Burst = override.Delivery.Burst
	}
	if override.Delivery.Resend.Endpoint != "" {
		base.Delivery.Resend.Endpoint = override.Delivery.Resend.Endpoint
	}
	if override.Delivery.Resend.APIKey != "" {
		base.Delivery.Resend.APIKey = override.Delivery.Resend.APIKey
	}
	if override.Delivery.SMTP.Host != "" {
		base.Delivery.SMTP = override.Delivery.SMTP
		if base.Delivery.SMTP.Port == 0 {
			base.Delivery.SMTP.Port = 587
		}
	}

	if override.Dispatch.Workers > 0 {
		base.Dispatch.Workers = override.Dispatch.Workers
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}

	return base
}

// Default returns the built-in configuration before file and env overrides.
func Default() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "data/newsdigest.db"},
		Scheduler: SchedulerConfig{
			Timezone: defaultTimezone,
			Schedules: []ScheduleConfig{
				{Name: "daily", Cron: defaultCron, Cadence: string(domain.FrequencyDaily)},
			},
			location: tz,
		},
		Content: ContentConfig{
			MaxItems: domain.DefaultNewsCount,
			Language: "en",
			Timeout:  defaultTimeout,
			Sources: []SourceConfig{
				{Name: "newsapi", Strategy: "newsapi", URL: "https://newsapi.org/v2/top-headlines"},
			},
		},
		Delivery: DeliveryConfig{
			Provider:      "resend",
			From:          defaultFrom,
			Timeout:       defaultTimeout,
			RatePerSecond: 2,
			Burst:         1,
			Resend:        ResendConfig{Endpoint: "https://api.resend.com/emails"},
			SMTP:          SMTPConfig{Host: "", Port: 587},
		},
		Dispatch: DispatchConfig{Workers: 1},
		HTTP:     HTTPConfig{Addr: ":8080"},
	}
}
