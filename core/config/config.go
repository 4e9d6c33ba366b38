package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies Telegram webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// DatabaseConfig holds Postgres connection settings. When Host is empty the
// bot runs on the in-memory session store.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Enabled reports whether a durable store is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.Host) != ""
}

// LLMConfig configures the chat completion collaborator.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url" envconfig:"LLM_BASE_URL"`
	APIKey      string  `yaml:"api_key" envconfig:"LLM_API_KEY"`
	Model       string  `yaml:"model" envconfig:"LLM_MODEL"`
	Temperature float32 `yaml:"temperature" envconfig:"LLM_TEMPERATURE"`
	// Persona is the system prompt establishing the bot voice.
	Persona string `yaml:"persona" envconfig:"LLM_PERSONA"`
	// MaxReplyRunes bounds the reply length sent back to the chat.
	MaxReplyRunes int `yaml:"max_reply_runes" envconfig:"LLM_MAX_REPLY_RUNES"`
	// WindowSize bounds the conversation window handed to the model.
	WindowSize int `yaml:"window_size" envconfig:"LLM_WINDOW_SIZE"`
}

// PaymentsConfig configures the Mercado Pago integration and checkout policy.
type PaymentsConfig struct {
	AccessToken string `yaml:"access_token" envconfig:"MP_ACCESS_TOKEN"`
	BaseURL     string `yaml:"base_url" envconfig:"MP_BASE_URL"`
	// NotificationURL is the public URL Mercado Pago calls back on.
	NotificationURL string `yaml:"notification_url" envconfig:"MP_NOTIFICATION_URL"`
	// WebhookListen is the address of the payment webhook listener.
	WebhookListen string `yaml:"webhook_listen" envconfig:"PAYMENTS_WEBHOOK_LISTEN"`
	// CooldownSeconds guards against double-tap checkout creation.
	CooldownSeconds int `yaml:"cooldown_seconds" envconfig:"PAYMENTS_COOLDOWN_SECONDS"`
	// PendingTTLMinutes is the janitor expiry for abandoned checkouts.
	PendingTTLMinutes int `yaml:"pending_ttl_minutes" envconfig:"PAYMENTS_PENDING_TTL_MINUTES"`
	// JanitorSchedule is a cron expression for the pending sweep.
	JanitorSchedule string `yaml:"janitor_schedule" envconfig:"PAYMENTS_JANITOR_SCHEDULE"`
}

// Cooldown returns the checkout cooldown as a duration.
func (p PaymentsConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

// PendingTTL returns the pending checkout TTL as a duration.
func (p PaymentsConfig) PendingTTL() time.Duration {
	return time.Duration(p.PendingTTLMinutes) * time.Minute
}

// PlanConfig describes one purchasable plan. When the plans section is
// empty the built-in catalog applies.
type PlanConfig struct {
	ID            string  `yaml:"id"`
	Title         string  `yaml:"title"`
	Amount        float64 `yaml:"amount"`
	DurationHours int     `yaml:"duration_hours"`
	// Media unlocks photo/voice content for the plan.
	Media bool `yaml:"media"`
	// Default marks the fallback plan for unknown plan ids.
	Default bool `yaml:"default"`
}

// GateConfig tunes the paywall decision thresholds.
type GateConfig struct {
	// EscalationThreshold triggers the paywall once the escalation counter
	// reaches it.
	EscalationThreshold int `yaml:"escalation_threshold" envconfig:"GATE_ESCALATION_THRESHOLD"`
	// UpsellBandLow and UpsellBandHigh delimit the message-count band where
	// a secondary classifier match triggers the natural upsell.
	UpsellBandLow  int `yaml:"upsell_band_low" envconfig:"GATE_UPSELL_BAND_LOW"`
	UpsellBandHigh int `yaml:"upsell_band_high" envconfig:"GATE_UPSELL_BAND_HIGH"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds settings for inbound update rate limiting.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates all bot configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Plans     []PlanConfig    `yaml:"plans"`
	Gate      GateConfig      `yaml:"gate"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if cfg.Payments.AccessToken == "" {
		return fmt.Errorf("payments.access_token is required")
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.9
	}
	if cfg.LLM.MaxReplyRunes <= 0 {
		cfg.LLM.MaxReplyRunes = 1500
	}
	if cfg.LLM.WindowSize <= 0 {
		cfg.LLM.WindowSize = 20
	}
	if strings.TrimSpace(cfg.LLM.Persona) == "" {
		cfg.LLM.Persona = "Você é uma mulher sedutora, envolvente, educada e provocante, mas nunca explícita."
	}

	if cfg.Payments.BaseURL == "" {
		cfg.Payments.BaseURL = "https://api.mercadopago.com"
	}
	if cfg.Payments.WebhookListen == "" {
		cfg.Payments.WebhookListen = ":8081"
	}
	if cfg.Payments.CooldownSeconds <= 0 {
		cfg.Payments.CooldownSeconds = 30
	}
	if cfg.Payments.PendingTTLMinutes <= 0 {
		cfg.Payments.PendingTTLMinutes = 60
	}
	if strings.TrimSpace(cfg.Payments.JanitorSchedule) == "" {
		cfg.Payments.JanitorSchedule = "*/10 * * * *"
	}

	seenPlans := make(map[string]struct{}, len(cfg.Plans))
	for i, p := range cfg.Plans {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("plans[%d].id is required", i)
		}
		if _, dup := seenPlans[id]; dup {
			return fmt.Errorf("duplicate plan id %q", id)
		}
		seenPlans[id] = struct{}{}
		if p.Amount <= 0 {
			return fmt.Errorf("plans[%d].amount must be > 0", i)
		}
		if p.DurationHours <= 0 {
			return fmt.Errorf("plans[%d].duration_hours must be > 0", i)
		}
		cfg.Plans[i].ID = id
	}

	if cfg.Gate.EscalationThreshold <= 0 {
		cfg.Gate.EscalationThreshold = 4
	}
	if cfg.Gate.UpsellBandLow <= 0 {
		cfg.Gate.UpsellBandLow = 12
	}
	if cfg.Gate.UpsellBandHigh <= cfg.Gate.UpsellBandLow {
		cfg.Gate.UpsellBandHigh = cfg.Gate.UpsellBandLow + 18
	}

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return nil
}
