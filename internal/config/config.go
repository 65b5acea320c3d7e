package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	ProviderEndpoint = "endpoint"
	ProviderGemini   = "gemini"
)

// Config holds the configuration for the application.
type Config struct {
	LLMProvider  string `env:"LLM_PROVIDER" validate:"oneof=endpoint gemini"`
	EndpointURL  string `env:"AI_ENDPOINT_URL" validate:"required_if=LLMProvider endpoint,omitempty,url"`
	EndpointKey  string `env:"AI_ENDPOINT_KEY"`
	GeminiAPIKey string `env:"GEMINI_API_KEY" validate:"required_if=LLMProvider gemini"`
	GeminiModel  string `env:"GEMINI_MODEL" validate:"required"`

	DatabasePath string `env:"DATABASE_PATH" validate:"required"`
	ExportPath   string `env:"EXPORT_PATH" validate:"required"`

	Locale         string `env:"AI_LOCALE" validate:"required"`
	DeviceTimezone string `env:"DEVICE_TIMEZONE" validate:"required"`

	HTTPTimeout       time.Duration `env:"AI_HTTP_TIMEOUT" validate:"min=1s"`
	GenerationTimeout time.Duration `env:"AI_GENERATION_TIMEOUT" validate:"min=1s"`

	LogMode string `env:"LOG_MODE" validate:"oneof=production development"`

	// Telegram Config (Optional for CLI, required for Bot)
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	Port                   string
	PendingMenuTTL         time.Duration `env:"PENDING_MENU_TTL" validate:"min=1m"`
}

var defaults = map[string]any{
	"llm_provider":          ProviderEndpoint,
	"gemini_model":          "gemini-1.5-flash",
	"database_path":         "data/workout.db",
	"export_path":           "data/exports",
	"ai_locale":             "ja-JP",
	"ai_http_timeout":       60 * time.Second,
	"ai_generation_timeout": 90 * time.Second,
	"log_mode":              "development",
	"port":                  "8080",
	"pending_menu_ttl":      30 * time.Minute,
}

// NewFromEnv creates a new Config object from environment variables.
// A config.yaml in the working directory is read first when present;
// environment variables take precedence over it.
func NewFromEnv() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("device_timezone", localTimezone())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	allowed, err := parseUserIDs(v.GetString("telegram_allowed_user_ids"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LLMProvider:            strings.ToLower(v.GetString("llm_provider")),
		EndpointURL:            v.GetString("ai_endpoint_url"),
		EndpointKey:            v.GetString("ai_endpoint_key"),
		GeminiAPIKey:           v.GetString("gemini_api_key"),
		GeminiModel:            v.GetString("gemini_model"),
		DatabasePath:           v.GetString("database_path"),
		ExportPath:             v.GetString("export_path"),
		Locale:                 v.GetString("ai_locale"),
		DeviceTimezone:         v.GetString("device_timezone"),
		HTTPTimeout:            v.GetDuration("ai_http_timeout"),
		GenerationTimeout:      v.GetDuration("ai_generation_timeout"),
		LogMode:                strings.ToLower(v.GetString("log_mode")),
		TelegramBotToken:       v.GetString("telegram_bot_token"),
		TelegramWebhookURL:     v.GetString("telegram_webhook_url"),
		TelegramAllowedUserIDs: allowed,
		Port:                   v.GetString("port"),
		PendingMenuTTL:         v.GetDuration("pending_menu_ttl"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireTelegram checks the settings only the bot needs.
func (c *Config) RequireTelegram() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}
	if c.TelegramWebhookURL == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_URL environment variable not set")
	}
	return nil
}

func validate(cfg *Config) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%s environment variable not set", fe.Field())
	default:
		return fmt.Errorf("%s environment variable is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS contains an invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func localTimezone() string {
	name := time.Now().Location().String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}
