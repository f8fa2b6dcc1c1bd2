package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"gopkg.in/yaml.v3"
)

var ErrMissingSetting = errors.New("missing required setting")

const (
	ModeWebhook = "webhook"
	ModePolling = "polling"

	webhookPathPrefix = "/api/webhook/"
)

// Scopes доступ только на чтение календаря и профиль пользователя
var Scopes = []string{
	gcal.CalendarReadonlyScope,
	"https://www.googleapis.com/auth/userinfo.profile",
}

type Config struct {
	TelegramToken string `yaml:"telegram_token"`
	// ClientSecrets содержимое client_secrets.json из Google Cloud Console или путь к нему
	ClientSecrets string `yaml:"client_secrets"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RedirectURI   string `yaml:"redirect_uri"`
	SecretKey     string `yaml:"secret_key"`
	MyDomain      string `yaml:"my_domain"`
	WebPort       string `yaml:"web_port"`
	Mode          string `yaml:"mode"`

	DatabaseURL  string `yaml:"database_url"`
	LogServerURL string `yaml:"log_server_url"`
	LogLevel     string `yaml:"log_level"`
	LogPretty    bool   `yaml:"log_pretty"`

	StateTTL           time.Duration `yaml:"state_ttl"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	CalendarMaxResults int64         `yaml:"calendar_max_results"`
	BotWorkers         int           `yaml:"bot_workers"`
	UpdateQueueSize    int           `yaml:"update_queue_size"`

	// Переопределение адресов Google, например для cmd/mock_api
	GoogleAuthURL    string `yaml:"google_auth_url"`
	GoogleTokenURL   string `yaml:"google_token_url"`
	CalendarEndpoint string `yaml:"calendar_endpoint"`
}

func Default() *Config {
	return &Config{
		WebPort:            "8080",
		Mode:               ModeWebhook,
		LogLevel:           "info",
		StateTTL:           10 * time.Minute,
		CleanupInterval:    time.Hour,
		CalendarMaxResults: 10,
		BotWorkers:         4,
		UpdateQueueSize:    100,
	}
}

// Load читает конфигурацию из файла, если путь задан, иначе из окружения
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = LoadFile(path)
	} else {
		cfg, err = LoadEnv()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv читает переменные окружения; .env подхватывается, если он есть
func LoadEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := Default()
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.ClientSecrets = os.Getenv("CLIENT_SECRETS_FILE")
	cfg.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.RedirectURI = os.Getenv("REDIRECT_URI")
	cfg.SecretKey = os.Getenv("SECRET_KEY")
	cfg.MyDomain = os.Getenv("MY_DOMAIN")
	cfg.WebPort = getEnv("WEB_PORT", cfg.WebPort)
	cfg.Mode = getEnv("BOT_MODE", cfg.Mode)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.LogServerURL = os.Getenv("LOG_SERVER_URL")
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.GoogleAuthURL = os.Getenv("GOOGLE_AUTH_URL")
	cfg.GoogleTokenURL = os.Getenv("GOOGLE_TOKEN_URL")
	cfg.CalendarEndpoint = os.Getenv("CALENDAR_ENDPOINT")

	var err error
	if cfg.LogPretty, err = getBool("LOG_PRETTY", cfg.LogPretty); err != nil {
		return nil, err
	}
	if cfg.StateTTL, err = getDuration("STATE_TTL", cfg.StateTTL); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", cfg.CleanupInterval); err != nil {
		return nil, err
	}
	if cfg.CalendarMaxResults, err = getInt64("CALENDAR_MAX_RESULTS", cfg.CalendarMaxResults); err != nil {
		return nil, err
	}
	workers, err := getInt64("BOT_WORKERS", int64(cfg.BotWorkers))
	if err != nil {
		return nil, err
	}
	cfg.BotWorkers = int(workers)
	queueSize, err := getInt64("UPDATE_QUEUE_SIZE", int64(cfg.UpdateQueueSize))
	if err != nil {
		return nil, err
	}
	cfg.UpdateQueueSize = int(queueSize)

	return cfg, nil
}

// LoadFile читает YAML файл поверх значений по умолчанию
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN", ErrMissingSetting)
	}
	if c.Mode != ModeWebhook && c.Mode != ModePolling {
		return fmt.Errorf("unknown bot mode %q", c.Mode)
	}

	oauthConfig, err := c.OAuth2Config()
	if err != nil {
		return err
	}
	if oauthConfig.ClientID == "" || oauthConfig.ClientSecret == "" {
		return fmt.Errorf("%w: CLIENT_SECRETS_FILE or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET", ErrMissingSetting)
	}
	if oauthConfig.RedirectURL == "" {
		return fmt.Errorf("%w: REDIRECT_URI", ErrMissingSetting)
	}
	return nil
}

// OAuth2Config собирает конфигурацию OAuth клиента Google
func (c *Config) OAuth2Config() (*oauth2.Config, error) {
	var cfg *oauth2.Config

	if c.ClientSecrets != "" {
		secrets, err := c.clientSecretsJSON()
		if err != nil {
			return nil, err
		}
		cfg, err = google.ConfigFromJSON(secrets, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse client secrets: %w", err)
		}
	} else {
		cfg = &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       append([]string(nil), Scopes...),
		}
	}

	if c.RedirectURI != "" {
		cfg.RedirectURL = c.RedirectURI
	}
	if c.GoogleAuthURL != "" {
		cfg.Endpoint.AuthURL = c.GoogleAuthURL
	}
	if c.GoogleTokenURL != "" {
		cfg.Endpoint.TokenURL = c.GoogleTokenURL
	}
	// Google принимает client_secret в теле запроса
	if cfg.Endpoint.AuthStyle == oauth2.AuthStyleAutoDetect {
		cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return cfg, nil
}

func (c *Config) clientSecretsJSON() ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(c.ClientSecrets), "{") {
		return []byte(c.ClientSecrets), nil
	}
	data, err := os.ReadFile(c.ClientSecrets)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	return data, nil
}

// WebhookPath путь вебхука содержит токен бота
func (c *Config) WebhookPath() string {
	return webhookPathPrefix + c.TelegramToken
}

func (c *Config) WebhookURL() string {
	if c.MyDomain == "" {
		return ""
	}
	domain := strings.TrimRight(c.MyDomain, "/")
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return domain + c.WebhookPath()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
