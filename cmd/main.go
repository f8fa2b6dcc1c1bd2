package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"calendar_helper_bot/internal/bot"
	"calendar_helper_bot/internal/config"
	"calendar_helper_bot/internal/logger"
	"calendar_helper_bot/internal/pkg/calendar/calendar_service"
	"calendar_helper_bot/internal/pkg/http_client"
	"calendar_helper_bot/internal/pkg/oauth/oauth_service"
	"calendar_helper_bot/internal/pkg/session/postgres_storage"
	"calendar_helper_bot/internal/pkg/session/usecase"
	"calendar_helper_bot/internal/pkg/web_server/web_server_service"
)

const (
	shutdownTimeout = 10 * time.Second

	// больше таймаута long polling, иначе getUpdates обрывается клиентом
	telegramClientTimeout = 90 * time.Second
)

var (
	cfgFile string
	botMode string
)

// sessionStorage хранилище вместе с фоновой очисткой устаревших state
type sessionStorage interface {
	oauth_service.Storage
	RunCleanup(ctx context.Context, interval time.Duration)
}

var rootCmd = &cobra.Command{
	Use:   "calendar_helper_bot",
	Short: "Telegram bot showing upcoming Google Calendar events",
	Long: `Telegram bot that links a Telegram account to Google via OAuth
and answers /calendar with the nearest events of the primary calendar.

Without a subcommand the bot is started the same way as with "serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the OAuth callback web server",
	RunE:  runServe,
}

var webhookCmd = &cobra.Command{
	Use:   "set-webhook",
	Short: "Register MY_DOMAIN webhook in Telegram and exit",
	RunE:  runSetWebhook,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default: environment and .env)")
	rootCmd.PersistentFlags().StringVar(&botMode, "mode", "", "update delivery: webhook or polling (overrides BOT_MODE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(webhookCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if botMode != "" {
		cfg.Mode = botMode
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogPretty); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func newTelegramAPI(cfg *config.Config) (*tgbotapi.BotAPI, error) {
	client := &http.Client{
		Transport: http_client.NewLoggedTransport(nil, cfg.LogServerURL),
		Timeout:   telegramClientTimeout,
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}
	log.Info().Str("account", api.Self.UserName).Msg("authorized on telegram")
	return api, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (sessionStorage, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("using in-memory session storage")
		return usecase.NewMemoryStorage(), func() {}, nil
	}

	db, err := postgres_storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	storage := postgres_storage.NewPostgresStorage(db)
	if err := storage.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	log.Info().Msg("using postgres session storage")
	return storage, func() { closeDB(db) }, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	oauthConfig, err := cfg.OAuth2Config()
	if err != nil {
		return err
	}
	oauthService := oauth_service.NewOAuthService(oauthConfig, storage, oauth_service.Options{
		StateTTL:   cfg.StateTTL,
		HTTPClient: http_client.NewLoggedClient(cfg.LogServerURL),
	})
	calendarService := calendar_service.NewCalendarService(cfg.CalendarEndpoint, cfg.CalendarMaxResults)

	api, err := newTelegramAPI(cfg)
	if err != nil {
		return err
	}

	b := bot.New(api, oauthService, calendarService, cfg.BotWorkers, cfg.UpdateQueueSize)
	webServer := web_server_service.NewWebServer(oauthService, b, b, cfg.TelegramToken, cfg.SecretKey, cfg.WebPort)

	go storage.RunCleanup(ctx, cfg.CleanupInterval)
	go b.Run(ctx)

	switch cfg.Mode {
	case config.ModePolling:
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Warn().Err(err).Msg("failed to delete webhook before polling")
		}
		go b.Poll(ctx, api)
	case config.ModeWebhook:
		if url := cfg.WebhookURL(); url != "" {
			if err := bot.RegisterWebhook(api, url, cfg.SecretKey); err != nil {
				return err
			}
			log.Info().Str("domain", cfg.MyDomain).Msg("webhook registered")
		} else {
			log.Warn().Msg("MY_DOMAIN is not set, webhook is not registered")
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- webServer.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

func runSetWebhook(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := cfg.WebhookURL()
	if url == "" {
		return fmt.Errorf("%w: MY_DOMAIN", config.ErrMissingSetting)
	}

	api, err := newTelegramAPI(cfg)
	if err != nil {
		return err
	}
	if err := bot.RegisterWebhook(api, url, cfg.SecretKey); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "webhook registered for", cfg.MyDomain)
	return nil
}
