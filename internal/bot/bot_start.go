package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"calendar_helper_bot/internal/pkg/calendar/calendar_service"
)

var ErrQueueFull = errors.New("update queue is full")

// Sender часть tgbotapi.BotAPI, которой пользуется бот
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Authorizer interface {
	Begin(ctx context.Context, sessionID int64) (string, string, error)
	HTTPClient(ctx context.Context, sessionID int64) (*http.Client, error)
	Logout(sessionID int64) error
}

type EventLister interface {
	UpcomingEvents(ctx context.Context, client *http.Client) ([]calendar_service.Event, error)
}

type Bot struct {
	api      Sender
	oauth    Authorizer
	calendar EventLister
	updates  chan tgbotapi.Update
	workers  int
}

func New(api Sender, oauth Authorizer, calendar EventLister, workers, queueSize int) *Bot {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Bot{
		api:      api,
		oauth:    oauth,
		calendar: calendar,
		updates:  make(chan tgbotapi.Update, queueSize),
		workers:  workers,
	}
}

// Enqueue ставит обновление в очередь без блокировки
func (b *Bot) Enqueue(update tgbotapi.Update) error {
	select {
	case b.updates <- update:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run обрабатывает очередь обновлений, пока не отменен контекст
func (b *Bot) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case update := <-b.updates:
					b.HandleUpdate(ctx, update)
				}
			}
		}()
	}

	log.Info().Int("workers", b.workers).Msg("bot started")
	wg.Wait()
	log.Info().Msg("bot stopped")
}

// Poll получает обновления через long polling и кладет их в очередь
func (b *Bot) Poll(ctx context.Context, api *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := api.GetUpdatesChan(u)
	log.Info().Str("account", api.Self.UserName).Msg("polling for updates")

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.Enqueue(update); err != nil {
				log.Warn().Err(err).Int("update_id", update.UpdateID).Msg("dropping update")
			}
		}
	}
}

// RegisterWebhook сообщает Telegram адрес вебхука; secret приходит обратно в заголовке
func RegisterWebhook(api *tgbotapi.BotAPI, url, secret string) error {
	params := tgbotapi.Params{}
	params["url"] = url
	params.AddNonEmpty("secret_token", secret)

	resp, err := api.MakeRequest("setWebhook", params)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("set webhook: %s", resp.Description)
	}
	return nil
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("recovered from panic in update handler")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}
