package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"calendar_helper_bot/internal/pkg/calendar/calendar_service"
	"calendar_helper_bot/internal/pkg/oauth/oauth_service"
)

const (
	authorizeCallbackData = "authorize"

	welcomeText         = "Добро пожаловать! Пожалуйста, авторизуйтесь:"
	authorizeButtonText = "Авторизоваться через Google"
	authLinkText        = "Пожалуйста, перейдите по следующей ссылке для авторизации: "
	authFailedText      = "Не удалось начать авторизацию. Попробуйте позже."
	authSuccessText     = "✅ Авторизация успешна! Используйте /calendar, чтобы увидеть ближайшие события."
	notAuthorizedText   = "Вам нужно авторизоваться через Google. Используйте /start для начала."
	calendarFailedText  = "Ошибка при получении событий из календаря."
	logoutText          = "Вы вышли из аккаунта Google."
	logoutFailedText    = "Не удалось выйти из аккаунта. Попробуйте позже."
	unknownCommandText  = "Неизвестная команда 🤔"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(msg)
	case "calendar":
		b.handleCalendar(ctx, msg)
	case "logout":
		b.handleLogout(msg)
	default:
		b.reply(msg.Chat.ID, unknownCommandText)
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(authorizeButtonText, authorizeCallbackData),
		),
	)

	reply := tgbotapi.NewMessage(msg.Chat.ID, welcomeText)
	reply.ReplyMarkup = keyboard
	if _, err := b.api.Send(reply); err != nil {
		log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("failed to send welcome message")
	}
}

func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		log.Warn().Err(err).Str("callback_id", query.ID).Msg("failed to answer callback query")
	}

	if query.Data != authorizeCallbackData || query.From == nil {
		return
	}

	sessionID := query.From.ID
	chatID := sessionID
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
	}

	authURL, _, err := b.oauth.Begin(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Int64("session_id", sessionID).Msg("failed to begin authorization")
		b.reply(chatID, authFailedText)
		return
	}

	text := authLinkText + authURL
	if query.Message == nil {
		b.reply(chatID, text)
		return
	}

	edit := tgbotapi.NewEditMessageText(chatID, query.Message.MessageID, text)
	if _, err := b.api.Send(edit); err != nil {
		log.Error().Err(err).Int64("session_id", sessionID).Msg("failed to send authorization link")
	}
}

func (b *Bot) handleCalendar(ctx context.Context, msg *tgbotapi.Message) {
	sessionID := sessionIDFromMessage(msg)

	client, err := b.oauth.HTTPClient(ctx, sessionID)
	if errors.Is(err, oauth_service.ErrNotAuthorized) {
		b.reply(msg.Chat.ID, notAuthorizedText)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("session_id", sessionID).Msg("failed to load credentials")
		b.reply(msg.Chat.ID, calendarFailedText)
		return
	}

	events, err := b.calendar.UpcomingEvents(ctx, client)
	if err != nil {
		log.Error().Err(err).Int64("session_id", sessionID).Msg("failed to fetch calendar events")
		b.reply(msg.Chat.ID, calendarFailedText)
		return
	}

	b.reply(msg.Chat.ID, calendar_service.FormatEvents(events))
}

func (b *Bot) handleLogout(msg *tgbotapi.Message) {
	sessionID := sessionIDFromMessage(msg)
	if err := b.oauth.Logout(sessionID); err != nil {
		log.Error().Err(err).Int64("session_id", sessionID).Msg("failed to delete credentials")
		b.reply(msg.Chat.ID, logoutFailedText)
		return
	}
	b.reply(msg.Chat.ID, logoutText)
}

// NotifyAuthorized сообщает пользователю в Telegram об успешной авторизации
func (b *Bot) NotifyAuthorized(sessionID int64) error {
	_, err := b.api.Send(tgbotapi.NewMessage(sessionID, authSuccessText))
	return err
}

func sessionIDFromMessage(msg *tgbotapi.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}
