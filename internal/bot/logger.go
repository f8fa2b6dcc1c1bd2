package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// zerologBotLogger направляет внутренние сообщения tgbotapi в zerolog
type zerologBotLogger struct{}

func (zerologBotLogger) Println(v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msg(fmt.Sprint(v...))
}

func (zerologBotLogger) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msgf(format, v...)
}

func init() {
	if err := tgbotapi.SetLogger(zerologBotLogger{}); err != nil {
		log.Warn().Err(err).Msg("failed to set telegram logger")
	}
}
