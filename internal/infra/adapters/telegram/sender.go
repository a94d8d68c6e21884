package telegram

import (
	"context"
	"errors"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
)

var _ adapter.TelegramBotAdapter = (*Sender)(nil)

// Sender delivers payment outcome DMs. It never polls updates: the bot's
// conversational side lives elsewhere.
type Sender struct {
	bot *tgbotapi.BotAPI
	log *zerolog.Logger
}

func NewSender(token string, logger *zerolog.Logger) (*Sender, error) {
	return NewSenderWithEndpoint(token, tgbotapi.APIEndpoint, http.DefaultClient, logger)
}

// NewSenderWithEndpoint points the bot at another API host, e.g. a local Bot API server.
func NewSenderWithEndpoint(token, endpoint string, client *http.Client, logger *zerolog.Logger) (*Sender, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "TelegramSender").Str("bot", bot.Self.UserName).Logger()
	return &Sender{bot: bot, log: &l}, nil
}

func (s *Sender) SendMessage(ctx context.Context, tgID int64, text string) error {
	// Support early cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	msg := tgbotapi.NewMessage(tgID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
			s.log.Warn().Int64("chat_id", tgID).Int("retry_after", tgErr.RetryAfter).Msg("telegram rate limited")
		}
		return err
	}
	return nil
}
