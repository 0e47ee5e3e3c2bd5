package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AlertNotifier = (*TelegramNotifier)(nil)

// TelegramNotifier pushes operator alerts for terminal failures into a
// Telegram chat. Delivery is best effort: a dropped alert never affects
// job state.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zerolog.Logger
}

func NewTelegramNotifier(token string, chatID int64, log *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}, nil
}

func (n *TelegramNotifier) JobFailed(_ context.Context, job *model.Job) {
	text := fmt.Sprintf("generation job %s failed after %d attempt(s)\nclip: %s\nmodel: %s",
		job.ID, job.Attempt, job.Request.ClipID, job.Request.ModelName)
	if job.Error != nil {
		text += fmt.Sprintf("\nerror (%s): %s", job.Error.Kind, job.Error.Message)
	}
	n.send(text)
}

func (n *TelegramNotifier) RecordingFailed(_ context.Context, res *model.GenerationResult, err error) {
	n.send(fmt.Sprintf("result for job %s completed but could not be recorded to clip %s: %v",
		res.JobID, res.ClipID, err))
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Msg("alert delivery failed")
	}
}
