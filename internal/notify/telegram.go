package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// StatusFunc renders the current site statuses for the /status command.
type StatusFunc func(ctx context.Context) string

// TelegramNotifier posts notifications to one chat and answers bot commands.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier authorizes the bot token.
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, chatID, logger), nil
}

func newTelegramNotifier(bot *tgbotapi.BotAPI, chatID int64, logger *zap.Logger) *TelegramNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Authorized telegram bot", zap.String("bot", bot.Self.UserName))
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}
}

// Notify implements Notifier.
func (n *TelegramNotifier) Notify(_ context.Context, title, body string) error {
	text := title
	if body != "" {
		text += "\n" + body
	}
	_, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text))
	if err != nil {
		err = fmt.Errorf("failed to send telegram message: %w", err)
	}
	return record("telegram", err)
}

// Listen long-polls for bot commands until ctx ends. /start replies with the
// chat id to configure and /status with the output of status.
func (n *TelegramNotifier) Listen(ctx context.Context, status StatusFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := n.bot.GetUpdatesChan(u)
	defer n.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			n.handleUpdate(ctx, update, status)
		}
	}
}

func (n *TelegramNotifier) handleUpdate(ctx context.Context, update tgbotapi.Update, status StatusFunc) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	chatID := update.Message.Chat.ID
	var reply string
	switch update.Message.Command() {
	case "start":
		reply = fmt.Sprintf("sitewatch is running. This chat id is %d.", chatID)
	case "status":
		if chatID != n.chatID {
			n.logger.Warn("Ignoring status request from unknown chat", zap.Int64("chat_id", chatID))
			return
		}
		reply = status(ctx)
	default:
		return
	}

	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
		n.logger.Warn("Failed to answer telegram command", zap.String("command", update.Message.Command()), zap.Error(err))
	}
}
