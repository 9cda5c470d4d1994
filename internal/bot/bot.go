package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/hanzibot/internal/database"
	"github.com/example/hanzibot/internal/review"
	"github.com/example/hanzibot/pkg/models"
)

// sender is the part of the Telegram API the bot talks through
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot represents the Telegram bot application
type Bot struct {
	api     *tgbotapi.BotAPI
	sender  sender
	svc     *review.Service
	users   *database.UserRepository
	catalog *database.Catalog
	config  *BotConfig
	logger  *log.Logger
}

// New connects to Telegram with token and creates a bot instance
func New(token string, svc *review.Service, users *database.UserRepository, catalog *database.Catalog, logger *log.Logger, config *BotConfig) (*Bot, error) {
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is not set")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("unable to create bot: %w", err)
	}
	if config == nil {
		config = DefaultConfig()
	}
	api.Debug = config.Debug
	logger.Info("authorized on Telegram", "account", api.Self.UserName)

	b := newBot(api, svc, users, catalog, logger, config)
	b.api = api
	return b, nil
}

func newBot(s sender, svc *review.Service, users *database.UserRepository, catalog *database.Catalog, logger *log.Logger, config *BotConfig) *Bot {
	if config == nil {
		config = DefaultConfig()
	}
	return &Bot{
		sender:  s,
		svc:     svc,
		users:   users,
		catalog: catalog,
		config:  config,
		logger:  logger,
	}
}

// Start receives updates until ctx is canceled
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot is not connected to Telegram")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = b.config.UpdateTimeout
	updates := b.api.GetUpdatesChan(updateConfig)

	b.logger.Info("bot started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("bot stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// SendReminder tells a Telegram user how many items are waiting for review.
// It implements scheduler.Notifier.
func (b *Bot) SendReminder(ctx context.Context, user models.User, count int) error {
	if user.TelegramID == nil {
		return fmt.Errorf("user %d has no Telegram chat", user.ID)
	}
	noun := "items"
	if count == 1 {
		noun = "item"
	}
	msg := tgbotapi.NewMessage(*user.TelegramID, fmt.Sprintf("You have %d %s to review! Send /review to start.", count, noun))
	if _, err := b.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send reminder to user %d: %w", user.ID, err)
	}
	b.logger.Debug("sent reminder", "user", user.ID, "count", count)
	return nil
}

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while handling update", "update", update.UpdateID, "panic", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		b.reply(update.Message.Chat.ID, "I don't understand. Use /help to see the commands.")
	}
}

// reply sends a plain text message and logs failures
func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.sender.Send(c); err != nil {
		b.logger.Error("failed to send message", "err", err)
	}
}
