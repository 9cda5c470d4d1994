package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/hanzibot/internal/database"
	sr "github.com/example/hanzibot/internal/spaced_repetition"
	"github.com/example/hanzibot/pkg/models"
)

const helpText = `Welcome to the Hanzi review bot!

Available commands:
/review - Review the characters that are due
/sentences - Review the sentences that are due
/learn <hanzi> - Start learning a character
/stats - Show your progress
/notify <hour|off> - Set the daily reminder hour (UTC)
/help - Show this message`

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	user, err := b.userFor(ctx, message.From)
	if err != nil {
		b.logger.Error("failed to resolve user", "telegram", chatID, "err", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}

	args := strings.TrimSpace(message.CommandArguments())
	switch message.Command() {
	case "start", "help":
		b.reply(chatID, helpText)
	case "review":
		kind := b.config.DefaultKind
		if args != "" {
			if kind, err = models.ParseKind(args); err != nil {
				b.reply(chatID, "Use /review characters or /review sentences.")
				return
			}
		}
		b.sendNextCard(ctx, chatID, user, kind)
	case "characters":
		b.sendNextCard(ctx, chatID, user, models.KindCharacter)
	case "sentences":
		b.sendNextCard(ctx, chatID, user, models.KindSentence)
	case "learn":
		b.handleLearnCommand(ctx, chatID, user, args)
	case "stats":
		b.handleStatsCommand(ctx, chatID, user)
	case "notify":
		b.handleNotifyCommand(ctx, chatID, user, args)
	default:
		b.reply(chatID, "Unknown command. Use /help to see the commands.")
	}
}

// userFor returns the user of a Telegram account, registering it on first contact
func (b *Bot) userFor(ctx context.Context, from *tgbotapi.User) (*models.User, error) {
	if from == nil {
		return nil, errors.New("update has no sender")
	}
	user, created, err := b.users.GetOrCreateByTelegramID(ctx, from.ID, from.UserName)
	if err != nil {
		return nil, err
	}
	if created {
		b.logger.Info("registered user", "id", user.ID, "telegram", from.ID)
	}
	return user, nil
}

func (b *Bot) handleLearnCommand(ctx context.Context, chatID int64, user *models.User, hanzi string) {
	if hanzi == "" {
		b.reply(chatID, "Usage: /learn 水")
		return
	}
	c, err := b.catalog.Characters.GetByHanzi(ctx, hanzi)
	if errors.Is(err, database.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("%s is not in the catalog yet.", hanzi))
		return
	}
	if err != nil {
		b.logger.Error("failed to look up character", "hanzi", hanzi, "err", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}

	key := models.ItemKey{UserID: user.ID, Kind: models.KindCharacter, ItemID: c.ID}
	_, started, err := b.svc.StartLearning(ctx, key)
	if err != nil {
		b.logger.Error("failed to start learning", "user", user.ID, "item", c.ID, "err", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}
	if !started {
		b.reply(chatID, fmt.Sprintf("You are already learning %s.", c.Hanzi))
		return
	}
	b.reply(chatID, fmt.Sprintf("Added %s (%s): %s. Send /review to practice it.", c.Hanzi, c.Pinyin, c.Meaning))
}

func (b *Bot) handleStatsCommand(ctx context.Context, chatID int64, user *models.User) {
	stats, err := b.svc.Statistics(ctx, user.ID)
	if err != nil {
		b.logger.Error("failed to get statistics", "user", user.ID, "err", err)
		b.reply(chatID, "Statistics are not available right now.")
		return
	}
	b.reply(chatID, formatStats(stats))
}

func formatStats(stats []models.Statistics) string {
	var sb strings.Builder
	sb.WriteString("📊 Your progress\n")
	for _, st := range stats {
		name := st.Kind.Plural()
		fmt.Fprintf(&sb, "\n%s%s\n", strings.ToUpper(name[:1]), name[1:])
		fmt.Fprintf(&sb, "Total: %d\nSeen: %d\nLearning: %d\nLearned: %d\nDue now: %d\n",
			st.Total, st.Seen, st.Learning, st.Learned, st.Due)
		if st.AvgEasiness > 0 {
			fmt.Fprintf(&sb, "Average easiness: %.2f\n", st.AvgEasiness)
		}
	}
	return sb.String()
}

func (b *Bot) handleNotifyCommand(ctx context.Context, chatID int64, user *models.User, arg string) {
	enabled, hour := true, user.NotificationHour
	switch arg {
	case "":
		status := "off"
		if user.NotificationEnabled {
			status = fmt.Sprintf("at %02d:00 UTC", user.NotificationHour)
		}
		b.reply(chatID, fmt.Sprintf("Reminders are %s. Use /notify <0-23> or /notify off.", status))
		return
	case "off":
		enabled = false
	default:
		h, err := strconv.Atoi(arg)
		if err != nil || h < 0 || h > 23 {
			b.reply(chatID, "Please send an hour between 0 and 23, or off.")
			return
		}
		hour = h
	}

	if err := b.users.UpdateNotification(ctx, user.ID, enabled, hour); err != nil {
		b.logger.Error("failed to update notification settings", "user", user.ID, "err", err)
		b.reply(chatID, "❌ Error updating settings. Please try again.")
		return
	}
	if !enabled {
		b.reply(chatID, "✅ Reminders turned off")
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Reminders set to %02d:00 UTC", hour))
}

// sendNextCard shows the front of the next due item with a button to reveal the answer
func (b *Bot) sendNextCard(ctx context.Context, chatID int64, user *models.User, kind models.ItemKind) {
	batch, err := b.svc.Due(ctx, user.ID, kind, 1)
	if err != nil {
		b.logger.Error("failed to get due items", "user", user.ID, "kind", kind, "err", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}
	if len(batch.Items) == 0 {
		b.reply(chatID, fmt.Sprintf("🎉 No %s to review right now.", kind.Plural()))
		return
	}

	item := batch.Items[0]
	front, _, err := b.cardText(ctx, kind, item.ItemID)
	if err != nil {
		b.logger.Error("failed to load card", "kind", kind, "item", item.ItemID, "err", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("%s\n\n(%d left)", front, batch.Total))
	msg.ReplyMarkup = showAnswerKeyboard(kind, item.ItemID, item.Version)
	b.send(msg)
}

// cardText returns the question and the answer side of a catalog item
func (b *Bot) cardText(ctx context.Context, kind models.ItemKind, itemID int64) (front, back string, err error) {
	switch kind {
	case models.KindCharacter:
		c, err := b.catalog.Characters.GetByID(ctx, itemID)
		if err != nil {
			return "", "", err
		}
		return c.Hanzi, fmt.Sprintf("%s\n%s\n%s", c.Hanzi, c.Pinyin, c.Meaning), nil
	case models.KindSentence:
		s, err := b.catalog.Sentences.GetByID(ctx, itemID)
		if err != nil {
			return "", "", err
		}
		return s.Chinese, fmt.Sprintf("%s\n%s\n%s", s.Chinese, s.Pinyin, s.English), nil
	}
	return "", "", fmt.Errorf("unknown item kind %q", kind)
}

// handleCallbackQuery handles callback queries from buttons
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID

	cb, err := parseCallback(query.Data)
	if err != nil {
		b.logger.Warn("ignoring callback", "data", query.Data, "err", err)
		b.answer(query.ID, "")
		return
	}
	user, err := b.userFor(ctx, query.From)
	if err != nil {
		b.logger.Error("failed to resolve user", "telegram", chatID, "err", err)
		b.answer(query.ID, "Something went wrong")
		return
	}

	_, back, err := b.cardText(ctx, cb.Kind, cb.ItemID)
	if err != nil {
		b.logger.Error("failed to load card", "kind", cb.Kind, "item", cb.ItemID, "err", err)
		b.answer(query.ID, "This card no longer exists")
		return
	}

	switch cb.Action {
	case actionShow:
		b.answer(query.ID, "")
		b.send(tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID,
			back+"\n\nHow well did you remember?", gradeKeyboard(cb.Kind, cb.ItemID, cb.Version)))
	case actionGrade:
		key := models.ItemKey{UserID: user.ID, Kind: cb.Kind, ItemID: cb.ItemID}
		item, err := b.svc.Review(ctx, key, cb.Quality, &cb.Version)
		switch {
		case errors.Is(err, sr.ErrInvalidQuality):
			b.answer(query.ID, "Invalid grade")
			return
		case errors.Is(err, database.ErrConflict):
			b.answer(query.ID, "Already graded")
			return
		case errors.Is(err, sr.ErrInvalidItemState):
			b.answer(query.ID, "You are not learning this item")
			return
		case err != nil:
			b.logger.Error("failed to grade item", "user", user.ID, "kind", cb.Kind, "item", cb.ItemID, "err", err)
			b.answer(query.ID, "Something went wrong")
			return
		}
		b.answer(query.ID, "Saved")
		b.send(tgbotapi.NewEditMessageText(chatID, messageID,
			fmt.Sprintf("%s\n\nGrade %d. Next review in %s.", back, cb.Quality, days(item.Interval))))
		b.sendNextCard(ctx, chatID, user, cb.Kind)
	}
}

func (b *Bot) answer(queryID, text string) {
	if _, err := b.sender.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		b.logger.Warn("failed to answer callback", "err", err)
	}
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
