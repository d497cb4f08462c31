// Package bot is the operator console: a Telegram bot that reports pass
// failures and lets the operator inspect and force-check alerts.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"jobalert/internal/model"
	"jobalert/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Checker runs on-demand checks and exposes the last pass.
type Checker interface {
	CheckAlert(ctx context.Context, id int64) (model.AlertResult, error)
	LastReport() (model.PassReport, bool)
}

// Bot answers operator commands in a single Telegram chat.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	checker Checker
	chatID  int64
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Bot that only talks to chatID.
func New(token string, store storage.Storage, chatID int64, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:    api,
		store:  store,
		chatID: chatID,
		log:    log,
		now:    time.Now,
	}, nil
}

// SetChecker wires the scheduler used by /check and /status.
func (b *Bot) SetChecker(c Checker) { b.checker = c }

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.Chat == nil || update.Message.Chat.ID != b.chatID {
		chatID := int64(0)
		if update.Message.Chat != nil {
			chatID = update.Message.Chat.ID
		}
		b.log.Warn("command from unknown chat", "chat_id", chatID)
		b.reply(chatID, "Access denied.")
		return
	}
	b.handleCommand(ctx, update.Message)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if chatID == 0 {
		return
	}
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "users":
		b.handleUsers(ctx, chatID)
	case "alerts":
		b.handleAlerts(ctx, chatID, args)
	case "info":
		b.handleInfo(ctx, chatID, args)
	case "pause":
		b.handleSetActive(ctx, chatID, args, false)
	case "resume":
		b.handleSetActive(ctx, chatID, args, true)
	case "check":
		b.handleCheck(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
