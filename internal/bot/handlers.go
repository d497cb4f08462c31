package bot

import (
	"context"
	"errors"
	"fmt"

	"jobalert/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Job alert operator console.

You will get a summary here whenever a pass has failures.
Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/status - last pass and totals
/users - registered users
/alerts <email> - alerts of a user
/info <id> - alert details
/pause <id> - stop checking an alert
/resume <id> - resume checking an alert
/check <id> - check an alert now`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	active, err := b.store.ListActiveAlerts(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	text := "No pass has finished yet."
	if b.checker != nil {
		if report, ok := b.checker.LastReport(); ok {
			text = FormatPassSummary(report)
		}
	}
	b.reply(chatID, fmt.Sprintf("%d users, %d active alerts.\n\n%s", len(users), len(active), text))
}

func (b *Bot) handleUsers(ctx context.Context, chatID int64) {
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatUserList(users, b.now()))
}

func (b *Bot) handleAlerts(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /alerts <email>")
		return
	}

	u, err := b.store.GetUserByEmail(ctx, args)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("User %s not found.", args))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	alerts, err := b.store.ListAlertsByUser(ctx, u.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatAlertList(u.Email, alerts, b.now()))
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /info <id>")
		return
	}

	a, err := b.store.GetAlert(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Alert #%d not found.", id))
		return
	}
	b.reply(chatID, FormatAlertInfo(a, b.now()))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	usage, done := "Usage: /pause <id>", "paused"
	if active {
		usage, done = "Usage: /resume <id>", "resumed"
	}

	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, usage)
		return
	}

	a, err := b.store.GetAlert(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Alert #%d not found.", id))
		return
	}

	if err := b.store.SetAlertActive(ctx, id, active); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("alert toggled", "alert_id", id, "active", active)
	b.reply(chatID, fmt.Sprintf("Alert #%d %q %s.", id, a.Query, done))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /check <id>")
		return
	}
	if b.checker == nil {
		b.reply(chatID, "Checks are not available.")
		return
	}

	res, err := b.checker.CheckAlert(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Alert #%d not found.", id))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Check of #%d failed: %v", id, err))
		return
	}
	b.reply(chatID, FormatCheckResult(res))
}
