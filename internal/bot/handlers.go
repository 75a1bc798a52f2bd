package bot

import (
	"context"
	"fmt"

	"gopkg.in/telebot.v4"
)

// startHandler process command /start.
func (b *Bot) startHandler(ctx telebot.Context) error {
	b.log.Info("User started the bot", "username", ctx.Sender().Username)

	if err := ctx.Send("Hello! I track AutoScout24 Luxembourg listings. Use /stats for the current overview."); err != nil {
		return fmt.Errorf("failed to send greeting message: %w", err)
	}

	return nil
}

// statsHandler answers with the multi-model summary.
func (b *Bot) statsHandler(ctx telebot.Context) error {
	b.log.Info("User requested stats", "username", ctx.Sender().Username)

	summary, err := b.stats.Summary(context.Background())
	if err != nil {
		b.log.Error("failed to build stats summary", "error", err)
		return ctx.Send("Statistics are unavailable right now, try again later.")
	}

	if err := ctx.Send(summary); err != nil {
		return fmt.Errorf("failed to send stats message: %w", err)
	}

	return nil
}
