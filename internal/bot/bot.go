package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/telebot.v4"

	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/services/stats"
)

// Bot pushes run summaries and price drops to a Telegram chat and answers
// a couple of read-only commands. It is optional; the tracker runs fine
// without a configured token.
type Bot struct {
	bot    *telebot.Bot
	log    *slog.Logger
	stats  *stats.Service
	chatID int64
}

func NewBot(log *slog.Logger, token string, poller time.Duration, chatID int64, statsSvc *stats.Service) (*Bot, error) {
	tgBot, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: poller},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	log.Info("Authorized on account", "account", tgBot.Me.Username)

	botInstance := &Bot{bot: tgBot, log: log, stats: statsSvc, chatID: chatID}

	botInstance.registerRoutes()

	return botInstance, nil
}

// Start launches the bot to listen for updates.
func (b *Bot) Start() {
	b.log.Info("Telegram bot is starting...")
	b.bot.Start()
}

// Stop gracefully stops the Telegram bot and logs the action.
func (b *Bot) Stop() {
	b.log.Info("Telegram bot is stopped...")
	b.bot.Stop()
}

// registerRoutes configures all routes (commands).
func (b *Bot) registerRoutes() {
	b.bot.Handle("/start", b.startHandler)
	b.bot.Handle("/stats", b.statsHandler)
}

// NotifyRunSummary pushes one model's reconciliation result to the
// configured chat. Price drops are listed individually since those are
// what subscribers watch for.
func (b *Bot) NotifyRunSummary(summary models.RunSummary) error {
	if b.chatID == 0 {
		return nil
	}

	var msg strings.Builder
	msg.WriteString(summary.String())
	if len(summary.Decreases) > 0 {
		msg.WriteString("\n\nPrice drops:")
		for _, drop := range summary.Decreases {
			fmt.Fprintf(&msg, "\n%s: %.0f -> %.0f (%+.1f%%)",
				drop.Title, drop.PriceOld, drop.PriceNew, drop.PriceChangePercent)
		}
	}

	if _, err := b.bot.Send(telebot.ChatID(b.chatID), msg.String()); err != nil {
		return fmt.Errorf("failed to send run summary: %w", err)
	}

	return nil
}
