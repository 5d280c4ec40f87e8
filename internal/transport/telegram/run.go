package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"quizbot/internal/config"
)

// BuildPoller returns a webhook or long poller for the configured run mode.
func BuildPoller(cfg *config.Config) tele.Poller {
	if strings.EqualFold(cfg.Telegram.RunMode, config.RunModeWebhook) {
		return &tele.Webhook{
			Listen:   fmt.Sprintf("%s:%d", cfg.Webhook.Listen, cfg.Webhook.Port),
			Endpoint: &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
		}
	}
	timeoutSec := cfg.Telegram.LongPollTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &tele.LongPoller{
		Timeout:        time.Duration(timeoutSec) * time.Second,
		AllowedUpdates: []string{"message", "callback_query", "poll_answer"},
	}
}

// NewBot builds a bot. Offline bots skip getMe and never poll; they are used
// by the one-shot handle command.
func NewBot(cfg *config.Config, offline bool) (*tele.Bot, error) {
	settings := tele.Settings{
		Token:   cfg.Telegram.Token,
		Offline: offline,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
	if !offline {
		settings.Poller = BuildPoller(cfg)
	}
	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	return bot, nil
}

// Run starts receiving updates and blocks until ctx is done.
func Run(ctx context.Context, bot *tele.Bot, cfg *config.Config, log *slog.Logger) error {
	log = log.With("component", "tg")
	if cfg.Telegram.RunMode == config.RunModeLongpoll {
		if err := bot.RemoveWebhook(); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "",
				slog.String("event", "delete_webhook"),
				slog.String("err", err.Error()),
			)
		}
	}
	log.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "mode"),
		slog.String("mode", cfg.Telegram.RunMode),
	)

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
	case <-runDone:
	}
	return nil
}
