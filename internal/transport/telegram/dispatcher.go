package telegram

import (
	"context"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"quizbot/internal/app"
)

// EventHandler processes one decoded event (app.Executor).
type EventHandler interface {
	Handle(ctx context.Context, ev app.Event) error
}

// Dispatcher routes raw updates to the executor. It is shared by the
// long-running bot and the one-shot handle command.
type Dispatcher struct {
	api     API
	handler EventHandler
	log     *slog.Logger
}

func NewDispatcher(api API, handler EventHandler, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{api: api, handler: handler, log: log.With("component", "tg")}
}

// HandleUpdate processes one update. Updates the bot ignores succeed.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u tele.Update) error {
	ev, ok := EventFromUpdate(u)
	if !ok {
		d.log.LogAttrs(ctx, slog.LevelDebug, "",
			slog.String("event", "tg.update_ignored"),
			slog.Int("update_id", u.ID),
		)
		return nil
	}

	if ev.Kind == app.EventQuizSelected {
		// Ack the button and remove the menu.
		if err := d.api.Respond(u.Callback); err != nil {
			d.log.LogAttrs(ctx, slog.LevelWarn, "",
				slog.String("event", "tg.callback_ack_failed"),
				slog.String("err", err.Error()),
			)
		}
		if u.Callback.Message != nil {
			if err := d.api.Delete(u.Callback.Message); err != nil {
				d.log.LogAttrs(ctx, slog.LevelWarn, "",
					slog.String("event", "tg.menu_delete_failed"),
					slog.String("err", err.Error()),
				)
			}
		}
	}
	return d.handler.Handle(ctx, ev)
}

// Register binds the dispatcher to the bot's update endpoints. ctx bounds
// every handled update.
func (d *Dispatcher) Register(ctx context.Context, bot *tele.Bot) {
	h := func(c tele.Context) error {
		// The executor logs failures.
		_ = d.HandleUpdate(ctx, c.Update())
		return nil
	}
	bot.Handle(tele.OnText, h)
	bot.Handle(tele.OnCallback, h)
	bot.Handle(tele.OnPollAnswer, h)
}
