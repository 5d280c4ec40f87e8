// Package telegram adapts telebot updates and API calls to the quiz executor.
package telegram

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"quizbot/internal/app"
)

// EventFromUpdate converts an update into an executor event. It reports false
// for updates the bot does not react to.
func EventFromUpdate(u tele.Update) (app.Event, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.Sender == nil || m.Text == "" {
			return app.Event{}, false
		}
		ev := app.Event{Kind: app.EventText, UserID: m.Sender.ID, ChatID: m.Sender.ID, Text: m.Text}
		if m.Chat != nil {
			ev.ChatID = m.Chat.ID
		}
		return ev, true

	case u.Callback != nil:
		cb := u.Callback
		if cb.Sender == nil {
			return app.Event{}, false
		}
		index, err := strconv.Atoi(callbackPayload(cb.Data))
		if err != nil {
			return app.Event{}, false
		}
		ev := app.Event{Kind: app.EventQuizSelected, UserID: cb.Sender.ID, ChatID: cb.Sender.ID, QuizIndex: index}
		if cb.Message != nil && cb.Message.Chat != nil {
			ev.ChatID = cb.Message.Chat.ID
		}
		return ev, true

	case u.PollAnswer != nil:
		pa := u.PollAnswer
		if pa.Sender == nil || pa.PollID == "" {
			return app.Event{}, false
		}
		return app.Event{
			Kind:    app.EventPollAnswer,
			UserID:  pa.Sender.ID,
			ChatID:  pa.Sender.ID,
			PollID:  pa.PollID,
			Options: append([]int(nil), pa.Options...),
		}, true
	}
	return app.Event{}, false
}

// callbackPayload strips telebot's "\funique|" prefix, if any.
func callbackPayload(data string) string {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "\f") {
		if _, payload, ok := strings.Cut(data[1:], "|"); ok {
			return payload
		}
		return ""
	}
	return data
}
