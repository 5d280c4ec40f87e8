package telegram

import (
	"context"
	"errors"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"quizbot/internal/domain"
)

// API is the subset of *tele.Bot the transport calls.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Pin(msg tele.Editable, opts ...interface{}) error
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
	Delete(msg tele.Editable) error
}

// Outbound implements app.Outbound on top of the Bot API.
type Outbound struct {
	api API
}

func NewOutbound(api API) *Outbound {
	return &Outbound{api: api}
}

func (o *Outbound) SendText(ctx context.Context, chatID int64, text string, html bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if html {
		_, err := o.api.Send(tele.ChatID(chatID), text, &tele.SendOptions{ParseMode: tele.ModeHTML})
		return err
	}
	_, err := o.api.Send(tele.ChatID(chatID), text)
	return err
}

func (o *Outbound) SendPinned(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := o.api.Send(tele.ChatID(chatID), text)
	if err != nil {
		return err
	}
	return o.api.Pin(msg)
}

// SendQuizMenu sends one inline button per quiz. Callback data is the quiz
// index.
func (o *Outbound) SendQuizMenu(ctx context.Context, chatID int64, prompt string, names []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([][]tele.InlineButton, len(names))
	for i, name := range names {
		rows[i] = []tele.InlineButton{{Text: name, Data: strconv.Itoa(i)}}
	}
	_, err := o.api.Send(tele.ChatID(chatID), prompt, &tele.ReplyMarkup{InlineKeyboard: rows})
	return err
}

// SendPoll sends a non-anonymous quiz poll and returns its id.
func (o *Outbound) SendPoll(ctx context.Context, chatID int64, spec domain.PollSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	poll := &tele.Poll{
		Type:          tele.PollQuiz,
		Question:      spec.Question,
		CorrectOption: spec.Correct,
		Anonymous:     false,
	}
	poll.AddOptions(spec.Options...)

	msg, err := o.api.Send(tele.ChatID(chatID), poll)
	if err != nil {
		return "", err
	}
	if msg == nil || msg.Poll == nil {
		return "", errors.New("telegram: sent poll message has no poll")
	}
	return msg.Poll.ID, nil
}
