package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"quizbot/internal/app"
	"quizbot/internal/domain"
)

type fakeAPI struct {
	sent      []interface{}
	opts      [][]interface{}
	pinned    int
	responded int
	deleted   int
	pollID    string
	sendErr   error
}

func (f *fakeAPI) Send(_ tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, what)
	f.opts = append(f.opts, opts)
	msg := &tele.Message{ID: len(f.sent)}
	if _, ok := what.(*tele.Poll); ok {
		msg.Poll = &tele.Poll{ID: f.pollID}
	}
	return msg, nil
}

func (f *fakeAPI) Pin(tele.Editable, ...interface{}) error {
	f.pinned++
	return nil
}

func (f *fakeAPI) Respond(*tele.Callback, ...*tele.CallbackResponse) error {
	f.responded++
	return nil
}

func (f *fakeAPI) Delete(tele.Editable) error {
	f.deleted++
	return nil
}

type recordingHandler struct {
	events []app.Event
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, ev app.Event) error {
	h.events = append(h.events, ev)
	return h.err
}

func decode(t *testing.T, raw string) tele.Update {
	t.Helper()
	var u tele.Update
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return u
}

func TestEventFromTextMessage(t *testing.T) {
	u := decode(t, `{"update_id":1,"message":{"message_id":5,"from":{"id":77},"chat":{"id":77,"type":"private"},"date":0,"text":"/quiz"}}`)
	ev, ok := EventFromUpdate(u)
	require.True(t, ok)
	assert.Equal(t, app.EventText, ev.Kind)
	assert.EqualValues(t, 77, ev.UserID)
	assert.EqualValues(t, 77, ev.ChatID)
	assert.Equal(t, "/quiz", ev.Text)
}

func TestEventFromCallback(t *testing.T) {
	u := decode(t, `{"update_id":2,"callback_query":{"id":"cb","from":{"id":77},"message":{"message_id":9,"chat":{"id":77,"type":"private"},"date":0},"data":"1"}}`)
	ev, ok := EventFromUpdate(u)
	require.True(t, ok)
	assert.Equal(t, app.EventQuizSelected, ev.Kind)
	assert.Equal(t, 1, ev.QuizIndex)

	u.Callback.Data = "\fquiz|3"
	ev, ok = EventFromUpdate(u)
	require.True(t, ok)
	assert.Equal(t, 3, ev.QuizIndex)

	u.Callback.Data = "settings"
	_, ok = EventFromUpdate(u)
	assert.False(t, ok)
}

func TestEventFromPollAnswer(t *testing.T) {
	u := decode(t, `{"update_id":3,"poll_answer":{"poll_id":"P1","user":{"id":77},"option_ids":[2]}}`)
	ev, ok := EventFromUpdate(u)
	require.True(t, ok)
	assert.Equal(t, app.EventPollAnswer, ev.Kind)
	assert.Equal(t, "P1", ev.PollID)
	assert.Equal(t, []int{2}, ev.Options)

	retracted := decode(t, `{"update_id":4,"poll_answer":{"poll_id":"P1","user":{"id":77},"option_ids":[]}}`)
	ev, ok = EventFromUpdate(retracted)
	require.True(t, ok)
	assert.Empty(t, ev.Options)
}

func TestIgnoredUpdates(t *testing.T) {
	for _, raw := range []string{
		`{"update_id":5}`,
		`{"update_id":6,"message":{"message_id":1,"from":{"id":1},"chat":{"id":1,"type":"private"},"date":0}}`,
	} {
		_, ok := EventFromUpdate(decode(t, raw))
		assert.False(t, ok, raw)
	}
}

func TestDispatcherAcksAndDeletesMenu(t *testing.T) {
	api := &fakeAPI{}
	h := &recordingHandler{}
	d := NewDispatcher(api, h, nil)

	u := decode(t, `{"update_id":2,"callback_query":{"id":"cb","from":{"id":77},"message":{"message_id":9,"chat":{"id":77,"type":"private"},"date":0},"data":"0"}}`)
	require.NoError(t, d.HandleUpdate(context.Background(), u))
	assert.Equal(t, 1, api.responded)
	assert.Equal(t, 1, api.deleted)
	require.Len(t, h.events, 1)
	assert.Equal(t, 0, h.events[0].QuizIndex)
}

func TestDispatcherPropagatesFailureAndSkipsUnknown(t *testing.T) {
	h := &recordingHandler{err: domain.ErrHandlingFailed}
	d := NewDispatcher(&fakeAPI{}, h, nil)

	assert.NoError(t, d.HandleUpdate(context.Background(), tele.Update{ID: 1}))
	assert.Empty(t, h.events)

	u := decode(t, `{"update_id":3,"poll_answer":{"poll_id":"P1","user":{"id":77},"option_ids":[0]}}`)
	assert.ErrorIs(t, d.HandleUpdate(context.Background(), u), domain.ErrHandlingFailed)
}

func TestOutboundSendPoll(t *testing.T) {
	api := &fakeAPI{pollID: "poll-abc"}
	out := NewOutbound(api)

	id, err := out.SendPoll(context.Background(), 77, domain.PollSpec{Question: "2+2?", Options: []string{"3", "4"}, Correct: 1})
	require.NoError(t, err)
	assert.Equal(t, "poll-abc", id)

	poll := api.sent[0].(*tele.Poll)
	assert.Equal(t, tele.PollQuiz, poll.Type)
	assert.False(t, poll.Anonymous)
	assert.Equal(t, 1, poll.CorrectOption)
	require.Len(t, poll.Options, 2)
	assert.Equal(t, "4", poll.Options[1].Text)
}

func TestOutboundTextMenuAndPin(t *testing.T) {
	api := &fakeAPI{}
	out := NewOutbound(api)
	ctx := context.Background()

	require.NoError(t, out.SendText(ctx, 1, "<b>hi</b>", true))
	opts := api.opts[0][0].(*tele.SendOptions)
	assert.Equal(t, tele.ModeHTML, opts.ParseMode)

	require.NoError(t, out.SendPinned(ctx, 1, "welcome"))
	assert.Equal(t, 1, api.pinned)

	require.NoError(t, out.SendQuizMenu(ctx, 1, "pick", []string{"A", "B"}))
	markup := api.opts[2][0].(*tele.ReplyMarkup)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "B", markup.InlineKeyboard[1][0].Text)
	assert.Equal(t, "1", markup.InlineKeyboard[1][0].Data)
}

func TestOutboundErrors(t *testing.T) {
	out := NewOutbound(&fakeAPI{sendErr: errors.New("forbidden: bot was blocked by the user")})
	_, err := out.SendPoll(context.Background(), 1, domain.PollSpec{Options: []string{"a", "b"}})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewOutbound(&fakeAPI{}).SendText(ctx, 1, "x", false), context.Canceled)
}
