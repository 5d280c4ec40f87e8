package app_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"quizbot/internal/app"
	"quizbot/internal/domain"
	"quizbot/internal/infra/memory"
)

// countingStore wraps the in-memory store and records every call.
type countingStore struct {
	*memory.SessionStore

	mu       sync.Mutex
	getMany  int
	saves    int
	written  int
	failSave error
}

func newCountingStore() *countingStore {
	return &countingStore{SessionStore: memory.NewSessionStore()}
}

func (s *countingStore) GetMany(ctx context.Context, ids []int64) (map[int64]domain.UserSession, error) {
	s.mu.Lock()
	s.getMany++
	s.mu.Unlock()
	return s.SessionStore.GetMany(ctx, ids)
}

func (s *countingStore) Save(ctx context.Context, batch map[int64]domain.UserSession) error {
	s.mu.Lock()
	s.saves++
	fail := s.failSave
	if fail == nil {
		s.written += len(batch)
	}
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.SessionStore.Save(ctx, batch)
}

func (s *countingStore) counts() (getMany, saves, written int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getMany, s.saves, s.written
}

// gatedStore reads the store on GetMany, then parks the call until the test
// releases it. Once open is set, calls pass straight through.
type gatedStore struct {
	*countingStore
	calls chan gatedCall
	open  atomic.Bool
}

type gatedCall struct {
	ids     []int64
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{countingStore: newCountingStore(), calls: make(chan gatedCall, 8)}
}

func (s *gatedStore) GetMany(ctx context.Context, ids []int64) (map[int64]domain.UserSession, error) {
	res, err := s.countingStore.GetMany(ctx, ids)
	if s.open.Load() {
		return res, err
	}
	call := gatedCall{ids: ids, release: make(chan struct{})}
	s.calls <- call
	<-call.release
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return res, err
}

type sent struct {
	chatID int64
	text   string
	html   bool
	pinned bool
	menu   []string
	poll   *domain.PollSpec
	pollID string
}

// recordingOutbound captures outbound actions and assigns sequential poll ids.
type recordingOutbound struct {
	mu       sync.Mutex
	sent     []sent
	nextPoll int
	failPoll error
}

func (o *recordingOutbound) SendText(_ context.Context, chatID int64, text string, html bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sent{chatID: chatID, text: text, html: html})
	return nil
}

func (o *recordingOutbound) SendPinned(_ context.Context, chatID int64, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sent{chatID: chatID, text: text, pinned: true})
	return nil
}

func (o *recordingOutbound) SendQuizMenu(_ context.Context, chatID int64, prompt string, names []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sent{chatID: chatID, text: prompt, menu: names})
	return nil
}

func (o *recordingOutbound) SendPoll(_ context.Context, chatID int64, poll domain.PollSpec) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failPoll != nil {
		return "", o.failPoll
	}
	o.nextPoll++
	id := fmt.Sprintf("poll-%d", o.nextPoll)
	p := poll
	o.sent = append(o.sent, sent{chatID: chatID, poll: &p, pollID: id})
	return id, nil
}

func (o *recordingOutbound) all() []sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sent(nil), o.sent...)
}

func (o *recordingOutbound) polls() []sent {
	var out []sent
	for _, s := range o.all() {
		if s.poll != nil {
			out = append(out, s)
		}
	}
	return out
}

func (o *recordingOutbound) lastPoll() sent {
	p := o.polls()
	if len(p) == 0 {
		return sent{}
	}
	return p[len(p)-1]
}

func (o *recordingOutbound) texts() []string {
	var out []string
	for _, s := range o.all() {
		if s.poll == nil {
			out = append(out, s.text)
		}
	}
	return out
}

func (o *recordingOutbound) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = nil
}

func twoQuestionCatalog() domain.Catalog {
	return domain.Catalog{Quizzes: []domain.Quiz{
		{
			Name: "Arithmetic",
			Questions: []domain.Question{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, Answer: 1},
				{Text: "What is 3 * 3?", Options: []string{"9", "6"}, Answer: 0},
			},
		},
		{
			Name: "Single",
			Questions: []domain.Question{
				{Text: "Is water wet?", Options: []string{"yes", "no"}, Answer: 0},
			},
		},
	}}
}

type recordingSink struct {
	mu      sync.Mutex
	results []domain.QuizResult
}

func (s *recordingSink) PublishResult(_ context.Context, r domain.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

var _ app.Outbound = (*recordingOutbound)(nil)
var _ app.SessionStore = (*countingStore)(nil)
var _ app.SessionStore = (*gatedStore)(nil)
