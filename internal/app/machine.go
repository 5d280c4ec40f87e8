package app

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"quizbot/internal/domain"
)

const (
	// QuestionLimit is the longest question text Telegram accepts in a poll.
	QuestionLimit = 300
	// OptionLimit is the longest option text Telegram accepts in a poll.
	OptionLimit = 100
	// QuestionPlaceholder replaces an overlong poll question.
	QuestionPlaceholder = "Options:"
)

// Texts holds the user-facing copy that differs between deployments.
type Texts struct {
	// RestartHint tells the user how to pick a quiz again.
	RestartHint string
}

// DefaultTexts returns copy for command-driven mode (/quiz).
func DefaultTexts() Texts {
	return Texts{RestartHint: "/quiz to take again / another quiz."}
}

// Step is the outcome of one transition: the next session and the actions to
// perform in order. Poll ids returned by the transport for PollSpec actions
// must be registered on Session before it is stored.
type Step struct {
	Session domain.UserSession
	Actions []domain.Action
	Result  *domain.QuizResult
	// Stale is set when an answer referenced an unknown poll or no quiz was in
	// progress. Session is unchanged in that case.
	Stale   bool
	Changed bool
}

// Machine implements quiz progress transitions. It is pure: no I/O, no
// blocking.
type Machine struct {
	catalog     domain.Catalog
	texts       Texts
	notifyStale bool
}

func NewMachine(catalog domain.Catalog, texts Texts, notifyStale bool) *Machine {
	return &Machine{catalog: catalog, texts: texts, notifyStale: notifyStale}
}

// Catalog exposes the quizzes the machine was built with.
func (m *Machine) Catalog() domain.Catalog {
	return m.catalog
}

// Select starts a new attempt of quiz index regardless of the current state.
func (m *Machine) Select(_ domain.UserSession, index int) (Step, error) {
	quiz, err := m.catalog.Quiz(index)
	if err != nil {
		return Step{}, fmt.Errorf("select quiz %d of %d: %w", index, len(m.catalog.Quizzes), err)
	}

	actions := []domain.Action{
		domain.TextAction(fmt.Sprintf("You are taking quiz: %s. There are %d questions.", quiz.Name, len(quiz.Questions))),
	}
	actions = append(actions, QuestionActions(quiz.Questions[0])...)
	return Step{
		Session: domain.NewAttempt(index),
		Actions: actions,
		Changed: true,
	}, nil
}

// Answer applies a poll answer. options are the chosen option indices.
func (m *Machine) Answer(sess domain.UserSession, pollID string, options []int) (Step, error) {
	if !sess.InProgress() {
		step := Step{Session: sess, Stale: true}
		if m.notifyStale {
			step.Actions = []domain.Action{domain.TextAction("Sorry, no quiz is in progress. " + m.texts.RestartHint)}
		}
		return step, nil
	}

	correct, ok := sess.PendingPolls[pollID]
	if !ok {
		step := Step{Session: sess, Stale: true}
		if m.notifyStale {
			step.Actions = []domain.Action{domain.TextAction("You may be answering an older quiz.")}
		}
		return step, nil
	}
	if len(options) == 0 {
		// Retracted vote.
		return Step{Session: sess}, nil
	}

	quiz, err := m.catalog.Quiz(*sess.QuizIndex)
	if err != nil {
		return Step{}, fmt.Errorf("answer for quiz %d: %w", *sess.QuizIndex, err)
	}

	next := sess.Clone()
	next.PendingPolls = map[string]int{}
	var actions []domain.Action
	if options[0] == correct {
		next.Score++
	} else {
		actions = append(actions, domain.TextAction(fmt.Sprintf("Wrong answer. Your current score is %d.", next.Score)))
	}
	next.QuestionNumber++

	if next.QuestionNumber < len(quiz.Questions) {
		actions = append(actions, QuestionActions(quiz.Questions[next.QuestionNumber])...)
		return Step{Session: next, Actions: actions, Changed: true}, nil
	}

	total := len(quiz.Questions)
	actions = append(actions, domain.TextAction(fmt.Sprintf(
		"Congrats! You have reached the end of the quiz. Your score is %d out of %d questions. %s",
		next.Score, total, m.texts.RestartHint)))
	return Step{
		Session: domain.DefaultSession(),
		Actions: actions,
		Changed: true,
		Result: &domain.QuizResult{
			QuizIndex: *sess.QuizIndex,
			QuizName:  quiz.Name,
			Score:     next.Score,
			Total:     total,
		},
	}, nil
}

// QuestionActions renders one question as Telegram-safe actions: an optional
// message with the full question, an optional message with overlong options,
// then the poll.
func QuestionActions(q domain.Question) []domain.Action {
	var actions []domain.Action

	question := q.Text
	if utf8.RuneCountInString(question) > QuestionLimit {
		actions = append(actions, domain.HTMLAction(html.EscapeString(question)))
		question = QuestionPlaceholder
	}

	options := make([]string, len(q.Options))
	var companion strings.Builder
	for i, o := range q.Options {
		if utf8.RuneCountInString(o) > OptionLimit {
			fmt.Fprintf(&companion, "<b>Option %d:</b> %s\n", i+1, html.EscapeString(o))
			options[i] = fmt.Sprintf("Refer to Option %d", i+1)
			continue
		}
		options[i] = o
	}
	if companion.Len() > 0 {
		actions = append(actions, domain.HTMLAction(strings.TrimSuffix(companion.String(), "\n")))
	}

	actions = append(actions, domain.Action{Poll: &domain.PollSpec{
		Question: question,
		Options:  options,
		Correct:  q.Answer,
	}})
	return actions
}
