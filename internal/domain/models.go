package domain

import "time"

// Question is a single multiple-choice entry of a quiz.
type Question struct {
	Text    string   `json:"question"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

// Quiz is a named, ordered list of questions.
type Quiz struct {
	Name      string     `json:"quiz_name"`
	Questions []Question `json:"questions"`
}

// Catalog is the ordered, read-only set of quizzes offered by the bot.
type Catalog struct {
	Quizzes []Quiz
}

// Quiz returns the quiz at index or ErrQuizOutOfRange.
func (c Catalog) Quiz(index int) (Quiz, error) {
	if index < 0 || index >= len(c.Quizzes) {
		return Quiz{}, ErrQuizOutOfRange
	}
	return c.Quizzes[index], nil
}

// Names lists quiz display names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c.Quizzes))
	for i, q := range c.Quizzes {
		names[i] = q.Name
	}
	return names
}

// PollSpec describes a quiz poll to be sent by the transport.
type PollSpec struct {
	Question string
	Options  []string
	Correct  int
}

// Action is one outbound side effect produced by a transition.
// Exactly one of Text or Poll is set.
type Action struct {
	Text string
	HTML bool
	Poll *PollSpec
}

// TextAction builds a plain text action.
func TextAction(text string) Action {
	return Action{Text: text}
}

// HTMLAction builds a text action rendered with HTML parse mode.
func HTMLAction(text string) Action {
	return Action{Text: text, HTML: true}
}

// QuizResult summarizes a finished attempt.
type QuizResult struct {
	UserID     int64     `json:"userId"`
	QuizIndex  int       `json:"quizIndex"`
	QuizName   string    `json:"quizName"`
	Score      int       `json:"score"`
	Total      int       `json:"total"`
	FinishedAt time.Time `json:"finishedAt"`
}
