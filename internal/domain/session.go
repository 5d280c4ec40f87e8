package domain

import (
	"encoding/json"
	"fmt"
	"maps"
)

const (
	fieldScore  = "score"
	fieldNumber = "number"
	fieldQuiz   = "quiz_number"
)

// UserSession is one user's progress through a quiz.
// QuizIndex is nil while the user is idle.
type UserSession struct {
	QuizIndex      *int
	QuestionNumber int
	Score          int
	PendingPolls   map[string]int
}

// DefaultSession returns the idle session used for unknown users.
func DefaultSession() UserSession {
	return UserSession{PendingPolls: map[string]int{}}
}

// NewAttempt starts a fresh attempt of quiz index.
func NewAttempt(index int) UserSession {
	return UserSession{
		QuizIndex:    &index,
		PendingPolls: map[string]int{},
	}
}

// InProgress reports whether a quiz is selected.
func (s UserSession) InProgress() bool {
	return s.QuizIndex != nil
}

// Clone returns a deep copy so cached values never alias caller values.
func (s UserSession) Clone() UserSession {
	out := UserSession{
		QuestionNumber: s.QuestionNumber,
		Score:          s.Score,
		PendingPolls:   make(map[string]int, len(s.PendingPolls)),
	}
	if s.QuizIndex != nil {
		idx := *s.QuizIndex
		out.QuizIndex = &idx
	}
	maps.Copy(out.PendingPolls, s.PendingPolls)
	return out
}

// Equal reports structural equality. A nil and an empty poll map are equal.
func (s UserSession) Equal(o UserSession) bool {
	if s.InProgress() != o.InProgress() {
		return false
	}
	if s.InProgress() && *s.QuizIndex != *o.QuizIndex {
		return false
	}
	return s.QuestionNumber == o.QuestionNumber &&
		s.Score == o.Score &&
		len(s.PendingPolls) == len(o.PendingPolls) &&
		maps.Equal(s.PendingPolls, o.PendingPolls)
}

// WithPendingPoll returns a copy whose pending map holds only pollID.
func (s UserSession) WithPendingPoll(pollID string, correct int) UserSession {
	out := s.Clone()
	out.PendingPolls = map[string]int{pollID: correct}
	return out
}

// MarshalJSON writes the flat record layout:
// {"<poll_id>": correct, "score": n, "number": n, "quiz_number": n}.
func (s UserSession) MarshalJSON() ([]byte, error) {
	record := make(map[string]int, len(s.PendingPolls)+3)
	for pollID, correct := range s.PendingPolls {
		record[pollID] = correct
	}
	record[fieldScore] = s.Score
	if s.InProgress() {
		record[fieldNumber] = s.QuestionNumber
		record[fieldQuiz] = *s.QuizIndex
	}
	return json.Marshal(record)
}

// UnmarshalJSON reads the flat record layout. Any non-integer value is rejected.
func (s *UserSession) UnmarshalJSON(data []byte) error {
	var record map[string]json.Number
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	out := DefaultSession()
	var number *int
	for key, raw := range record {
		v, err := raw.Int64()
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrCorruptRecord, key, err)
		}
		n := int(v)
		switch key {
		case fieldScore:
			out.Score = n
		case fieldNumber:
			number = &n
		case fieldQuiz:
			out.QuizIndex = &n
		default:
			out.PendingPolls[key] = n
		}
	}

	if (number == nil) != (out.QuizIndex == nil) {
		return fmt.Errorf("%w: quiz_number and number must be set together", ErrCorruptRecord)
	}
	if number != nil {
		out.QuestionNumber = *number
	}
	if out.Score < 0 || out.QuestionNumber < 0 {
		return fmt.Errorf("%w: negative counters", ErrCorruptRecord)
	}
	*s = out
	return nil
}
