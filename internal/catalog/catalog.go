// Package catalog loads and validates the static quiz catalog.
//
// The source format is a list of {quiz_name, quiz_data} objects where
// quiz_data maps question text to {options, answer}. Question order is the
// mapping's insertion order, so the file is decoded through yaml.Node rather
// than into a Go map. JSON input is accepted as-is.
package catalog

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"quizbot/internal/domain"
)

// Telegram limits for quiz polls.
const (
	MinOptions = 2
	MaxOptions = 10
)

// Loader fetches the catalog from a backing source (file, database).
type Loader interface {
	LoadCatalog(ctx context.Context) (domain.Catalog, error)
}

// FileLoader reads the catalog from a JSON or YAML file.
type FileLoader struct {
	path string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) LoadCatalog(_ context.Context) (domain.Catalog, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("read catalog %s: %w", l.path, err)
	}
	return Parse(data)
}

type rawQuiz struct {
	Name string    `yaml:"quiz_name"`
	Data yaml.Node `yaml:"quiz_data"`
}

type rawQuestion struct {
	Options []string `yaml:"options"`
	Answer  *int     `yaml:"answer"`
}

// Parse decodes and validates catalog content.
func Parse(data []byte) (domain.Catalog, error) {
	var raw []rawQuiz
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.Catalog{}, fmt.Errorf("%w: %v", domain.ErrInvalidCatalog, err)
	}

	cat := domain.Catalog{Quizzes: make([]domain.Quiz, 0, len(raw))}
	for i, rq := range raw {
		quiz, err := decodeQuiz(rq)
		if err != nil {
			return domain.Catalog{}, fmt.Errorf("quiz %d: %w", i, err)
		}
		cat.Quizzes = append(cat.Quizzes, quiz)
	}
	if err := Validate(cat); err != nil {
		return domain.Catalog{}, err
	}
	return cat, nil
}

func decodeQuiz(rq rawQuiz) (domain.Quiz, error) {
	quiz := domain.Quiz{Name: rq.Name}
	if rq.Data.Kind != yaml.MappingNode {
		return quiz, fmt.Errorf("%w: quiz_data must be a mapping", domain.ErrInvalidCatalog)
	}
	// Mapping content alternates key, value.
	for i := 0; i+1 < len(rq.Data.Content); i += 2 {
		keyNode, valNode := rq.Data.Content[i], rq.Data.Content[i+1]
		var q rawQuestion
		if err := valNode.Decode(&q); err != nil {
			return quiz, fmt.Errorf("%w: question %d: %v", domain.ErrInvalidCatalog, i/2+1, err)
		}
		if q.Answer == nil {
			return quiz, fmt.Errorf("%w: question %d: missing field \"answer\"", domain.ErrInvalidCatalog, i/2+1)
		}
		quiz.Questions = append(quiz.Questions, domain.Question{
			Text:    keyNode.Value,
			Options: q.Options,
			Answer:  *q.Answer,
		})
	}
	return quiz, nil
}

// Validate checks structural rules that would otherwise corrupt sessions at
// selection time.
func Validate(cat domain.Catalog) error {
	if len(cat.Quizzes) == 0 {
		return fmt.Errorf("%w: no quizzes", domain.ErrInvalidCatalog)
	}
	for i, quiz := range cat.Quizzes {
		if quiz.Name == "" {
			return fmt.Errorf("%w: quiz %d has no name", domain.ErrInvalidCatalog, i)
		}
		if len(quiz.Questions) == 0 {
			return fmt.Errorf("%w: quiz %q has no questions", domain.ErrInvalidCatalog, quiz.Name)
		}
		for j, q := range quiz.Questions {
			if q.Text == "" {
				return fmt.Errorf("%w: quiz %q question %d is empty", domain.ErrInvalidCatalog, quiz.Name, j+1)
			}
			if n := len(q.Options); n < MinOptions || n > MaxOptions {
				return fmt.Errorf("%w: quiz %q question %d has %d options", domain.ErrInvalidCatalog, quiz.Name, j+1, n)
			}
			if q.Answer < 0 || q.Answer >= len(q.Options) {
				return fmt.Errorf("%w: quiz %q question %d answer %d out of range", domain.ErrInvalidCatalog, quiz.Name, j+1, q.Answer)
			}
		}
	}
	return nil
}

// Warnings lists content that will be rewritten when sent (long question or
// option text). It never fails.
func Warnings(cat domain.Catalog, questionLimit, optionLimit int) []string {
	var out []string
	for _, quiz := range cat.Quizzes {
		for j, q := range quiz.Questions {
			if utf8.RuneCountInString(q.Text) > questionLimit {
				out = append(out, fmt.Sprintf("%s: question %d exceeds %d characters", quiz.Name, j+1, questionLimit))
			}
			for k, o := range q.Options {
				if utf8.RuneCountInString(o) > optionLimit {
					out = append(out, fmt.Sprintf("%s: question %d option %d exceeds %d characters", quiz.Name, j+1, k+1, optionLimit))
				}
			}
		}
	}
	return out
}
