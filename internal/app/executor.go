package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"quizbot/internal/domain"
)

// EventKind identifies the inbound event shapes the bot reacts to.
type EventKind int

const (
	EventText EventKind = iota + 1
	EventQuizSelected
	EventPollAnswer
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventQuizSelected:
		return "quiz_selected"
	case EventPollAnswer:
		return "poll_answer"
	}
	return "unknown"
}

// Event is the transport-independent view of one update.
type Event struct {
	Kind   EventKind
	UserID int64
	ChatID int64

	Text      string
	QuizIndex int
	PollID    string
	Options   []int
}

// Outbound performs side effects on the messaging transport.
type Outbound interface {
	SendText(ctx context.Context, chatID int64, text string, html bool) error
	SendPinned(ctx context.Context, chatID int64, text string) error
	SendQuizMenu(ctx context.Context, chatID int64, prompt string, names []string) error
	// SendPoll sends a quiz poll and returns the transport-assigned poll id.
	SendPoll(ctx context.Context, chatID int64, poll domain.PollSpec) (string, error)
}

// ResultSink receives finished quiz attempts.
type ResultSink interface {
	PublishResult(ctx context.Context, result domain.QuizResult) error
}

// ExecutorOptions tunes the conversational surface and flush policy.
type ExecutorOptions struct {
	// Passphrase, when set, gates the quiz menu behind free text equal to it.
	Passphrase   string
	StartMessage string
	// FlushPerEvent writes dirty sessions at the end of every event. When false
	// the owner must call Flush periodically.
	FlushPerEvent bool
	Sinks         []ResultSink
	Logger        *slog.Logger
	Now           func() time.Time
}

// Executor bridges one inbound event to cache hydration, a state machine
// transition, outbound actions and the write-back.
type Executor struct {
	cache   *SessionCache
	machine *Machine
	out     Outbound
	opts    ExecutorOptions
	locks   *keyedMutex
	log     *slog.Logger
}

func NewExecutor(cache *SessionCache, machine *Machine, out Outbound, opts ExecutorOptions) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		cache:   cache,
		machine: machine,
		out:     out,
		opts:    opts,
		locks:   newKeyedMutex(),
		log:     opts.Logger.With("component", "executor"),
	}
}

// TextsFor returns the restart hint matching the passphrase mode.
func TextsFor(passphrase string) Texts {
	if passphrase != "" {
		return Texts{RestartHint: "Provide passphrase again to take again / another quiz."}
	}
	return DefaultTexts()
}

// Handle processes one event. It returns nil on success and an error wrapping
// domain.ErrHandlingFailed otherwise; it never panics.
func (e *Executor) Handle(ctx context.Context, ev Event) (err error) {
	unlock := e.locks.Lock(ev.UserID)
	defer unlock()

	start := e.opts.Now()
	log := e.log.With(
		slog.String("rid", uuid.NewString()),
		slog.Int64("user_id", ev.UserID),
		slog.String("kind", ev.Kind.String()),
	)

	defer func() {
		if r := recover(); r != nil {
			log.LogAttrs(ctx, slog.LevelError, "",
				slog.String("event", "executor.panic"),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: panic: %v", domain.ErrHandlingFailed, r)
		}
	}()

	if err := e.cache.MarkActive(ctx, ev.UserID); err != nil {
		return e.fail(ctx, log, ev, err)
	}

	var stale bool
	switch ev.Kind {
	case EventText:
		err = e.handleText(ctx, ev)
	case EventQuizSelected:
		err = e.handleSelect(ctx, ev)
	case EventPollAnswer:
		stale, err = e.handleAnswer(ctx, ev)
	default:
		err = fmt.Errorf("unsupported event kind %d", ev.Kind)
	}
	if err != nil {
		return e.fail(ctx, log, ev, err)
	}

	if e.opts.FlushPerEvent {
		if err := e.cache.Flush(ctx); err != nil {
			return e.fail(ctx, log, ev, err)
		}
		e.cache.Forget(ev.UserID)
	}

	log.LogAttrs(ctx, slog.LevelDebug, "",
		slog.String("event", "executor.handled"),
		slog.String("status", "ok"),
		slog.Bool("stale", stale),
		slog.Duration("took", e.opts.Now().Sub(start)),
	)
	return nil
}

// Flush writes all pending session changes. Long-lived deployments call it on
// a timer and at shutdown.
func (e *Executor) Flush(ctx context.Context) error {
	return e.cache.Flush(ctx)
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, ev Event, cause error) error {
	log.LogAttrs(ctx, slog.LevelError, "",
		slog.String("event", "executor.failed"),
		slog.String("status", "error"),
		slog.String("err", cause.Error()),
	)
	if domain.IsContentError(cause) && ev.UserID != 0 {
		if err := e.out.SendText(ctx, ev.UserID, "Sorry, something went wrong.", false); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "",
				slog.String("event", "executor.notify_failed"),
				slog.String("err", err.Error()),
			)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrHandlingFailed, cause)
}

func (e *Executor) handleText(ctx context.Context, ev Event) error {
	chatID := ev.ChatID
	if chatID == 0 {
		chatID = ev.UserID
	}
	text := strings.TrimSpace(ev.Text)
	command := parseCommand(text)

	if command == "/start" {
		msg := strings.TrimSpace(e.opts.StartMessage)
		if e.opts.Passphrase != "" {
			msg += " Please provide the passphrase to continue."
		} else {
			msg += " /quiz to continue."
		}
		return e.out.SendPinned(ctx, chatID, strings.TrimSpace(msg))
	}

	if e.opts.Passphrase != "" {
		switch {
		case command != "":
			return e.out.SendText(ctx, chatID, "You have to produce passphrase first before accessing quiz!", false)
		case text != e.opts.Passphrase:
			return e.out.SendText(ctx, chatID, "Wrong passphrase.", false)
		}
		return e.sendMenu(ctx, chatID)
	}

	if command == "/quiz" {
		return e.sendMenu(ctx, chatID)
	}
	return e.out.SendText(ctx, chatID, "/quiz to access quiz", false)
}

func (e *Executor) sendMenu(ctx context.Context, chatID int64) error {
	return e.out.SendQuizMenu(ctx, chatID, "Please select which quiz to take", e.machine.Catalog().Names())
}

func (e *Executor) handleSelect(ctx context.Context, ev Event) error {
	step, err := e.machine.Select(e.cache.Get(ev.UserID), ev.QuizIndex)
	if err != nil {
		return err
	}
	return e.apply(ctx, ev, step)
}

func (e *Executor) handleAnswer(ctx context.Context, ev Event) (bool, error) {
	step, err := e.machine.Answer(e.cache.Get(ev.UserID), ev.PollID, ev.Options)
	if err != nil {
		return false, err
	}
	return step.Stale, e.apply(ctx, ev, step)
}

func (e *Executor) apply(ctx context.Context, ev Event, step Step) error {
	sess := step.Session
	for _, action := range step.Actions {
		if action.Poll != nil {
			pollID, err := e.out.SendPoll(ctx, ev.UserID, *action.Poll)
			if err != nil {
				return fmt.Errorf("send poll: %w", err)
			}
			if pollID == "" {
				return errors.New("send poll: transport returned empty poll id")
			}
			sess = sess.WithPendingPoll(pollID, action.Poll.Correct)
			continue
		}
		if err := e.out.SendText(ctx, ev.UserID, action.Text, action.HTML); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}

	if step.Changed {
		e.cache.Update(ev.UserID, sess)
	}
	if step.Result != nil {
		result := *step.Result
		result.UserID = ev.UserID
		result.FinishedAt = e.opts.Now()
		e.publish(ctx, result)
	}
	return nil
}

func (e *Executor) publish(ctx context.Context, result domain.QuizResult) {
	for _, sink := range e.opts.Sinks {
		if err := sink.PublishResult(ctx, result); err != nil {
			e.log.LogAttrs(ctx, slog.LevelWarn, "",
				slog.String("event", "result.publish_failed"),
				slog.Int64("user_id", result.UserID),
				slog.String("err", err.Error()),
			)
		}
	}
}

// parseCommand returns "/name" for a leading bot command, dropping any
// "@botname" suffix and arguments, or "" for plain text.
func parseCommand(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}
