package app

import (
	"context"
	"sync"

	"quizbot/internal/domain"
)

// ResultHub fans finished attempts out to in-process subscribers (the
// websocket results feed). Slow subscribers lose the oldest buffered result.
type ResultHub struct {
	mu          sync.Mutex
	subscribers map[chan domain.QuizResult]struct{}
	buffer      int
}

func NewResultHub(buffer int) *ResultHub {
	if buffer <= 0 {
		buffer = 8
	}
	return &ResultHub{
		subscribers: make(map[chan domain.QuizResult]struct{}),
		buffer:      buffer,
	}
}

// Subscribe returns a channel of results. The caller must invoke the returned
// cancel function to avoid leaks.
func (h *ResultHub) Subscribe() (<-chan domain.QuizResult, func()) {
	ch := make(chan domain.QuizResult, h.buffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// PublishResult implements ResultSink. It never blocks.
func (h *ResultHub) PublishResult(_ context.Context, result domain.QuizResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- result:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- result
		}
	}
	return nil
}

// Subscribers reports the number of live subscriptions.
func (h *ResultHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
