package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quizbot/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ResultSource is the fan-out the feed reads from (app.ResultHub).
type ResultSource interface {
	Subscribe() (<-chan domain.QuizResult, func())
}

// ResultsHandler streams finished quiz attempts to websocket clients.
type ResultsHandler struct {
	source   ResultSource
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewResultsHandler(source ResultSource, log *slog.Logger) *ResultsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ResultsHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With("component", "http.results"),
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request and pushes one "result" message per finished
// attempt until the client goes away. Inbound frames are read only to notice
// the close.
func (h *ResultsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.LogAttrs(r.Context(), slog.LevelWarn, "",
			slog.String("event", "ws.upgrade_failed"),
			slog.String("err", err.Error()),
		)
		return
	}
	defer conn.Close()

	results, cancel := h.source.Subscribe()
	defer cancel()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := h.write(conn, outboundMessage[struct{}]{Type: "subscribed"}); err != nil {
		return
	}
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := h.write(conn, outboundMessage[domain.QuizResult]{Type: "result", Payload: res}); err != nil {
				h.log.LogAttrs(r.Context(), slog.LevelDebug, "",
					slog.String("event", "ws.write_failed"),
					slog.String("err", err.Error()),
				)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *ResultsHandler) write(conn *websocket.Conn, msg any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// NewMux wires the ops endpoints: /healthz and /ws/results.
func NewMux(results *ResultsHandler, health func(*http.Request) error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r); err != nil {
				w.Header().Set("X-Store-Status", "degraded")
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/results", results.ServeWS)
	return mux
}
