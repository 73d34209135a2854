package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/upwatch/upwatch/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth already happened in the JWT middleware; the stream carries no
	// mutations, so cross-origin reads are acceptable.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const eventBufferSize = 64

// handleEvents upgrades to a websocket and proxies engine events to the
// client. Optional query parameters filter the stream: `events` is a
// comma-separated list of event names, `monitors` a comma-separated list of
// monitor ids. A slow client has events dropped, not queued without bound.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var eventFilter []string
	if v := r.URL.Query().Get("events"); v != "" {
		eventFilter = strings.Split(v, ",")
	}
	var monitorFilter []int64
	if v := r.URL.Query().Get("monitors"); v != "" {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				sendError(w, r, http.StatusBadRequest, "INVALID_FILTER", "Invalid monitor id filter", nil)
				return
			}
			monitorFilter = append(monitorFilter, id)
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	events := make(chan eventbus.Event, eventBufferSize)
	listener := s.tracer.Listen(func(ev eventbus.Event) {
		select {
		case events <- ev:
		default:
			s.stats.Inc("EVENT", "ws_dropped")
		}
	}, eventFilter, monitorFilter)

	// Reader goroutine: we expect no client messages, but reading is needed
	// to detect a closed connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.tracer.StopListening(listener)
		conn.Close()
	}()

	for {
		select {
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
