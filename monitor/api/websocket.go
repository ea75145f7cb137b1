package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWebSocket streams live collector samples to one client. Each
// connection holds its own feed subscription; a slow client misses samples
// instead of stalling the collector.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no active collection in this process", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	samples, cancel := s.feed.Subscribe()
	defer cancel()
	defer conn.Close()

	s.log.WithField("remote", r.RemoteAddr).Debug("WebSocket client connected")

	// Reader goroutine: drain control frames and detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case sample, ok := <-samples:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(sample); err != nil {
				s.log.WithError(err).Debug("WebSocket write failed, dropping client")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
