package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventsBuffer     = 64
	eventsPingPeriod = 30 * time.Second
	eventsWriteWait  = 10 * time.Second
)

// handleEvents upgrades to a WebSocket and forwards every bus event as
// a JSON text frame. ?source= limits the feed to one event source.
// Events are dropped, not queued, for a slow reader.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event feed not configured")
		return
	}
	source := r.URL.Query().Get("source")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(eventsBuffer)
	defer s.bus.Unsubscribe(ch)
	s.logger.Debug("event feed client connected", "remote", r.RemoteAddr, "source", source)

	// The reader only notices the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			s.logger.Debug("event feed client disconnected", "remote", r.RemoteAddr)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if source != "" && ev.Source != source {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("event feed write failed", "error", err)
				}
				return
			}
		}
	}
}
