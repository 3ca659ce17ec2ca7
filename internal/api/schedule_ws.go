package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsEvent struct {
	Type       string         `json:"type"`
	ScheduleID string         `json:"scheduleId"`
	Data       map[string]any `json:"data,omitempty"`
	TS         string         `json:"ts"`
}

// scheduleEventsWS streams schedule lifecycle events over a WebSocket.
// Same fan-out as the SSE stream, for clients behind proxies that buffer SSE.
func (s *Server) scheduleEventsWS(w http.ResponseWriter, r *http.Request, id string) {
	_, tenant := s.withTenant(r)
	if _, err := s.Store.GetSchedule(r.Context(), tenant, id); err != nil {
		writeEngineError(w, err, r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	done := make(chan struct{})
	// Drain control frames so pongs are processed; any read error ends the session.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt := <-ch:
			out := wsEvent{Type: evt.Type, ScheduleID: id, Data: evt.Data, TS: time.Now().Format(time.RFC3339)}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
