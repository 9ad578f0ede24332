package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The event stream is read-only telemetry; cross-origin dashboards may
	// subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// handleEventStream upgrades to a websocket and forwards every task event
// as one JSON message. The subscription queue is bounded with drop-oldest,
// so a slow client loses events rather than stalling the orchestrator.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := s.bus.SubscribeAll()
	defer s.bus.UnsubscribeAll(ch)

	// Reader goroutine: drain control frames and signal close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug("websocket write failed, dropping subscriber", zap.Error(err))
				return
			}
		}
	}
}
