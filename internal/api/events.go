package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/assessment-composer/internal/composition"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is a frame pushed to console event subscribers
type StreamMessage struct {
	Type  string             `json:"type"`
	Data  string             `json:"data,omitempty"`
	Event *composition.Event `json:"event,omitempty"`
}

// handleEventsWS streams workspace events until the client goes away.
// The client sends nothing but control frames.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := ws.Subscribe(eventBuffer)
	defer unsubscribe()

	slog.Info("event stream connected",
		"console_id", ConsoleFromContext(r.Context()),
		"assessment_id", ws.AssessmentID(),
	)

	var writeMu sync.Mutex
	send := func(msg StreamMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(msg)
	}

	if err := send(StreamMessage{Type: "connected", Data: ws.AssessmentID()}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Read loop: keeps pong handling alive and notices the close
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	// Events -> WebSocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		// unblocks the read loop
		defer conn.Close()
		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					// workspace closed or evicted
					send(StreamMessage{Type: "closed", Data: "workspace closed"})
					return
				}
				if err := send(StreamMessage{Type: "event", Event: &ev}); err != nil {
					return
				}
			case <-ping.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	wg.Wait()
	slog.Info("event stream disconnected", "assessment_id", ws.AssessmentID())
}
