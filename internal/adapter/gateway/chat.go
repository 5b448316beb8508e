package gateway

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/sse"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"toolbridge/internal/domain"
	"toolbridge/internal/usecase/orchestrator"
)

const (
	// wsTurnReadTimeout bounds the wait for the opening turn frame.
	wsTurnReadTimeout = 30 * time.Second
	wsWriteTimeout    = 5 * time.Second
)

// handleChat streams one turn as server-sent events. Each event is named
// after its type and carries the full StreamEvent as JSON data.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var turn orchestrator.Turn
	if err := decodeJSON(r, &turn); err != nil {
		writeError(w, err)
		return
	}

	events, err := s.chat.Start(r.Context(), turn)
	if err != nil {
		writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for ev := range events {
		if err := sse.Encode(w, sse.Event{Event: string(ev.Type), Data: ev}); err != nil {
			s.logger.Debug("sse write failed", "turn_id", ev.TurnID, "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			s.logger.Debug("sse flush failed", "turn_id", ev.TurnID, "error", err)
			return
		}
	}
}

// handleChatWS runs one turn over a WebSocket. The client sends a single
// turn frame and then only receives; the server closes normally after the
// terminal event.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.CloseNow()

	readCtx, cancel := context.WithTimeout(r.Context(), wsTurnReadTimeout)
	var turn orchestrator.Turn
	err = wsjson.Read(readCtx, ws, &turn)
	cancel()
	if err != nil {
		s.logger.Debug("websocket turn frame rejected", "error", err)
		ws.Close(websocket.StatusUnsupportedData, "expected a JSON turn frame")
		return
	}

	// Further client frames are not read. The returned context ends when
	// the peer goes away, which cancels the turn.
	ctx := ws.CloseRead(r.Context())

	events, err := s.chat.Start(ctx, turn)
	if err != nil {
		ev := domain.StreamEvent{
			Type:    domain.EventError,
			Payload: domain.ErrorPayload{Error: err.Error(), Code: domain.ErrorCodeOf(err)},
		}
		if s.writeFrame(ctx, ws, ev) == nil {
			ws.Close(websocket.StatusNormalClosure, "turn rejected")
		}
		return
	}

	for ev := range events {
		if err := s.writeFrame(ctx, ws, ev); err != nil {
			s.logger.Debug("websocket write failed", "turn_id", ev.TurnID, "error", err)
			return
		}
		if ev.Type.Terminal() {
			ws.Close(websocket.StatusNormalClosure, "turn complete")
			return
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, ws *websocket.Conn, ev domain.StreamEvent) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}

// originPatterns allows local development origins plus the configured ones.
func (s *Server) originPatterns() []string {
	patterns := []string{
		"localhost",
		"localhost:*",
		"127.0.0.1",
		"127.0.0.1:*",
		"[::1]",
		"[::1]:*",
	}
	for _, origin := range s.cfg.AllowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		patterns = append(patterns, origin)
	}
	return patterns
}
