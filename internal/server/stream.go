package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// handleEvents bridges the three bus topics onto a websocket. Each client
// gets its own bounded bus queues, so a slow websocket reader drops its own
// oldest events without affecting the pipeline or other clients.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The control API is same-host infrastructure; compositor UIs
		// connect from their own origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream terminated")

	var subs []*bus.Subscription
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()
	for _, topic := range []bus.Topic{bus.TopicScores, bus.TopicSwitch, bus.TopicNarration} {
		sub := s.bus.Subscribe(topic, bus.DefaultQueueSize)
		if sub == nil {
			conn.Close(websocket.StatusGoingAway, "event bus closed")
			return
		}
		subs = append(subs, sub)
	}

	// CloseRead cancels the context when the client disconnects; the bridge
	// is write-only after the handshake.
	ctx := conn.CloseRead(r.Context())
	s.log.Debug("event stream client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-subs[0].C():
			if !s.forward(ctx, conn, ev, ok) {
				return
			}
		case ev, ok := <-subs[1].C():
			if !s.forward(ctx, conn, ev, ok) {
				return
			}
		case ev, ok := <-subs[2].C():
			if !s.forward(ctx, conn, ev, ok) {
				return
			}
		}
	}
}

// forward writes one event to the client. Returns false when the stream
// should end, either because the bus closed or the write failed.
func (s *Server) forward(ctx context.Context, conn *websocket.Conn, ev types.Event, ok bool) bool {
	if !ok {
		conn.Close(websocket.StatusGoingAway, "event bus closed")
		return false
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("marshal event for stream", "type", ev.Type, "error", err)
		return true
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Debug("event stream client gone", "error", err)
		return false
	}
	return true
}
