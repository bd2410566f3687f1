package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/bus"
	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/proto"
	"github.com/vovakirdan/wirechat-bots/internal/utils"
)

// streamBuffer is how many frames are queued ahead of the socket writer.
// Beyond it the bus mailbox holds the backlog.
const streamBuffer = 256

// WSHandler upgrades HTTP connections into read-only observer streams of bus events.
type WSHandler struct {
	bus *bus.Bus
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(b *bus.Bus, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{bus: b, log: logger}
}

// streamObserver buffers bus events for one websocket client. A slow client
// delays only its own mailbox; every event is delivered until the socket ends.
type streamObserver struct {
	room   string
	frames chan proto.StreamFrame
	done   chan struct{}
}

func (o *streamObserver) push(ev core.Event) {
	if o.room != "" {
		if r := eventRoom(ev); r != "" && r != o.room {
			return
		}
	}
	select {
	case o.frames <- frameFromEvent(ev):
	case <-o.done:
	}
}

func (o *streamObserver) OnMessage(m core.Message) {
	o.push(core.Event{Kind: core.EventMessage, Message: m})
}

func (o *streamObserver) OnPresenceJoin(p core.Presence) {
	o.push(core.Event{Kind: core.EventPresenceJoin, Presence: p})
}

func (o *streamObserver) OnPresenceLeave(p core.Presence) {
	o.push(core.Event{Kind: core.EventPresenceLeave, Presence: p})
}

func (o *streamObserver) OnLog(e core.LogEntry) {
	o.push(core.Event{Kind: core.EventLog, Log: e})
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	clientID := utils.NewSessionID()
	obs := &streamObserver{
		room:   r.URL.Query().Get("room"),
		frames: make(chan proto.StreamFrame, streamBuffer),
		done:   make(chan struct{}),
	}
	unsubscribe := h.bus.Subscribe("stream:"+clientID, obs)
	defer unsubscribe()
	// Runs before unsubscribe so a blocked push cannot stall it.
	defer close(obs.done)

	// The stream is read-only; CloseRead handles control frames and
	// cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	err = h.writeLoop(ctx, conn, obs)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		h.log.Debug().Err(err).Str("client_id", clientID).Msg("observer stream closed")
		conn.Close(websocket.StatusInternalError, "write failed")
	default:
		conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, obs *streamObserver) error {
	for {
		select {
		case frame := <-obs.frames:
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
