package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/prophet/internal/arena"
	"github.com/MrWong99/prophet/internal/observe"
)

// writeTimeout bounds a single event frame write.
const writeTimeout = 5 * time.Second

// snapshotFrame is the first frame of every event feed.
type snapshotFrame struct {
	Kind     string         `json:"kind"`
	Snapshot arena.Snapshot `json:"snapshot"`
}

// handleEvents upgrades to a WebSocket and streams arena events as JSON text
// frames. The feed starts with a snapshot so clients need no extra request.
// Messages from the client are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("event feed: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := s.svc.Arena().Subscribe()
	defer unsubscribe()

	// CloseRead handles pings and closes; its context ends with the peer.
	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx).With("remote", r.RemoteAddr)
	log.Debug("event feed: client connected")

	first := snapshotFrame{Kind: "snapshot", Snapshot: s.svc.Arena().Snapshot()}
	if err := writeFrame(ctx, conn, first); err != nil {
		log.Debug("event feed: write failed", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			log.Debug("event feed: client gone")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeFrame(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("event feed: write failed", "err", err)
				}
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
