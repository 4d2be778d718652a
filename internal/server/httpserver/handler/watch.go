package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchBuffer     = 64
	watchWriteWait  = 5 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = watchPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWatch handles GET /v1/cseg/watch. The first frame is the current
// snapshot; each applied transition follows. Frames whose version is not
// above the snapshot's may be skipped by the client. A watcher that falls
// behind is disconnected with CloseTryAgainLater.
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Replica == nil {
		h.unavailable(w, r, "cseg")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	// Subscribe before reading the snapshot so nothing falls in between.
	events, cancel := h.deps.Replica.Watch(watchBuffer)
	defer cancel()

	snap := h.deps.Replica.Tree().Snapshot()
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	if err := conn.WriteJSON(WatchMessage{Type: "snapshot", Version: snap.Version, Leaves: snap.Leaves, Snapshot: snap}); err != nil {
		return
	}

	logger := h.logger.With("remote", r.RemoteAddr)
	logger.Debug("tree watcher connected", "version", snap.Version)

	// Reader: only control frames are expected; any error ends the watch.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				logger.Warn("tree watcher lagged, disconnecting")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "watcher lagged"),
					time.Now().Add(time.Second))
				return
			}
			t := ev.Transition
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(WatchMessage{Type: "transition", Version: ev.Version, Leaves: ev.Leaves, Transition: &t}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-h.streams:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
