package controller

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// tipMessage is pushed whenever the chain tip advances.
type tipMessage struct {
	Type   string `json:"type"` // "tip"
	Height uint64 `json:"height"`
}

// HandleTipSocket upgrades the connection and streams new chain tip heights,
// polling the tip cache so many sockets share the same upstream call.
func (c *Controller) HandleTipSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := r.Context()
	done := make(chan struct{})

	// Read pump: we never expect client messages, but reading is how we
	// notice the peer going away.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var last uint64
	for {
		tip, err := c.App.Scanner.Tip(ctx)
		if err == nil && tip != last {
			last = tip
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(tipMessage{Type: "tip", Height: tip}); err != nil {
				return
			}
		}

		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
