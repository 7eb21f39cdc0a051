package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/coyapp/chat-service/internal/projection"
)

const (
	readLimit    = 64 * 1024
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Connection pipes one subscription's snapshots to one websocket client and
// folds the client's receipt acks back into the ledger.
type Connection struct {
	ws     *websocket.Conn
	sub    *projection.Subscription
	acks   AckSink
	uid    string
	chatID string
	cancel context.CancelFunc
}

// AckSink receives delivery/read acknowledgements sent over the socket.
type AckSink interface {
	MarkDelivered(ctx context.Context, messageID, uid string) error
	MarkRead(ctx context.Context, messageID, uid string) error
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case view, ok := <-c.sub.Updates():
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			b, err := json.Marshal(view)
			if err != nil {
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.cancel()
		c.sub.Close()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var ack struct {
			Type      string `json:"type"`
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(data, &ack); err != nil || ack.MessageID == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		switch ack.Type {
		case "delivered":
			_ = c.acks.MarkDelivered(ctx, ack.MessageID, c.uid)
		case "read":
			_ = c.acks.MarkRead(ctx, ack.MessageID, c.uid)
		}
		cancel()
	}
}
