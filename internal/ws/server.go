package ws

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/projection"
)

// Server upgrades authenticated clients onto live room projections. Each
// connection watches exactly one room; the client opens one socket per open
// chat screen.
type Server struct {
	mgr  *projection.Manager
	acks AckSink
	log  *zap.SugaredLogger
}

func NewServer(mgr *projection.Manager, acks AckSink, log *zap.SugaredLogger) *Server {
	return &Server{mgr: mgr, acks: acks, log: log}
}

// HandleRoom is the websocket.Handler for /ws/chats/:chat_id. Locals set by
// the auth middleware survive the upgrade.
func (s *Server) HandleRoom(conn *websocket.Conn) {
	uid, _ := conn.Locals("user_id").(string)
	chatID := conn.Params("chat_id")
	if uid == "" || chatID == "" {
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.mgr.Subscribe(ctx, chatID, uid)
	if err != nil {
		s.log.Infow("subscribe rejected", "chatId", chatID, "uid", uid, "err", err)
		cancel()
		_ = conn.Close()
		return
	}

	c := &Connection{
		ws:     conn,
		sub:    sub,
		acks:   s.acks,
		uid:    uid,
		chatID: chatID,
		cancel: cancel,
	}
	go c.writePump()
	c.readPump()
}
