package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	"github.com/coyapp/chat-service/internal/auth"
	"github.com/coyapp/chat-service/internal/metrics"
	"github.com/coyapp/chat-service/internal/service"
	"github.com/coyapp/chat-service/internal/ws"
)

func NewServer(registry *service.Registry, ledger *service.Ledger, friends *service.Workflow, jv *auth.Validator, wsrv *ws.Server) *fiber.App {
	app := fiber.New()
	app.Use(logger.New())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	h := NewHandlers(registry, ledger, friends)

	authn := func(c *fiber.Ctx) error {
		hdr := c.Get("Authorization")
		if hdr == "" {
			// Websocket clients cannot set headers from the browser; allow
			// the token as a query parameter on the upgrade request.
			hdr = "Bearer " + c.Query("token")
		}
		const pref = "Bearer "
		if len(hdr) <= len(pref) || hdr[:len(pref)] != pref {
			return c.Status(401).JSON(fiber.Map{"error": "invalid auth"})
		}
		sub, err := jv.Validate(hdr[len(pref):])
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": err.Error()})
		}
		c.Locals("user_id", sub)
		return c.Next()
	}

	api := app.Group("/v1", authn)

	api.Get("/chats", h.listRooms)
	api.Get("/chats/:chat_id", h.getRoom)
	api.Get("/chats/:chat_id/messages", h.listMessages)
	api.Post("/chats/:chat_id/read", h.markRoomRead)
	api.Patch("/chats/:chat_id/status", h.updateChatStatus)
	api.Post("/chats/:peer_uid/messages", h.sendMessage)

	api.Patch("/messages/:msg_id", h.editMessage)
	api.Delete("/messages/:msg_id", h.deleteMessage)
	api.Put("/messages/:msg_id/reaction", h.setReaction)
	api.Post("/messages/:msg_id/delivered", h.markDelivered)
	api.Post("/messages/:msg_id/read", h.markRead)

	api.Post("/friend-requests", h.proposeFriend)
	api.Get("/friend-requests", h.listFriendRequests)
	api.Post("/friend-requests/:id/respond", h.respondFriend)
	api.Post("/friend-requests/:id/seen", h.markRequestSeen)

	if wsrv != nil {
		app.Use("/ws", authn, func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/chats/:chat_id", websocket.New(wsrv.HandleRoom))
	}

	return app
}
