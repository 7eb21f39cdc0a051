package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
	"github.com/coyapp/chat-service/internal/service"
	"github.com/coyapp/chat-service/internal/store"
)

type Handlers struct {
	registry *service.Registry
	ledger   *service.Ledger
	friends  *service.Workflow
}

func NewHandlers(registry *service.Registry, ledger *service.Ledger, friends *service.Workflow) *Handlers {
	return &Handlers{registry: registry, ledger: ledger, friends: friends}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

func uid(c *fiber.Ctx) string {
	u, _ := c.Locals("user_id").(string)
	return u
}

// POST /v1/chats/:peer_uid/messages
// The room for the pair is created lazily on first send.
func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var body struct {
		MessageID string `json:"messageId"`
		Content   string `json:"content"`
		Type      string `json:"type"`
		ReplyTo   string `json:"replyToMessageId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	user := uid(c)

	room, err := h.registry.GetOrCreateRoom(c.Context(), user, c.Params("peer_uid"))
	if err != nil {
		return fail(c, err)
	}

	msg, err := h.ledger.Send(c.Context(), service.SendInput{
		MessageID: body.MessageID,
		ChatID:    room.ChatID,
		SenderUID: user,
		Content:   body.Content,
		Type:      domain.MessageType(body.Type),
		ReplyTo:   body.ReplyTo,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"status": "ok", "data": msg})
}

// GET /v1/chats
func (h *Handlers) listRooms(c *fiber.Ctx) error {
	rooms, err := h.registry.ListRooms(c.Context(), uid(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": rooms})
}

// GET /v1/chats/:chat_id
func (h *Handlers) getRoom(c *fiber.Ctx) error {
	room, err := h.registry.RoomFor(c.Context(), c.Params("chat_id"), uid(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": room})
}

// GET /v1/chats/:chat_id/messages?cursor=...&limit=50
func (h *Handlers) listMessages(c *fiber.Ctx) error {
	var after *store.Cursor
	if raw := c.Query("cursor"); raw != "" {
		cur, err := store.DecodeCursor(raw)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid cursor"})
		}
		after = cur
	}
	limit := int64(c.QueryInt("limit", 50))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	msgs, next, err := h.ledger.ListMessages(c.Context(), c.Params("chat_id"), uid(c), after, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs, "nextCursor": next})
}

// POST /v1/chats/:chat_id/read
func (h *Handlers) markRoomRead(c *fiber.Ctx) error {
	if err := h.ledger.MarkRoomRead(c.Context(), c.Params("chat_id"), uid(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// PATCH /v1/chats/:chat_id/status
func (h *Handlers) updateChatStatus(c *fiber.Ctx) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	err := h.registry.UpdateChatStatus(c.Context(), c.Params("chat_id"), uid(c), domain.ChatStatus(body.Status))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// PATCH /v1/messages/:msg_id
func (h *Handlers) editMessage(c *fiber.Ctx) error {
	var body struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	msg, err := h.ledger.Edit(c.Context(), c.Params("msg_id"), uid(c), body.Content)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msg})
}

// DELETE /v1/messages/:msg_id?type=all|me
func (h *Handlers) deleteMessage(c *fiber.Ctx) error {
	user := uid(c)
	var err error
	if c.Query("type", "me") == "all" {
		err = h.ledger.DeleteForEveryone(c.Context(), c.Params("msg_id"), user)
	} else {
		err = h.ledger.DeleteForSelf(c.Context(), c.Params("msg_id"), user)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// PUT /v1/messages/:msg_id/reaction — empty emoji removes the reaction.
func (h *Handlers) setReaction(c *fiber.Ctx) error {
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.ledger.React(c.Context(), c.Params("msg_id"), uid(c), body.Emoji); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// POST /v1/messages/:msg_id/delivered
func (h *Handlers) markDelivered(c *fiber.Ctx) error {
	if err := h.ledger.MarkDelivered(c.Context(), c.Params("msg_id"), uid(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// POST /v1/messages/:msg_id/read
func (h *Handlers) markRead(c *fiber.Ctx) error {
	if err := h.ledger.MarkRead(c.Context(), c.Params("msg_id"), uid(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// POST /v1/friend-requests
func (h *Handlers) proposeFriend(c *fiber.Ctx) error {
	var body struct {
		ToUID string `json:"toUid"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	req, err := h.friends.Propose(c.Context(), uid(c), body.ToUID)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"status": "ok", "data": req})
}

// POST /v1/friend-requests/:id/respond
func (h *Handlers) respondFriend(c *fiber.Ctx) error {
	var body struct {
		Accept *bool `json:"accept"`
	}
	if err := c.BodyParser(&body); err != nil || body.Accept == nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.friends.Respond(c.Context(), c.Params("id"), uid(c), *body.Accept); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// POST /v1/friend-requests/:id/seen
func (h *Handlers) markRequestSeen(c *fiber.Ctx) error {
	if err := h.friends.MarkSeen(c.Context(), c.Params("id"), uid(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// GET /v1/friend-requests
func (h *Handlers) listFriendRequests(c *fiber.Ctx) error {
	reqs, err := h.friends.ListIncoming(c.Context(), uid(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": reqs})
}
