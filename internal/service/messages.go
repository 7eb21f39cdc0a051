package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
	"github.com/coyapp/chat-service/internal/events"
	"github.com/coyapp/chat-service/internal/metrics"
	"github.com/coyapp/chat-service/internal/store"
)

// Ledger owns messages: append, bounded edit, soft delete, reactions,
// receipts, listing.
type Ledger struct {
	rooms     RoomStore
	msgs      MessageStore
	tx        Tx
	push      Notifier
	cache     RoomCache
	allowance int
	log       *zap.SugaredLogger
}

func NewLedger(rooms RoomStore, msgs MessageStore, tx Tx, push Notifier, cache RoomCache, allowance int, log *zap.SugaredLogger) *Ledger {
	if allowance <= 0 {
		allowance = 1
	}
	return &Ledger{rooms: rooms, msgs: msgs, tx: tx, push: push, cache: cache, allowance: allowance, log: log}
}

// SendInput carries a send intent. MessageID is the client-generated id; a
// retried send with the same id is a no-op replay.
type SendInput struct {
	MessageID string
	ChatID    string
	SenderUID string
	Content   string
	Type      domain.MessageType
	ReplyTo   string
}

// Send appends a message. Message insert, room preview, and the peer's
// unread increment commit as one transaction; the push event fires only for
// a genuinely new message.
func (l *Ledger) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	if in.Content == "" || !domain.ValidMessageType(in.Type) {
		return nil, apperr.ErrInvalidInput
	}

	room, err := l.rooms.GetRoom(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(in.SenderUID) {
		return nil, apperr.ErrForbidden
	}

	// Relationship gate: a non-friend sender gets a bounded preview
	// allowance before the pair must be friends.
	if room.StatusFor(in.SenderUID) != domain.StatusFriends {
		n, err := l.msgs.CountFromSender(ctx, in.ChatID, in.SenderUID)
		if err != nil {
			return nil, err
		}
		if n >= int64(l.allowance) {
			return nil, apperr.ErrSendNotAllowed
		}
	}

	id := in.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	msg := &domain.Message{
		MessageID:        id,
		ChatID:           in.ChatID,
		SenderUID:        in.SenderUID,
		Content:          in.Content,
		Type:             in.Type,
		Timestamp:        now,
		DeletedFor:       []string{},
		Reactions:        map[string]string{},
		ReplyToMessageID: in.ReplyTo,
		// The sender implicitly delivered and read their own message.
		DeliveredTo: []string{in.SenderUID},
		ReadBy:      []string{in.SenderUID},
	}

	peer := room.Peer(in.SenderUID)
	created := false
	err = l.tx.WithTransaction(ctx, func(txc context.Context) error {
		var err error
		created, err = l.msgs.InsertMessage(txc, msg)
		if err != nil || !created {
			return err
		}
		if err := l.rooms.UpdateRoomPreview(txc, in.ChatID, msg.Timestamp, msg.Content, msg.Type); err != nil {
			return err
		}
		return l.rooms.IncrementUnread(txc, in.ChatID, peer)
	})
	if err != nil {
		return nil, err
	}

	if !created {
		// Replay of a queued/retried send: return the stored message, no
		// side effects a second time.
		return l.msgs.GetMessage(ctx, id)
	}

	metrics.MessagesSent.Inc()
	l.push.Notify(ctx, peer, events.KindNewMessage, map[string]interface{}{
		"chatId":    in.ChatID,
		"messageId": id,
		"senderUid": in.SenderUID,
		"type":      string(in.Type),
	})
	if l.cache != nil {
		l.cache.Invalidate(ctx, room.Participants...)
	}
	return msg, nil
}

// Edit rewrites content, at most twice per message, sender only.
func (l *Ledger) Edit(ctx context.Context, messageID, byUID, newContent string) (*domain.Message, error) {
	if newContent == "" {
		return nil, apperr.ErrInvalidInput
	}
	m, err := l.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := editable(m, byUID); err != nil {
		return nil, err
	}

	updated, err := l.msgs.EditMessage(ctx, messageID, byUID, newContent, time.Now().UTC())
	if errors.Is(err, apperr.ErrNotFound) {
		// Guard filter missed: something changed underneath us. Re-read to
		// report the actual rule that now fails.
		m, gerr := l.msgs.GetMessage(ctx, messageID)
		if gerr != nil {
			return nil, gerr
		}
		if cerr := editable(m, byUID); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	return updated, err
}

func editable(m *domain.Message, byUID string) error {
	if m.SenderUID != byUID {
		return apperr.ErrForbidden
	}
	if m.IsDeleted {
		return apperr.ErrAlreadyDeleted
	}
	if m.EditCount >= domain.MaxEdits {
		return apperr.ErrEditLimitExceeded
	}
	return nil
}

// DeleteForEveryone tombstones the message. Repeating it is a no-op.
func (l *Ledger) DeleteForEveryone(ctx context.Context, messageID, byUID string) error {
	m, err := l.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderUID != byUID {
		return apperr.ErrForbidden
	}
	if m.IsDeleted {
		return nil
	}

	tomb, err := l.msgs.TombstoneMessage(ctx, messageID, byUID)
	if errors.Is(err, apperr.ErrNotFound) {
		// Lost the race to another delete of the same message.
		return nil
	}
	if err != nil {
		return err
	}

	// The room preview must not keep advertising a deleted message.
	last, err := l.msgs.LastVisibleMessage(ctx, tomb.ChatID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		err = l.rooms.UpdateRoomPreview(ctx, tomb.ChatID, tomb.Timestamp, "", tomb.Type)
	case err == nil:
		err = l.rooms.UpdateRoomPreview(ctx, tomb.ChatID, last.Timestamp, last.Content, last.Type)
	}
	if err != nil {
		l.log.Warnw("preview rebuild after delete failed", "chatId", tomb.ChatID, "err", err)
	}

	if l.cache != nil {
		if room, rerr := l.rooms.GetRoom(ctx, tomb.ChatID); rerr == nil {
			l.cache.Invalidate(ctx, room.Participants...)
		}
	}
	return nil
}

// DeleteForSelf hides the message for one user only ("Clear Chat" uses this
// per message). Idempotent by construction.
func (l *Ledger) DeleteForSelf(ctx context.Context, messageID, byUID string) error {
	return l.msgs.DeleteForSelf(ctx, messageID, byUID)
}

// React sets the caller's reaction; empty emoji clears it.
func (l *Ledger) React(ctx context.Context, messageID, byUID, emoji string) error {
	m, err := l.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.IsDeleted {
		return apperr.ErrAlreadyDeleted
	}
	room, err := l.rooms.GetRoom(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(byUID) {
		return apperr.ErrForbidden
	}
	return l.msgs.SetReaction(ctx, messageID, byUID, emoji)
}

func (l *Ledger) MarkDelivered(ctx context.Context, messageID, uid string) error {
	return l.msgs.MarkDelivered(ctx, messageID, uid)
}

func (l *Ledger) MarkRead(ctx context.Context, messageID, uid string) error {
	return l.msgs.MarkRead(ctx, messageID, uid)
}

// MarkRoomRead is what a chat screen does on open: bulk-read the peer's
// messages and zero the unread counter. Both writes ride one transaction so
// a send committing in between cannot have its increment wiped while its
// message stays unread.
func (l *Ledger) MarkRoomRead(ctx context.Context, chatID, uid string) error {
	room, err := l.rooms.GetRoom(ctx, chatID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(uid) {
		return apperr.ErrForbidden
	}
	err = l.tx.WithTransaction(ctx, func(txc context.Context) error {
		if err := l.msgs.MarkRoomRead(txc, chatID, uid); err != nil {
			return err
		}
		return l.rooms.ResetUnread(txc, chatID, uid)
	})
	if err != nil {
		return err
	}
	if l.cache != nil {
		l.cache.Invalidate(ctx, uid)
	}
	return nil
}

// ListMessages pages a viewer's view of the room ascending by
// (timestamp, messageId). Returns the next cursor, or "" at the end.
func (l *Ledger) ListMessages(ctx context.Context, chatID, forUser string, after *store.Cursor, limit int64) ([]domain.Message, string, error) {
	room, err := l.rooms.GetRoom(ctx, chatID)
	if err != nil {
		return nil, "", err
	}
	if !room.HasParticipant(forUser) {
		return nil, "", apperr.ErrForbidden
	}

	msgs, err := l.msgs.ListMessages(ctx, chatID, forUser, after, limit)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if int64(len(msgs)) == limit && limit > 0 {
		last := msgs[len(msgs)-1]
		next = store.Cursor{Ts: last.Timestamp, ID: last.MessageID}.Encode()
	}
	return msgs, next, nil
}
