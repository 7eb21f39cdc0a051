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
)

// Workflow drives friend requests: none → pending → accepted | denied.
type Workflow struct {
	reqs  RequestStore
	rooms RoomStore
	push  Notifier
	cache RoomCache
	log   *zap.SugaredLogger
}

func NewWorkflow(reqs RequestStore, rooms RoomStore, push Notifier, cache RoomCache, log *zap.SugaredLogger) *Workflow {
	return &Workflow{reqs: reqs, rooms: rooms, push: push, cache: cache, log: log}
}

// Propose opens a request from → to. Only one unresolved request may exist
// per pair, in either direction.
func (w *Workflow) Propose(ctx context.Context, from, to string) (*domain.FriendRequest, error) {
	if from == "" || to == "" || from == to {
		return nil, apperr.ErrInvalidParticipants
	}

	if _, err := w.reqs.FindPendingBetween(ctx, from, to); err == nil {
		return nil, apperr.ErrAlreadyPending
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	room, err := w.rooms.GetRoom(ctx, domain.RoomID(from, to))
	if err == nil {
		if room.StatusFor(from) == domain.StatusFriends && room.StatusFor(to) == domain.StatusFriends {
			return nil, apperr.ErrAlreadyFriends
		}
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	req := &domain.FriendRequest{
		ID:        uuid.NewString(),
		FromUID:   from,
		ToUID:     to,
		CreatedAt: time.Now().UTC(),
		Status:    domain.RequestPending,
	}
	if err := w.reqs.InsertRequest(ctx, req); err != nil {
		return nil, err
	}

	// The requester now sees the pair as pending until the other side acts.
	if room != nil {
		if err := w.rooms.UpdateChatStatus(ctx, room.ChatID, from, domain.StatusPending); err != nil {
			w.log.Warnw("pending status write failed", "chatId", room.ChatID, "err", err)
		}
	}

	w.push.Notify(ctx, to, events.KindFriendRequest, map[string]interface{}{
		"requestId": req.ID,
		"fromUid":   from,
	})
	return req, nil
}

// Respond resolves a request, recipient only. Accept makes both sides
// friends (creating the room when the pair never chatted); deny pushes the
// requester back to unadded. Replaying the same decision is a no-op;
// changing a settled outcome is not allowed.
func (w *Workflow) Respond(ctx context.Context, requestID, byUID string, accept bool) error {
	req, err := w.reqs.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ToUID != byUID {
		return apperr.ErrForbidden
	}

	target := domain.RequestDenied
	if accept {
		target = domain.RequestAccepted
	}

	if req.Resolved() {
		if req.Status == target {
			return nil
		}
		return apperr.ErrForbidden
	}

	resolved, err := w.reqs.ResolveRequest(ctx, requestID, target, time.Now().UTC())
	if err != nil {
		return err
	}
	if !resolved {
		// Lost a race to another responder; re-read and apply the replay
		// rule above.
		req, err := w.reqs.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status == target {
			return nil
		}
		return apperr.ErrForbidden
	}

	if accept {
		return w.applyAccept(ctx, req)
	}
	return w.applyDeny(ctx, req)
}

func (w *Workflow) applyAccept(ctx context.Context, req *domain.FriendRequest) error {
	room, err := w.rooms.GetOrCreateRoom(ctx, req.FromUID, req.ToUID)
	if err != nil {
		return err
	}
	if err := w.rooms.UpdateChatStatus(ctx, room.ChatID, req.FromUID, domain.StatusFriends); err != nil {
		return err
	}
	if err := w.rooms.UpdateChatStatus(ctx, room.ChatID, req.ToUID, domain.StatusFriends); err != nil {
		return err
	}
	if w.cache != nil {
		w.cache.Invalidate(ctx, req.FromUID, req.ToUID)
	}
	w.push.Notify(ctx, req.FromUID, events.KindFriendAccepted, map[string]interface{}{
		"requestId": req.ID,
		"byUid":     req.ToUID,
		"chatId":    room.ChatID,
	})
	return nil
}

func (w *Workflow) applyDeny(ctx context.Context, req *domain.FriendRequest) error {
	room, err := w.rooms.GetRoom(ctx, domain.RoomID(req.FromUID, req.ToUID))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := w.rooms.UpdateChatStatus(ctx, room.ChatID, req.FromUID, domain.StatusUnadded); err != nil {
		return err
	}
	if w.cache != nil {
		w.cache.Invalidate(ctx, req.FromUID)
	}
	return nil
}

// MarkSeen records that the recipient viewed the request.
func (w *Workflow) MarkSeen(ctx context.Context, requestID, byUID string) error {
	req, err := w.reqs.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ToUID != byUID {
		return apperr.ErrForbidden
	}
	return w.reqs.MarkRequestSeen(ctx, requestID)
}

func (w *Workflow) ListIncoming(ctx context.Context, uid string) ([]domain.FriendRequest, error) {
	return w.reqs.ListIncomingRequests(ctx, uid)
}
