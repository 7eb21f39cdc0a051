package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
)

// Registry owns chat room lifecycle: pairing, per-user relationship status,
// unread counters.
type Registry struct {
	rooms RoomStore
	cache RoomCache
	log   *zap.SugaredLogger
}

func NewRegistry(rooms RoomStore, cache RoomCache, log *zap.SugaredLogger) *Registry {
	return &Registry{rooms: rooms, cache: cache, log: log}
}

// GetOrCreateRoom resolves the single room for a pair, creating it lazily.
func (r *Registry) GetOrCreateRoom(ctx context.Context, a, b string) (*domain.ChatRoom, error) {
	if a == "" || b == "" || a == b {
		return nil, apperr.ErrInvalidParticipants
	}
	return r.rooms.GetOrCreateRoom(ctx, a, b)
}

// RoomFor fetches a room and checks the caller belongs to it.
func (r *Registry) RoomFor(ctx context.Context, chatID, uid string) (*domain.ChatRoom, error) {
	room, err := r.rooms.GetRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(uid) {
		return nil, apperr.ErrForbidden
	}
	return room, nil
}

// ListRooms serves the room list through the cache; the TTL bounds staleness.
func (r *Registry) ListRooms(ctx context.Context, uid string) ([]domain.ChatRoom, error) {
	if r.cache != nil {
		if rooms, ok := r.cache.GetRooms(ctx, uid); ok {
			return rooms, nil
		}
	}
	rooms, err := r.rooms.ListRoomsFor(ctx, uid)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetRooms(ctx, uid, rooms)
	}
	return rooms, nil
}

func (r *Registry) UpdateChatStatus(ctx context.Context, chatID, uid string, status domain.ChatStatus) error {
	switch status {
	case domain.StatusFriends, domain.StatusUnadded, domain.StatusPending:
	default:
		return apperr.ErrInvalidInput
	}
	if _, err := r.RoomFor(ctx, chatID, uid); err != nil {
		return err
	}
	if err := r.rooms.UpdateChatStatus(ctx, chatID, uid, status); err != nil {
		return err
	}
	if r.cache != nil {
		r.cache.Invalidate(ctx, uid)
	}
	return nil
}
