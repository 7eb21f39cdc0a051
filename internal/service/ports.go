package service

import (
	"context"
	"time"

	"github.com/coyapp/chat-service/internal/domain"
	"github.com/coyapp/chat-service/internal/events"
	"github.com/coyapp/chat-service/internal/store"
)

// Store ports. The Mongo store satisfies all of them; tests swap in
// in-memory fakes.

type RoomStore interface {
	GetOrCreateRoom(ctx context.Context, a, b string) (*domain.ChatRoom, error)
	GetRoom(ctx context.Context, chatID string) (*domain.ChatRoom, error)
	IncrementUnread(ctx context.Context, chatID, uid string) error
	ResetUnread(ctx context.Context, chatID, uid string) error
	UpdateChatStatus(ctx context.Context, chatID, uid string, status domain.ChatStatus) error
	UpdateRoomPreview(ctx context.Context, chatID string, ts time.Time, content string, msgType domain.MessageType) error
	ListRoomsFor(ctx context.Context, uid string) ([]domain.ChatRoom, error)
}

type MessageStore interface {
	InsertMessage(ctx context.Context, m *domain.Message) (bool, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	EditMessage(ctx context.Context, id, byUID, content string, now time.Time) (*domain.Message, error)
	TombstoneMessage(ctx context.Context, id, byUID string) (*domain.Message, error)
	DeleteForSelf(ctx context.Context, id, uid string) error
	SetReaction(ctx context.Context, id, uid, emoji string) error
	MarkDelivered(ctx context.Context, id, uid string) error
	MarkRead(ctx context.Context, id, uid string) error
	MarkRoomRead(ctx context.Context, chatID, uid string) error
	ListMessages(ctx context.Context, chatID, forUser string, after *store.Cursor, limit int64) ([]domain.Message, error)
	CountFromSender(ctx context.Context, chatID, uid string) (int64, error)
	LastVisibleMessage(ctx context.Context, chatID string) (*domain.Message, error)
}

type RequestStore interface {
	InsertRequest(ctx context.Context, r *domain.FriendRequest) error
	GetRequest(ctx context.Context, id string) (*domain.FriendRequest, error)
	FindPendingBetween(ctx context.Context, a, b string) (*domain.FriendRequest, error)
	ResolveRequest(ctx context.Context, id string, status domain.RequestStatus, now time.Time) (bool, error)
	MarkRequestSeen(ctx context.Context, id string) error
	ListIncomingRequests(ctx context.Context, uid string) ([]domain.FriendRequest, error)
}

// Tx runs fn atomically against the document store.
type Tx interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier is the push-delivery boundary.
type Notifier interface {
	Notify(ctx context.Context, targetUID string, kind events.Kind, payload map[string]interface{})
}

// RoomCache holds the time-bounded room-list projection. Optional; a nil
// implementation just means every read hits the store.
type RoomCache interface {
	GetRooms(ctx context.Context, uid string) ([]domain.ChatRoom, bool)
	SetRooms(ctx context.Context, uid string, rooms []domain.ChatRoom)
	Invalidate(ctx context.Context, uids ...string)
}
