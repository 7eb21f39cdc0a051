package store

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
)

// GetOrCreateRoom upserts the room for a user pair. The $setOnInsert keeps
// the call idempotent under concurrent first sends from both sides. Fresh
// rooms start unadded for both participants; acceptance of a friend request
// flips them later.
func (s *Store) GetOrCreateRoom(ctx context.Context, a, b string) (*domain.ChatRoom, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	id := domain.RoomID(a, b)
	parts := []string{a, b}
	sort.Strings(parts)
	now := time.Now().UTC()

	room := domain.ChatRoom{
		ChatID:       id,
		Participants: parts,
		UnreadCount:  map[string]int{a: 0, b: 0},
		ChatStatus:   map[string]domain.ChatStatus{a: domain.StatusUnadded, b: domain.StatusUnadded},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.rooms.UpdateOne(cctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": room},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return s.GetRoom(ctx, id)
}

func (s *Store) GetRoom(ctx context.Context, chatID string) (*domain.ChatRoom, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	var r domain.ChatRoom
	if err := s.rooms.FindOne(cctx, bson.M{"_id": chatID}).Decode(&r); err != nil {
		return nil, wrapErr(err)
	}
	return &r, nil
}

// IncrementUnread bumps the recipient's counter with $inc so concurrent
// sends never lose an increment. Called inside the send transaction.
func (s *Store) IncrementUnread(ctx context.Context, chatID, uid string) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.rooms.UpdateOne(cctx, bson.M{"_id": chatID}, bson.M{
		"$inc": bson.M{"unreadCount." + uid: 1},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	})
	return wrapErr(err)
}

func (s *Store) ResetUnread(ctx context.Context, chatID, uid string) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.rooms.UpdateOne(cctx, bson.M{"_id": chatID}, bson.M{
		"$set": bson.M{"unreadCount." + uid: 0, "updatedAt": time.Now().UTC()},
	})
	return wrapErr(err)
}

func (s *Store) UpdateChatStatus(ctx context.Context, chatID, uid string, status domain.ChatStatus) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.rooms.UpdateOne(cctx, bson.M{"_id": chatID}, bson.M{
		"$set": bson.M{"chatStatus." + uid: status, "updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// UpdateRoomPreview rewrites the denormalized last-message fields. Rides the
// send transaction; also called after a tombstone to fall back to the latest
// surviving message.
func (s *Store) UpdateRoomPreview(ctx context.Context, chatID string, ts time.Time, content string, msgType domain.MessageType) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.rooms.UpdateOne(cctx, bson.M{"_id": chatID}, bson.M{
		"$set": bson.M{
			"lastMessageTs":   ts,
			"lastMessage":     content,
			"lastMessageType": msgType,
			"updatedAt":       time.Now().UTC(),
		},
	})
	return wrapErr(err)
}

func (s *Store) ListRoomsFor(ctx context.Context, uid string) ([]domain.ChatRoom, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "lastMessageTs", Value: -1}})
	cur, err := s.rooms.Find(cctx, bson.M{"participants": uid}, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cur.Close(cctx)

	out := []domain.ChatRoom{}
	for cur.Next(cctx) {
		var r domain.ChatRoom
		if err := cur.Decode(&r); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(cur.Err())
}
