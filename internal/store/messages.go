package store

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
)

// Cursor is the pagination position inside a room: strictly after
// (timestamp, messageId) in ascending order.
type Cursor struct {
	Ts time.Time
	ID string
}

func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.Ts.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("bad cursor")
	}
	parts := strings.SplitN(string(b), "|", 2)
	if len(parts) != 2 {
		return nil, errors.New("bad cursor")
	}
	ns, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, errors.New("bad cursor")
	}
	return &Cursor{Ts: time.Unix(0, ns).UTC(), ID: parts[1]}, nil
}

// InsertMessage stores the message keyed by its client-generated id. A retry
// of the same send matches the existing document and inserts nothing; the
// returned flag tells the ledger whether side effects should run.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) (bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.messages.UpdateOne(cctx,
		bson.M{"_id": m.MessageID},
		bson.M{"$setOnInsert": m},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, wrapErr(err)
	}
	return res.UpsertedCount == 1, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	var m domain.Message
	if err := s.messages.FindOne(cctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, wrapErr(err)
	}
	return &m, nil
}

// EditMessage applies a sender edit behind a guard filter, so the edit cap
// and the tombstone check hold even against concurrent edits. A miss means
// the caller must re-read to find out which rule failed.
func (s *Store) EditMessage(ctx context.Context, id, byUID, content string, now time.Time) (*domain.Message, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{
		"_id":       id,
		"senderUid": byUID,
		"isDeleted": false,
		"editCount": bson.M{"$lt": domain.MaxEdits},
	}
	update := bson.M{
		"$set": bson.M{"content": content, "isEdited": true, "editedAt": now},
		"$inc": bson.M{"editCount": 1},
	}

	var m domain.Message
	err := s.messages.FindOneAndUpdate(cctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &m, nil
}

// TombstoneMessage hides the message for everyone and clears its content.
// The document stays so replies to it degrade to "message unavailable".
func (s *Store) TombstoneMessage(ctx context.Context, id, byUID string) (*domain.Message, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	var m domain.Message
	err := s.messages.FindOneAndUpdate(cctx,
		bson.M{"_id": id, "senderUid": byUID, "isDeleted": false},
		bson.M{"$set": bson.M{"isDeleted": true, "content": ""}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &m, nil
}

func (s *Store) DeleteForSelf(ctx context.Context, id, uid string) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.messages.UpdateOne(cctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"deletedFor": uid}},
	)
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SetReaction writes the user's single reaction entry; empty emoji removes
// it. Last write wins per user.
func (s *Store) SetReaction(ctx context.Context, id, uid, emoji string) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	field := "reactions." + uid
	var update bson.M
	if emoji == "" {
		update = bson.M{"$unset": bson.M{field: ""}}
	} else {
		update = bson.M{"$set": bson.M{field: emoji}}
	}
	res, err := s.messages.UpdateOne(cctx, bson.M{"_id": id}, update)
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, id, uid string) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.messages.UpdateOne(cctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"deliveredTo": uid}},
	)
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// MarkRead unions the user into readBy and deliveredTo in one update, which
// keeps readBy a subset of deliveredTo even when the delivery ack never came.
func (s *Store) MarkRead(ctx context.Context, id, uid string) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.messages.UpdateOne(cctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"deliveredTo": uid, "readBy": uid}},
	)
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// MarkRoomRead bulk-reads every message the user received in the room.
func (s *Store) MarkRoomRead(ctx context.Context, chatID, uid string) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.messages.UpdateMany(cctx,
		bson.M{"chatId": chatID, "senderUid": bson.M{"$ne": uid}},
		bson.M{"$addToSet": bson.M{"deliveredTo": uid, "readBy": uid}},
	)
	return wrapErr(err)
}

// ListMessages pages through a room ascending by (timestamp, messageId),
// hiding messages the viewer cleared for themselves.
func (s *Store) ListMessages(ctx context.Context, chatID, forUser string, after *Cursor, limit int64) ([]domain.Message, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{
		"chatId":     chatID,
		"deletedFor": bson.M{"$ne": forUser},
	}
	if after != nil {
		filter["$or"] = []bson.M{
			{"timestamp": bson.M{"$gt": after.Ts}},
			{"timestamp": after.Ts, "_id": bson.M{"$gt": after.ID}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(limit)

	cur, err := s.messages.Find(cctx, filter, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cur.Close(cctx)

	out := []domain.Message{}
	for cur.Next(cctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, m)
	}
	return out, wrapErr(cur.Err())
}

// CountFromSender backs the preview-allowance gate.
func (s *Store) CountFromSender(ctx context.Context, chatID, uid string) (int64, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	n, err := s.messages.CountDocuments(cctx, bson.M{"chatId": chatID, "senderUid": uid})
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

// LastVisibleMessage is the newest non-tombstoned message, used to rebuild
// the room preview after a delete-for-everyone.
func (s *Store) LastVisibleMessage(ctx context.Context, chatID string) (*domain.Message, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	var m domain.Message
	err := s.messages.FindOne(cctx, bson.M{"chatId": chatID, "isDeleted": false}, opts).Decode(&m)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &m, nil
}
