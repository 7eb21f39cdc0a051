package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
)

func (s *Store) InsertRequest(ctx context.Context, r *domain.FriendRequest) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.requests.InsertOne(cctx, r)
	return wrapErr(err)
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.FriendRequest, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	var r domain.FriendRequest
	if err := s.requests.FindOne(cctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, wrapErr(err)
	}
	return &r, nil
}

// FindPendingBetween looks for an unresolved request in either direction.
func (s *Store) FindPendingBetween(ctx context.Context, a, b string) (*domain.FriendRequest, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{
		"status": domain.RequestPending,
		"$or": []bson.M{
			{"fromUid": a, "toUid": b},
			{"fromUid": b, "toUid": a},
		},
	}
	var r domain.FriendRequest
	if err := s.requests.FindOne(cctx, filter).Decode(&r); err != nil {
		return nil, wrapErr(err)
	}
	return &r, nil
}

// ResolveRequest flips a pending request to a terminal status. The guard on
// status makes the transition a compare-and-set: the second of two concurrent
// responders gets false back and must re-read.
func (s *Store) ResolveRequest(ctx context.Context, id string, status domain.RequestStatus, now time.Time) (bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.requests.UpdateOne(cctx,
		bson.M{"_id": id, "status": domain.RequestPending},
		bson.M{"$set": bson.M{"status": status, "handledAt": now}},
	)
	if err != nil {
		return false, wrapErr(err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) MarkRequestSeen(ctx context.Context, id string) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.requests.UpdateOne(cctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"seen": true}},
	)
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) ListIncomingRequests(ctx context.Context, uid string) ([]domain.FriendRequest, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := s.requests.Find(cctx, bson.M{"toUid": uid, "status": domain.RequestPending}, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cur.Close(cctx)

	out := []domain.FriendRequest{}
	for cur.Next(cctx) {
		var r domain.FriendRequest
		if err := cur.Decode(&r); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(cur.Err())
}
