package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/config"
)

// Collection names are the storage contract; the messages collection is the
// flattened form of chatRooms/{chatId}/messages, keyed by chatId.
const (
	collRooms    = "chatRooms"
	collMessages = "messages"
	collRequests = "friendRequests"
)

// Store is the single gateway to the document store. It owns no state beyond
// the connection; every read builds a fresh view and every write goes through
// Mongo's own atomicity.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	rooms    *mongo.Collection
	messages *mongo.Collection
	requests *mongo.Collection
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func New(ctx context.Context, cfg *config.Mongo, log *zap.SugaredLogger) (*Store, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}

	db := client.Database(cfg.DB)
	s := &Store{
		client:   client,
		db:       db,
		rooms:    db.Collection(collRooms),
		messages: db.Collection(collMessages),
		requests: db.Collection(collRequests),
		timeout:  cfg.Timeout(),
		log:      log,
	}
	s.ensureIndexes(ctx)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.messages.Indexes().CreateMany(cctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "senderUid", Value: 1}}},
	})
	if err != nil {
		s.log.Warnw("message index create failed", "err", err)
	}
	_, err = s.rooms.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}, {Key: "lastMessageTs", Value: -1}},
	})
	if err != nil {
		s.log.Warnw("room index create failed", "err", err)
	}
	_, err = s.requests.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys: bson.D{{Key: "fromUid", Value: 1}, {Key: "toUid", Value: 1}, {Key: "status", Value: 1}},
	})
	if err != nil {
		s.log.Warnw("request index create failed", "err", err)
	}
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// opCtx bounds a single store call so no operation blocks indefinitely.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// wrapErr folds driver failures into the taxonomy: missing documents become
// NotFound, timeouts and transport failures become StoreUnavailable.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	return err
}

// WithTransaction runs fn inside one Mongo transaction. Store methods called
// with the callback's context join the transaction, so a message insert and
// its room preview/unread updates commit or abort together.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return wrapErr(err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return wrapErr(err)
}
