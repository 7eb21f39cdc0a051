package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/config"
	"github.com/coyapp/chat-service/internal/domain"
)

// Client caches derived read projections, never authoritative state. Every
// entry carries a TTL so a missed invalidation heals on its own.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.SugaredLogger
}

func NewRedis(ctx context.Context, cfg *config.Redis, log *zap.SugaredLogger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	log.Infow("redis connected", "addr", cfg.Addr)
	return &Client{rdb: rdb, ttl: cfg.RoomTTL(), log: log}, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

func roomsKey(uid string) string { return "rooms:" + uid }

// GetRooms returns the cached room list for a user, if fresh enough.
func (c *Client) GetRooms(ctx context.Context, uid string) ([]domain.ChatRoom, bool) {
	raw, err := c.rdb.Get(ctx, roomsKey(uid)).Bytes()
	if err != nil {
		return nil, false
	}
	var rooms []domain.ChatRoom
	if err := json.Unmarshal(raw, &rooms); err != nil {
		c.log.Warnw("room cache decode failed", "uid", uid, "err", err)
		return nil, false
	}
	return rooms, true
}

func (c *Client) SetRooms(ctx context.Context, uid string, rooms []domain.ChatRoom) {
	raw, err := json.Marshal(rooms)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, roomsKey(uid), raw, c.ttl).Err(); err != nil {
		c.log.Warnw("room cache set failed", "uid", uid, "err", err)
	}
}

// Invalidate drops a user's room list after a write that changes it.
func (c *Client) Invalidate(ctx context.Context, uids ...string) {
	keys := make([]string, 0, len(uids))
	for _, uid := range uids {
		keys = append(keys, roomsKey(uid))
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warnw("room cache invalidate failed", "err", err)
	}
}
