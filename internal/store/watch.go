package store

import (
	"context"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/coyapp/chat-service/internal/domain"
)

type ChangeOp string

const (
	OpInsert  ChangeOp = "insert"
	OpUpdate  ChangeOp = "update"
	OpReplace ChangeOp = "replace"
	OpDelete  ChangeOp = "delete"
)

// Version orders changes: the cluster timestamp from the oplog, with a local
// sequence number breaking ties between events sharing one cluster tick.
type Version struct {
	T   uint32
	I   uint32
	Seq uint64
}

func (v Version) After(o Version) bool {
	if v.T != o.T {
		return v.T > o.T
	}
	if v.I != o.I {
		return v.I > o.I
	}
	return v.Seq > o.Seq
}

// Change is one event off the document store's feed. Inserts and replaces
// carry the full document; updates carry only the touched fields, which is
// why the reconciler has to cope with partial documents.
type Change struct {
	Op         ChangeOp
	Collection string
	DocID      string
	ChatID     string
	Message    *domain.Message
	Room       *domain.ChatRoom
	Fields     map[string]interface{}
	Removed    []string
	Version    Version
}

type rawEvent struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	FullDocument  bson.Raw            `bson:"fullDocument"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	UpdateDescription struct {
		UpdatedFields bson.M   `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription"`
}

// WatchChanges opens one database-level change stream covering rooms and
// messages and pumps decoded events until ctx is cancelled. The channel
// closes when the stream ends, however it ends.
func (s *Store) WatchChanges(ctx context.Context) (<-chan Change, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"ns.coll": bson.M{"$in": []string{collRooms, collMessages}},
		}}},
	}
	cs, err := s.db.Watch(ctx, pipeline)
	if err != nil {
		return nil, wrapErr(err)
	}

	out := make(chan Change, 64)
	var seq uint64

	go func() {
		defer close(out)
		defer cs.Close(context.Background())

		for cs.Next(ctx) {
			var ev rawEvent
			if err := cs.Decode(&ev); err != nil {
				s.log.Warnw("change stream decode failed", "err", err)
				continue
			}

			ch := Change{
				Op:         ChangeOp(ev.OperationType),
				Collection: ev.NS.Coll,
				DocID:      ev.DocumentKey.ID,
				Version: Version{
					T:   ev.ClusterTime.T,
					I:   ev.ClusterTime.I,
					Seq: atomic.AddUint64(&seq, 1),
				},
			}

			switch ch.Op {
			case OpInsert, OpReplace:
				if !s.decodeFullDocument(&ch, ev.FullDocument) {
					continue
				}
			case OpUpdate:
				ch.Fields = map[string]interface{}(ev.UpdateDescription.UpdatedFields)
				ch.Removed = ev.UpdateDescription.RemovedFields
				if ch.Collection == collRooms {
					ch.ChatID = ch.DocID
				}
			case OpDelete:
				if ch.Collection == collRooms {
					ch.ChatID = ch.DocID
				}
			default:
				continue
			}

			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			s.log.Errorw("change stream terminated", "err", err)
		}
	}()

	return out, nil
}

func (s *Store) decodeFullDocument(ch *Change, raw bson.Raw) bool {
	switch ch.Collection {
	case collMessages:
		var m domain.Message
		if err := bson.Unmarshal(raw, &m); err != nil {
			s.log.Warnw("message event decode failed", "id", ch.DocID, "err", err)
			return false
		}
		ch.Message = &m
		ch.ChatID = m.ChatID
	case collRooms:
		var r domain.ChatRoom
		if err := bson.Unmarshal(raw, &r); err != nil {
			s.log.Warnw("room event decode failed", "id", ch.DocID, "err", err)
			return false
		}
		ch.Room = &r
		ch.ChatID = r.ChatID
	default:
		return false
	}
	return true
}
