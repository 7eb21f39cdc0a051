package projection

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/coyapp/chat-service/internal/domain"
	"github.com/coyapp/chat-service/internal/store"
)

// MessageView is a message as one viewer sees it. ReplyUnavailable flags a
// reply whose target was tombstoned or never observed; clients render
// "message unavailable" instead of failing.
type MessageView struct {
	domain.Message
	ReplyUnavailable bool `json:"replyUnavailable,omitempty"`
}

// RoomView is one consistent snapshot of a room for one viewer. Stale means
// the reconciler had to drop buffered changes, so the view may lag the store.
type RoomView struct {
	Room     domain.ChatRoom `json:"room"`
	Messages []MessageView   `json:"messages"`
	Stale    bool            `json:"stale,omitempty"`
}

// msgState tracks one message plus the last applied version per field group.
// Content/edit/tombstone fields and the reaction map version independently so
// a concurrent edit and a concurrent reaction never clobber each other.
// Delivery/read sets only ever grow, so they carry no version at all.
type msgState struct {
	msg        domain.Message
	contentVer store.Version
	reactVer   store.Version
}

type roomState struct {
	chatID  string
	viewer  string
	room    domain.ChatRoom
	roomVer store.Version
	msgs    map[string]*msgState
	stale   bool
}

func newRoomState(viewer string, room domain.ChatRoom, backfill []domain.Message) *roomState {
	st := &roomState{
		chatID: room.ChatID,
		viewer: viewer,
		room:   room,
		msgs:   make(map[string]*msgState, len(backfill)),
	}
	for _, m := range backfill {
		st.msgs[m.MessageID] = &msgState{msg: m}
	}
	return st
}

// applyMessage folds one message change in; reports whether the view moved.
func (st *roomState) applyMessage(ch store.Change) bool {
	switch ch.Op {
	case store.OpInsert, store.OpReplace:
		if ch.Message == nil {
			return false
		}
		cur, ok := st.msgs[ch.Message.MessageID]
		if !ok {
			st.msgs[ch.Message.MessageID] = &msgState{
				msg:        *ch.Message,
				contentVer: ch.Version,
				reactVer:   ch.Version,
			}
			return true
		}
		changed := false
		if ch.Version.After(cur.contentVer) {
			cur.msg.Content = ch.Message.Content
			cur.msg.Type = ch.Message.Type
			cur.msg.IsEdited = ch.Message.IsEdited
			cur.msg.EditedAt = ch.Message.EditedAt
			cur.msg.EditCount = ch.Message.EditCount
			cur.msg.IsDeleted = ch.Message.IsDeleted
			cur.contentVer = ch.Version
			changed = true
		}
		if ch.Version.After(cur.reactVer) {
			cur.msg.Reactions = ch.Message.Reactions
			cur.reactVer = ch.Version
			changed = true
		}
		changed = unionInto(&cur.msg.DeliveredTo, ch.Message.DeliveredTo...) || changed
		changed = unionInto(&cur.msg.ReadBy, ch.Message.ReadBy...) || changed
		changed = unionInto(&cur.msg.DeletedFor, ch.Message.DeletedFor...) || changed
		return changed

	case store.OpUpdate:
		cur, ok := st.msgs[ch.DocID]
		if !ok {
			return false
		}
		return cur.applyFields(ch)

	case store.OpDelete:
		if _, ok := st.msgs[ch.DocID]; ok {
			delete(st.msgs, ch.DocID)
			return true
		}
	}
	return false
}

// applyFields merges a partial update: last writer wins per field group,
// set-union for receipts and per-user hides.
func (ms *msgState) applyFields(ch store.Change) bool {
	changed := false
	contentTouched := false

	for key, v := range ch.Fields {
		root, rest := splitField(key)
		switch root {
		case "content", "type", "isEdited", "editedAt", "editCount", "isDeleted":
			if !ch.Version.After(ms.contentVer) {
				continue
			}
			ms.applyContentField(root, v)
			contentTouched = true
			changed = true
		case "reactions":
			if !ch.Version.After(ms.reactVer) {
				continue
			}
			if rest == "" {
				ms.msg.Reactions = asStringMap(v)
			} else {
				if ms.msg.Reactions == nil {
					ms.msg.Reactions = map[string]string{}
				}
				ms.msg.Reactions[rest] = asString(v)
			}
			ms.reactVer = ch.Version
			changed = true
		case "deliveredTo":
			changed = unionInto(&ms.msg.DeliveredTo, asStrings(v)...) || changed
		case "readBy":
			changed = unionInto(&ms.msg.ReadBy, asStrings(v)...) || changed
		case "deletedFor":
			changed = unionInto(&ms.msg.DeletedFor, asStrings(v)...) || changed
		}
	}

	for _, key := range ch.Removed {
		root, rest := splitField(key)
		if root == "reactions" && rest != "" && ch.Version.After(ms.reactVer) {
			delete(ms.msg.Reactions, rest)
			ms.reactVer = ch.Version
			changed = true
		}
	}

	if contentTouched {
		ms.contentVer = ch.Version
	}
	return changed
}

func (ms *msgState) applyContentField(key string, v interface{}) {
	switch key {
	case "content":
		ms.msg.Content = asString(v)
	case "type":
		ms.msg.Type = domain.MessageType(asString(v))
	case "isEdited":
		ms.msg.IsEdited = asBool(v)
	case "isDeleted":
		ms.msg.IsDeleted = asBool(v)
	case "editCount":
		ms.msg.EditCount = asInt(v)
	case "editedAt":
		if t, ok := asTime(v); ok {
			ms.msg.EditedAt = &t
		}
	}
}

// applyRoom folds a room document change; whole-room last writer wins.
func (st *roomState) applyRoom(ch store.Change) bool {
	switch ch.Op {
	case store.OpInsert, store.OpReplace:
		if ch.Room == nil || !ch.Version.After(st.roomVer) {
			return false
		}
		st.room = *ch.Room
		st.roomVer = ch.Version
		return true

	case store.OpUpdate:
		if !ch.Version.After(st.roomVer) {
			return false
		}
		changed := false
		for key, v := range ch.Fields {
			root, rest := splitField(key)
			switch root {
			case "lastMessage":
				st.room.LastMessage = asString(v)
				changed = true
			case "lastMessageType":
				st.room.LastMessageType = asString(v)
				changed = true
			case "lastMessageTs":
				if t, ok := asTime(v); ok {
					st.room.LastMessageTs = t
					changed = true
				}
			case "updatedAt":
				if t, ok := asTime(v); ok {
					st.room.UpdatedAt = t
					changed = true
				}
			case "unreadCount":
				if rest == "" {
					st.room.UnreadCount = asIntMap(v)
				} else {
					if st.room.UnreadCount == nil {
						st.room.UnreadCount = map[string]int{}
					}
					st.room.UnreadCount[rest] = asInt(v)
				}
				changed = true
			case "chatStatus":
				if rest == "" {
					st.room.ChatStatus = asStatusMap(v)
				} else {
					if st.room.ChatStatus == nil {
						st.room.ChatStatus = map[string]domain.ChatStatus{}
					}
					st.room.ChatStatus[rest] = domain.ChatStatus(asString(v))
				}
				changed = true
			}
		}
		if changed {
			st.roomVer = ch.Version
		}
		return changed
	}
	return false
}

// snapshot renders the viewer's ordered view: per-user hides filtered out,
// messages ordered by (timestamp, messageId), dangling replies flagged.
func (st *roomState) snapshot() RoomView {
	out := make([]MessageView, 0, len(st.msgs))
	for _, ms := range st.msgs {
		if ms.msg.HiddenFor(st.viewer) {
			continue
		}
		mv := MessageView{Message: ms.msg}
		if id := ms.msg.ReplyToMessageID; id != "" {
			target, ok := st.msgs[id]
			if !ok || target.msg.IsDeleted {
				mv.ReplyUnavailable = true
			}
		}
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Message.Before(&out[j].Message)
	})
	return RoomView{Room: st.room, Messages: out, Stale: st.stale}
}

func splitField(key string) (root, rest string) {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func unionInto(dst *[]string, add ...string) bool {
	changed := false
	for _, a := range add {
		found := false
		for _, d := range *dst {
			if d == a {
				found = true
				break
			}
		}
		if !found {
			*dst = append(*dst, a)
			changed = true
		}
	}
	return changed
}

// Coercers below accept both native Go values (tests, direct use) and the
// bson types the change stream decoder produces.

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

func asStrings(v interface{}) []string {
	switch s := v.(type) {
	case string:
		return []string{s}
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, asString(e))
		}
		return out
	case primitive.A:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, asString(e))
		}
		return out
	}
	return nil
}

func asStringMap(v interface{}) map[string]string {
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]interface{}:
		for k, e := range m {
			out[k] = asString(e)
		}
	case primitive.M:
		for k, e := range m {
			out[k] = asString(e)
		}
	}
	return out
}

func asIntMap(v interface{}) map[string]int {
	out := map[string]int{}
	switch m := v.(type) {
	case map[string]int:
		return m
	case map[string]interface{}:
		for k, e := range m {
			out[k] = asInt(e)
		}
	case primitive.M:
		for k, e := range m {
			out[k] = asInt(e)
		}
	}
	return out
}

func asStatusMap(v interface{}) map[string]domain.ChatStatus {
	out := map[string]domain.ChatStatus{}
	switch m := v.(type) {
	case map[string]domain.ChatStatus:
		return m
	case map[string]interface{}:
		for k, e := range m {
			out[k] = domain.ChatStatus(asString(e))
		}
	case primitive.M:
		for k, e := range m {
			out[k] = domain.ChatStatus(asString(e))
		}
	}
	return out
}
