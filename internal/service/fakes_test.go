package service

import (
	"context"
	"sort"
	"time"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
	"github.com/coyapp/chat-service/internal/events"
	"github.com/coyapp/chat-service/internal/store"
)

// memStore mirrors the Mongo store's guarded-update semantics in memory so
// the services can be tested without a database.
type memStore struct {
	rooms map[string]*domain.ChatRoom
	msgs  map[string]*domain.Message
	reqs  map[string]*domain.FriendRequest
}

func newMemStore() *memStore {
	return &memStore{
		rooms: map[string]*domain.ChatRoom{},
		msgs:  map[string]*domain.Message{},
		reqs:  map[string]*domain.FriendRequest{},
	}
}

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *memStore) GetOrCreateRoom(ctx context.Context, a, b string) (*domain.ChatRoom, error) {
	id := domain.RoomID(a, b)
	if r, ok := s.rooms[id]; ok {
		return r, nil
	}
	now := time.Now().UTC()
	r := &domain.ChatRoom{
		ChatID:       id,
		Participants: []string{a, b},
		UnreadCount:  map[string]int{a: 0, b: 0},
		ChatStatus:   map[string]domain.ChatStatus{a: domain.StatusUnadded, b: domain.StatusUnadded},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.rooms[id] = r
	return r, nil
}

func (s *memStore) GetRoom(ctx context.Context, chatID string) (*domain.ChatRoom, error) {
	r, ok := s.rooms[chatID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return r, nil
}

func (s *memStore) IncrementUnread(ctx context.Context, chatID, uid string) error {
	r, ok := s.rooms[chatID]
	if !ok {
		return apperr.ErrNotFound
	}
	if r.UnreadCount == nil {
		r.UnreadCount = map[string]int{}
	}
	r.UnreadCount[uid]++
	return nil
}

func (s *memStore) ResetUnread(ctx context.Context, chatID, uid string) error {
	r, ok := s.rooms[chatID]
	if !ok {
		return apperr.ErrNotFound
	}
	if r.UnreadCount != nil {
		r.UnreadCount[uid] = 0
	}
	return nil
}

func (s *memStore) UpdateChatStatus(ctx context.Context, chatID, uid string, status domain.ChatStatus) error {
	r, ok := s.rooms[chatID]
	if !ok {
		return apperr.ErrNotFound
	}
	if r.ChatStatus == nil {
		r.ChatStatus = map[string]domain.ChatStatus{}
	}
	r.ChatStatus[uid] = status
	return nil
}

func (s *memStore) UpdateRoomPreview(ctx context.Context, chatID string, ts time.Time, content string, msgType domain.MessageType) error {
	r, ok := s.rooms[chatID]
	if !ok {
		return apperr.ErrNotFound
	}
	r.LastMessageTs = ts
	r.LastMessage = content
	r.LastMessageType = string(msgType)
	return nil
}

func (s *memStore) ListRoomsFor(ctx context.Context, uid string) ([]domain.ChatRoom, error) {
	out := []domain.ChatRoom{}
	for _, r := range s.rooms {
		if r.HasParticipant(uid) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageTs.After(out[j].LastMessageTs) })
	return out, nil
}

func (s *memStore) InsertMessage(ctx context.Context, m *domain.Message) (bool, error) {
	if _, ok := s.msgs[m.MessageID]; ok {
		return false, nil
	}
	cp := *m
	s.msgs[m.MessageID] = &cp
	return true, nil
}

func (s *memStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	m, ok := s.msgs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) EditMessage(ctx context.Context, id, byUID, content string, now time.Time) (*domain.Message, error) {
	m, ok := s.msgs[id]
	if !ok || m.SenderUID != byUID || m.IsDeleted || m.EditCount >= domain.MaxEdits {
		return nil, apperr.ErrNotFound
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &now
	m.EditCount++
	cp := *m
	return &cp, nil
}

func (s *memStore) TombstoneMessage(ctx context.Context, id, byUID string) (*domain.Message, error) {
	m, ok := s.msgs[id]
	if !ok || m.SenderUID != byUID || m.IsDeleted {
		return nil, apperr.ErrNotFound
	}
	m.IsDeleted = true
	m.Content = ""
	cp := *m
	return &cp, nil
}

func (s *memStore) DeleteForSelf(ctx context.Context, id, uid string) error {
	m, ok := s.msgs[id]
	if !ok {
		return apperr.ErrNotFound
	}
	for _, u := range m.DeletedFor {
		if u == uid {
			return nil
		}
	}
	m.DeletedFor = append(m.DeletedFor, uid)
	return nil
}

func (s *memStore) SetReaction(ctx context.Context, id, uid, emoji string) error {
	m, ok := s.msgs[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if emoji == "" {
		delete(m.Reactions, uid)
		return nil
	}
	if m.Reactions == nil {
		m.Reactions = map[string]string{}
	}
	m.Reactions[uid] = emoji
	return nil
}

func addToSet(dst *[]string, uid string) {
	for _, u := range *dst {
		if u == uid {
			return
		}
	}
	*dst = append(*dst, uid)
}

func (s *memStore) MarkDelivered(ctx context.Context, id, uid string) error {
	m, ok := s.msgs[id]
	if !ok {
		return apperr.ErrNotFound
	}
	addToSet(&m.DeliveredTo, uid)
	return nil
}

func (s *memStore) MarkRead(ctx context.Context, id, uid string) error {
	m, ok := s.msgs[id]
	if !ok {
		return apperr.ErrNotFound
	}
	addToSet(&m.DeliveredTo, uid)
	addToSet(&m.ReadBy, uid)
	return nil
}

func (s *memStore) MarkRoomRead(ctx context.Context, chatID, uid string) error {
	for _, m := range s.msgs {
		if m.ChatID == chatID && m.SenderUID != uid {
			addToSet(&m.DeliveredTo, uid)
			addToSet(&m.ReadBy, uid)
		}
	}
	return nil
}

func (s *memStore) ListMessages(ctx context.Context, chatID, forUser string, after *store.Cursor, limit int64) ([]domain.Message, error) {
	out := []domain.Message{}
	for _, m := range s.msgs {
		if m.ChatID != chatID || m.HiddenFor(forUser) {
			continue
		}
		if after != nil {
			past := m.Timestamp.After(after.Ts) ||
				(m.Timestamp.Equal(after.Ts) && m.MessageID > after.ID)
			if !past {
				continue
			}
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CountFromSender(ctx context.Context, chatID, uid string) (int64, error) {
	var n int64
	for _, m := range s.msgs {
		if m.ChatID == chatID && m.SenderUID == uid {
			n++
		}
	}
	return n, nil
}

func (s *memStore) LastVisibleMessage(ctx context.Context, chatID string) (*domain.Message, error) {
	var last *domain.Message
	for _, m := range s.msgs {
		if m.ChatID != chatID || m.IsDeleted {
			continue
		}
		if last == nil || last.Before(m) {
			last = m
		}
	}
	if last == nil {
		return nil, apperr.ErrNotFound
	}
	cp := *last
	return &cp, nil
}

func (s *memStore) InsertRequest(ctx context.Context, r *domain.FriendRequest) error {
	cp := *r
	s.reqs[r.ID] = &cp
	return nil
}

func (s *memStore) GetRequest(ctx context.Context, id string) (*domain.FriendRequest, error) {
	r, ok := s.reqs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) FindPendingBetween(ctx context.Context, a, b string) (*domain.FriendRequest, error) {
	for _, r := range s.reqs {
		if r.Status != domain.RequestPending {
			continue
		}
		if (r.FromUID == a && r.ToUID == b) || (r.FromUID == b && r.ToUID == a) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *memStore) ResolveRequest(ctx context.Context, id string, status domain.RequestStatus, now time.Time) (bool, error) {
	r, ok := s.reqs[id]
	if !ok || r.Status != domain.RequestPending {
		return false, nil
	}
	r.Status = status
	r.HandledAt = &now
	return true, nil
}

func (s *memStore) MarkRequestSeen(ctx context.Context, id string) error {
	r, ok := s.reqs[id]
	if !ok {
		return apperr.ErrNotFound
	}
	r.Seen = true
	return nil
}

func (s *memStore) ListIncomingRequests(ctx context.Context, uid string) ([]domain.FriendRequest, error) {
	out := []domain.FriendRequest{}
	for _, r := range s.reqs {
		if r.ToUID == uid && r.Status == domain.RequestPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type note struct {
	target  string
	kind    events.Kind
	payload map[string]interface{}
}

type memNotifier struct {
	notes []note
}

func (n *memNotifier) Notify(ctx context.Context, targetUID string, kind events.Kind, payload map[string]interface{}) {
	n.notes = append(n.notes, note{target: targetUID, kind: kind, payload: payload})
}

func (n *memNotifier) ofKind(kind events.Kind) []note {
	out := []note{}
	for _, nt := range n.notes {
		if nt.kind == kind {
			out = append(out, nt)
		}
	}
	return out
}
