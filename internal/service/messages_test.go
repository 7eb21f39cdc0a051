package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
	"github.com/coyapp/chat-service/internal/events"
	"github.com/coyapp/chat-service/internal/store"
)

const (
	alice = "uid_alice"
	bob   = "uid_bob"
)

func newTestLedger(t *testing.T) (*Ledger, *memStore, *memNotifier) {
	t.Helper()
	st := newMemStore()
	push := &memNotifier{}
	return NewLedger(st, st, st, push, nil, 1, zap.NewNop().Sugar()), st, push
}

func mustRoom(t *testing.T, st *memStore) *domain.ChatRoom {
	t.Helper()
	room, err := st.GetOrCreateRoom(context.Background(), alice, bob)
	require.NoError(t, err)
	return room
}

func befriend(t *testing.T, st *memStore, chatID string) {
	t.Helper()
	require.NoError(t, st.UpdateChatStatus(context.Background(), chatID, alice, domain.StatusFriends))
	require.NoError(t, st.UpdateChatStatus(context.Background(), chatID, bob, domain.StatusFriends))
}

func TestSendUpdatesPreviewAndUnread(t *testing.T) {
	ledger, st, push := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)

	msg, err := ledger.Send(context.Background(), SendInput{
		ChatID:    room.ChatID,
		SenderUID: alice,
		Content:   "hello",
		Type:      domain.TypeText,
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.MessageID)

	assert.Equal(t, "hello", room.LastMessage)
	assert.Equal(t, string(domain.TypeText), room.LastMessageType)
	assert.Equal(t, 1, room.UnreadCount[bob])
	assert.Equal(t, 0, room.UnreadCount[alice])

	// The sender implicitly delivered and read their own message.
	assert.Equal(t, []string{alice}, msg.DeliveredTo)
	assert.Equal(t, []string{alice}, msg.ReadBy)

	notes := push.ofKind(events.KindNewMessage)
	require.Len(t, notes, 1)
	assert.Equal(t, bob, notes[0].target)
}

func TestSendPreviewAllowanceGate(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)

	// Fresh rooms start unadded on both sides: one preview message passes.
	_, err := ledger.Send(context.Background(), SendInput{
		ChatID: room.ChatID, SenderUID: alice, Content: "hi, we met earlier", Type: domain.TypeText,
	})
	require.NoError(t, err)

	_, err = ledger.Send(context.Background(), SendInput{
		ChatID: room.ChatID, SenderUID: alice, Content: "one more", Type: domain.TypeText,
	})
	assert.ErrorIs(t, err, apperr.ErrSendNotAllowed)

	// Once the pair is friends the gate disappears.
	befriend(t, st, room.ChatID)
	_, err = ledger.Send(context.Background(), SendInput{
		ChatID: room.ChatID, SenderUID: alice, Content: "one more", Type: domain.TypeText,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, room.UnreadCount[bob])
}

func TestSendReplayIsIdempotent(t *testing.T) {
	ledger, st, push := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)

	in := SendInput{
		MessageID: "client-id-1",
		ChatID:    room.ChatID,
		SenderUID: alice,
		Content:   "queued offline",
		Type:      domain.TypeText,
	}
	first, err := ledger.Send(context.Background(), in)
	require.NoError(t, err)

	replay, err := ledger.Send(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.MessageID, replay.MessageID)

	assert.Len(t, st.msgs, 1)
	assert.Equal(t, 1, room.UnreadCount[bob])
	assert.Len(t, push.ofKind(events.KindNewMessage), 1)
}

func TestSendRejectsOutsiderAndBadInput(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)

	_, err := ledger.Send(context.Background(), SendInput{
		ChatID: room.ChatID, SenderUID: "uid_mallory", Content: "hi", Type: domain.TypeText,
	})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = ledger.Send(context.Background(), SendInput{
		ChatID: room.ChatID, SenderUID: alice, Content: "", Type: domain.TypeText,
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = ledger.Send(context.Background(), SendInput{
		ChatID: room.ChatID, SenderUID: alice, Content: "hi", Type: "carrier_pigeon",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func sendText(t *testing.T, ledger *Ledger, chatID, sender, content string) *domain.Message {
	t.Helper()
	msg, err := ledger.Send(context.Background(), SendInput{
		ChatID: chatID, SenderUID: sender, Content: content, Type: domain.TypeText,
	})
	require.NoError(t, err)
	return msg
}

func TestEditCap(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)
	msg := sendText(t, ledger, room.ChatID, alice, "teh message")

	one, err := ledger.Edit(context.Background(), msg.MessageID, alice, "the message")
	require.NoError(t, err)
	assert.True(t, one.IsEdited)
	assert.Equal(t, 1, one.EditCount)

	two, err := ledger.Edit(context.Background(), msg.MessageID, alice, "the message!")
	require.NoError(t, err)
	assert.Equal(t, 2, two.EditCount)

	_, err = ledger.Edit(context.Background(), msg.MessageID, alice, "the message!!")
	assert.ErrorIs(t, err, apperr.ErrEditLimitExceeded)

	final, err := st.GetMessage(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "the message!", final.Content)
	assert.Equal(t, 2, final.EditCount)
}

func TestEditRules(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)
	msg := sendText(t, ledger, room.ChatID, alice, "mine")

	_, err := ledger.Edit(context.Background(), msg.MessageID, bob, "not yours")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, ledger.DeleteForEveryone(context.Background(), msg.MessageID, alice))
	_, err = ledger.Edit(context.Background(), msg.MessageID, alice, "too late")
	assert.ErrorIs(t, err, apperr.ErrAlreadyDeleted)
}

func TestDeleteForEveryone(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)
	first := sendText(t, ledger, room.ChatID, alice, "keep this")
	second := sendText(t, ledger, room.ChatID, alice, "regret this")

	require.NoError(t, ledger.DeleteForEveryone(context.Background(), second.MessageID, alice))

	tomb, err := st.GetMessage(context.Background(), second.MessageID)
	require.NoError(t, err)
	assert.True(t, tomb.IsDeleted)
	assert.Empty(t, tomb.Content)

	// Preview falls back to the newest message still visible.
	assert.Equal(t, "keep this", room.LastMessage)
	assert.Equal(t, first.Timestamp, room.LastMessageTs)

	// Deleting again is a no-op; a non-sender cannot delete for everyone.
	require.NoError(t, ledger.DeleteForEveryone(context.Background(), second.MessageID, alice))
	err = ledger.DeleteForEveryone(context.Background(), first.MessageID, bob)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestDeleteForSelf(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)
	msg := sendText(t, ledger, room.ChatID, alice, "awkward")

	require.NoError(t, ledger.DeleteForSelf(context.Background(), msg.MessageID, bob))
	require.NoError(t, ledger.DeleteForSelf(context.Background(), msg.MessageID, bob))

	forBob, _, err := ledger.ListMessages(context.Background(), room.ChatID, bob, nil, 50)
	require.NoError(t, err)
	assert.Empty(t, forBob)

	forAlice, _, err := ledger.ListMessages(context.Background(), room.ChatID, alice, nil, 50)
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	assert.Equal(t, "awkward", forAlice[0].Content)
}

func TestReactions(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)
	msg := sendText(t, ledger, room.ChatID, alice, "pun intended")

	require.NoError(t, ledger.React(context.Background(), msg.MessageID, bob, "👍"))
	require.NoError(t, ledger.React(context.Background(), msg.MessageID, bob, "😂"))

	got, err := st.GetMessage(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{bob: "😂"}, got.Reactions)

	require.NoError(t, ledger.React(context.Background(), msg.MessageID, bob, ""))
	got, err = st.GetMessage(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)

	err = ledger.React(context.Background(), msg.MessageID, "uid_mallory", "🔥")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, ledger.DeleteForEveryone(context.Background(), msg.MessageID, alice))
	err = ledger.React(context.Background(), msg.MessageID, bob, "👍")
	assert.ErrorIs(t, err, apperr.ErrAlreadyDeleted)
}

func TestMarkReadImpliesDelivered(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)
	msg := sendText(t, ledger, room.ChatID, alice, "seen?")

	require.NoError(t, ledger.MarkRead(context.Background(), msg.MessageID, bob))

	got, err := st.GetMessage(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Contains(t, got.DeliveredTo, bob)
	assert.Contains(t, got.ReadBy, bob)
}

func TestMarkRoomRead(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)
	fromAlice := sendText(t, ledger, room.ChatID, alice, "one")
	sendText(t, ledger, room.ChatID, alice, "two")
	fromBob := sendText(t, ledger, room.ChatID, bob, "reply")

	require.NoError(t, ledger.MarkRoomRead(context.Background(), room.ChatID, bob))

	got, err := st.GetMessage(context.Background(), fromAlice.MessageID)
	require.NoError(t, err)
	assert.Contains(t, got.ReadBy, bob)
	assert.Equal(t, 0, room.UnreadCount[bob])

	// Bob's own message is untouched.
	own, err := st.GetMessage(context.Background(), fromBob.MessageID)
	require.NoError(t, err)
	assert.NotContains(t, own.ReadBy, alice)

	err = ledger.MarkRoomRead(context.Background(), room.ChatID, "uid_mallory")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

// readRaceStore simulates a send transaction committing while a room-read is
// in flight: the send lands at the reset boundary, serialized after whatever
// transaction is currently open.
type readRaceStore struct {
	*memStore
	inTx    bool
	send    func()
	pending func()
}

func (s *readRaceStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.inTx = true
	err := s.memStore.WithTransaction(ctx, fn)
	s.inTx = false
	if err == nil && s.pending != nil {
		s.pending()
		s.pending = nil
	}
	return err
}

func (s *readRaceStore) ResetUnread(ctx context.Context, chatID, uid string) error {
	if s.send != nil {
		if s.inTx {
			s.pending = s.send
		} else {
			s.send()
		}
		s.send = nil
	}
	return s.memStore.ResetUnread(ctx, chatID, uid)
}

func TestMarkRoomReadDoesNotSwallowConcurrentSend(t *testing.T) {
	base := newMemStore()
	st := &readRaceStore{memStore: base}
	ledger := NewLedger(st, st, st, &memNotifier{}, nil, 1, zap.NewNop().Sugar())

	room, err := base.GetOrCreateRoom(context.Background(), alice, bob)
	require.NoError(t, err)
	befriend(t, base, room.ChatID)
	sendText(t, ledger, room.ChatID, alice, "before the read")

	// A send from alice commits while bob's room-read is between the receipt
	// writes and the counter reset.
	st.send = func() {
		_, err := base.InsertMessage(context.Background(), &domain.Message{
			MessageID:   "m-new",
			ChatID:      room.ChatID,
			SenderUID:   alice,
			Content:     "while you were reading",
			Type:        domain.TypeText,
			Timestamp:   time.Now().UTC(),
			DeliveredTo: []string{alice},
			ReadBy:      []string{alice},
		})
		require.NoError(t, err)
		require.NoError(t, base.IncrementUnread(context.Background(), room.ChatID, bob))
	}

	require.NoError(t, ledger.MarkRoomRead(context.Background(), room.ChatID, bob))

	// The new message is unread and unmarked, so its increment must survive.
	assert.Equal(t, 1, room.UnreadCount[bob])
	got, err := base.GetMessage(context.Background(), "m-new")
	require.NoError(t, err)
	assert.NotContains(t, got.ReadBy, bob)
}

func TestListMessagesPagination(t *testing.T) {
	ledger, st, _ := newTestLedger(t)
	room := mustRoom(t, st)
	befriend(t, st, room.ChatID)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	for i, id := range ids {
		_, err := st.InsertMessage(context.Background(), &domain.Message{
			MessageID: id,
			ChatID:    room.ChatID,
			SenderUID: alice,
			Content:   id,
			Type:      domain.TypeText,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	var got []string
	var after *store.Cursor
	for {
		page, next, err := ledger.ListMessages(context.Background(), room.ChatID, bob, after, 2)
		require.NoError(t, err)
		for _, m := range page {
			got = append(got, m.MessageID)
		}
		if next == "" {
			break
		}
		cur, err := store.DecodeCursor(next)
		require.NoError(t, err)
		after = cur
	}
	assert.Equal(t, ids, got)
}
