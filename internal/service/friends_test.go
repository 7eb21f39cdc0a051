package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
	"github.com/coyapp/chat-service/internal/events"
)

func newTestWorkflow(t *testing.T) (*Workflow, *memStore, *memNotifier) {
	t.Helper()
	st := newMemStore()
	push := &memNotifier{}
	return NewWorkflow(st, st, push, nil, zap.NewNop().Sugar()), st, push
}

func TestProposeAndAccept(t *testing.T) {
	wf, st, push := newTestWorkflow(t)

	req, err := wf.Propose(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, req.Status)

	notes := push.ofKind(events.KindFriendRequest)
	require.Len(t, notes, 1)
	assert.Equal(t, bob, notes[0].target)

	require.NoError(t, wf.Respond(context.Background(), req.ID, bob, true))

	room, err := st.GetRoom(context.Background(), domain.RoomID(alice, bob))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFriends, room.StatusFor(alice))
	assert.Equal(t, domain.StatusFriends, room.StatusFor(bob))

	accepted := push.ofKind(events.KindFriendAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, alice, accepted[0].target)

	// Replaying the same decision is a no-op; reversing it is not allowed.
	require.NoError(t, wf.Respond(context.Background(), req.ID, bob, true))
	assert.ErrorIs(t, wf.Respond(context.Background(), req.ID, bob, false), apperr.ErrForbidden)
}

func TestProposeMarksRequesterPending(t *testing.T) {
	wf, st, _ := newTestWorkflow(t)

	// The pair already has a preview-stage room.
	room, err := st.GetOrCreateRoom(context.Background(), alice, bob)
	require.NoError(t, err)

	_, err = wf.Propose(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, room.StatusFor(alice))
	assert.Equal(t, domain.StatusUnadded, room.StatusFor(bob))
}

func TestProposeDuplicatePending(t *testing.T) {
	wf, _, _ := newTestWorkflow(t)

	_, err := wf.Propose(context.Background(), alice, bob)
	require.NoError(t, err)

	_, err = wf.Propose(context.Background(), alice, bob)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPending)

	// The reverse direction collides with the same open request.
	_, err = wf.Propose(context.Background(), bob, alice)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPending)
}

func TestProposeAlreadyFriends(t *testing.T) {
	wf, st, _ := newTestWorkflow(t)

	room, err := st.GetOrCreateRoom(context.Background(), alice, bob)
	require.NoError(t, err)
	require.NoError(t, st.UpdateChatStatus(context.Background(), room.ChatID, alice, domain.StatusFriends))
	require.NoError(t, st.UpdateChatStatus(context.Background(), room.ChatID, bob, domain.StatusFriends))

	_, err = wf.Propose(context.Background(), alice, bob)
	assert.ErrorIs(t, err, apperr.ErrAlreadyFriends)
}

func TestProposeSelf(t *testing.T) {
	wf, _, _ := newTestWorkflow(t)
	_, err := wf.Propose(context.Background(), alice, alice)
	assert.ErrorIs(t, err, apperr.ErrInvalidParticipants)
}

func TestRespondRecipientOnly(t *testing.T) {
	wf, _, _ := newTestWorkflow(t)

	req, err := wf.Propose(context.Background(), alice, bob)
	require.NoError(t, err)

	// Neither the requester nor a third party can resolve it.
	assert.ErrorIs(t, wf.Respond(context.Background(), req.ID, alice, true), apperr.ErrForbidden)
	assert.ErrorIs(t, wf.Respond(context.Background(), req.ID, "uid_mallory", true), apperr.ErrForbidden)
}

func TestDenyResetsRequester(t *testing.T) {
	wf, st, push := newTestWorkflow(t)

	room, err := st.GetOrCreateRoom(context.Background(), alice, bob)
	require.NoError(t, err)

	req, err := wf.Propose(context.Background(), alice, bob)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, room.StatusFor(alice))

	require.NoError(t, wf.Respond(context.Background(), req.ID, bob, false))
	assert.Equal(t, domain.StatusUnadded, room.StatusFor(alice))
	assert.Empty(t, push.ofKind(events.KindFriendAccepted))

	// A denial is quiet and leaves the door open for a fresh request.
	_, err = wf.Propose(context.Background(), alice, bob)
	require.NoError(t, err)
}

func TestDenyWithoutRoom(t *testing.T) {
	wf, _, _ := newTestWorkflow(t)

	req, err := wf.Propose(context.Background(), alice, bob)
	require.NoError(t, err)
	require.NoError(t, wf.Respond(context.Background(), req.ID, bob, false))
}

func TestMarkSeenAndListIncoming(t *testing.T) {
	wf, st, _ := newTestWorkflow(t)

	req, err := wf.Propose(context.Background(), alice, bob)
	require.NoError(t, err)

	assert.ErrorIs(t, wf.MarkSeen(context.Background(), req.ID, alice), apperr.ErrForbidden)
	require.NoError(t, wf.MarkSeen(context.Background(), req.ID, bob))

	stored, err := st.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.True(t, stored.Seen)

	incoming, err := wf.ListIncoming(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, req.ID, incoming[0].ID)

	none, err := wf.ListIncoming(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, none)
}
