package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomIDOrderIndependent(t *testing.T) {
	assert.Equal(t, RoomID("uid_b", "uid_a"), RoomID("uid_a", "uid_b"))
	assert.Equal(t, "uid_a_uid_b", RoomID("uid_b", "uid_a"))
}

func TestStatusForDefaultsToFriends(t *testing.T) {
	// Rooms that predate relationship gating carry no chatStatus map.
	legacy := &ChatRoom{Participants: []string{"uid_a", "uid_b"}}
	assert.Equal(t, StatusFriends, legacy.StatusFor("uid_a"))

	partial := &ChatRoom{
		Participants: []string{"uid_a", "uid_b"},
		ChatStatus:   map[string]ChatStatus{"uid_a": StatusPending},
	}
	assert.Equal(t, StatusPending, partial.StatusFor("uid_a"))
	assert.Equal(t, StatusFriends, partial.StatusFor("uid_b"))
}

func TestPeer(t *testing.T) {
	r := &ChatRoom{Participants: []string{"uid_a", "uid_b"}}
	assert.Equal(t, "uid_b", r.Peer("uid_a"))
	assert.Equal(t, "", r.Peer("uid_c"))
}
