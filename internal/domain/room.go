package domain

import (
	"sort"
	"strings"
	"time"
)

type ChatStatus string

const (
	StatusFriends ChatStatus = "friends"
	StatusUnadded ChatStatus = "unadded"
	StatusPending ChatStatus = "pending"
)

// ChatRoom is the chatRooms/{chatId} document. Field names are the storage
// contract shared with the mobile clients; do not rename.
type ChatRoom struct {
	ChatID          string                `bson:"_id" json:"chatId"`
	Participants    []string              `bson:"participants" json:"participants"`
	LastMessageTs   time.Time             `bson:"lastMessageTs" json:"lastMessageTs"`
	LastMessage     string                `bson:"lastMessage" json:"lastMessage"`
	LastMessageType string                `bson:"lastMessageType" json:"lastMessageType"`
	UnreadCount     map[string]int        `bson:"unreadCount" json:"unreadCount"`
	ChatStatus      map[string]ChatStatus `bson:"chatStatus" json:"chatStatus"`
	CreatedAt       time.Time             `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time             `bson:"updatedAt" json:"updatedAt"`
}

// RoomID derives the room id for a pair of users: the sorted pair joined by
// "_", so both orders produce the same room.
func RoomID(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return strings.Join(p, "_")
}

// StatusFor returns how uid currently perceives the other participant.
// Rooms written before relationship gating existed carry no chatStatus map;
// those read as friends.
func (r *ChatRoom) StatusFor(uid string) ChatStatus {
	if r.ChatStatus == nil {
		return StatusFriends
	}
	s, ok := r.ChatStatus[uid]
	if !ok {
		return StatusFriends
	}
	return s
}

// Peer returns the other participant, or "" when uid is not in the room.
func (r *ChatRoom) Peer(uid string) string {
	for _, p := range r.Participants {
		if p != uid {
			return p
		}
	}
	return ""
}

func (r *ChatRoom) HasParticipant(uid string) bool {
	for _, p := range r.Participants {
		if p == uid {
			return true
		}
	}
	return false
}
