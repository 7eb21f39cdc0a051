package domain

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDenied   RequestStatus = "denied"
)

// FriendRequest is a friendRequests/{id} document. accepted and denied are
// terminal; a fresh request may follow a denial.
type FriendRequest struct {
	ID        string        `bson:"_id" json:"id"`
	FromUID   string        `bson:"fromUid" json:"fromUid"`
	ToUID     string        `bson:"toUid" json:"toUid"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
	Status    RequestStatus `bson:"status" json:"status"`
	Seen      bool          `bson:"seen" json:"seen"`
	HandledAt *time.Time    `bson:"handledAt,omitempty" json:"handledAt,omitempty"`
}

func (r *FriendRequest) Resolved() bool {
	return r.Status != RequestPending
}
