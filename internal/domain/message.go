package domain

import "time"

type MessageType string

const (
	TypeText      MessageType = "text"
	TypeImage     MessageType = "image"
	TypeVideo     MessageType = "video"
	TypeLivePhoto MessageType = "live_photo"
	TypeVoice     MessageType = "voice"
)

// MaxEdits is the lifetime edit cap per message.
const MaxEdits = 2

// Message is a chatRooms/{chatId}/messages document. messageId is
// client-generated so a retried send upserts instead of duplicating.
type Message struct {
	MessageID        string            `bson:"_id" json:"messageId"`
	ChatID           string            `bson:"chatId" json:"chatId"`
	SenderUID        string            `bson:"senderUid" json:"senderUid"`
	Content          string            `bson:"content" json:"content"`
	Type             MessageType       `bson:"type" json:"type"`
	Timestamp        time.Time         `bson:"timestamp" json:"timestamp"`
	IsDeleted        bool              `bson:"isDeleted" json:"isDeleted"`
	DeletedFor       []string          `bson:"deletedFor" json:"deletedFor"`
	IsEdited         bool              `bson:"isEdited" json:"isEdited"`
	EditedAt         *time.Time        `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	EditCount        int               `bson:"editCount" json:"editCount"`
	Reactions        map[string]string `bson:"reactions" json:"reactions"`
	ReplyToMessageID string            `bson:"replyToMessageId,omitempty" json:"replyToMessageId,omitempty"`
	DeliveredTo      []string          `bson:"deliveredTo" json:"deliveredTo"`
	ReadBy           []string          `bson:"readBy" json:"readBy"`
}

func ValidMessageType(t MessageType) bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeLivePhoto, TypeVoice:
		return true
	}
	return false
}

// HiddenFor reports whether uid cleared this message from their own view.
func (m *Message) HiddenFor(uid string) bool {
	for _, u := range m.DeletedFor {
		if u == uid {
			return true
		}
	}
	return false
}

// Before orders messages by (timestamp, messageId); the id breaks timestamp
// ties so every client renders the same order.
func (m *Message) Before(o *Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.MessageID < o.MessageID
}
