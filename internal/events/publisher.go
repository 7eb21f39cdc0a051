package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/kafka"
	"github.com/coyapp/chat-service/internal/metrics"
)

// Kind is the push event type the notification service fans out on.
type Kind string

const (
	KindNewMessage     Kind = "newMessage"
	KindFriendRequest  Kind = "friendRequest"
	KindFriendAccepted Kind = "friendAccepted"
)

// Notification is the wire shape on the notify topic.
type Notification struct {
	TargetUID string                 `json:"targetUid"`
	Kind      Kind                   `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	SentAt    time.Time              `json:"sentAt"`
}

// Publisher emits "notify user X about event Y" onto the push topic. The
// core never talks to APNs/FCM itself.
type Publisher struct {
	prod *kafka.Producer
	log  *zap.SugaredLogger
}

func NewPublisher(prod *kafka.Producer, log *zap.SugaredLogger) *Publisher {
	return &Publisher{prod: prod, log: log}
}

// Notify is fire-and-forget from the caller's point of view: a failed
// publish is logged, never surfaced as an operation failure, because push is
// best-effort by contract.
func (p *Publisher) Notify(ctx context.Context, targetUID string, kind Kind, payload map[string]interface{}) {
	ev := Notification{
		TargetUID: targetUID,
		Kind:      kind,
		Payload:   payload,
		SentAt:    time.Now().UTC(),
	}
	if err := p.prod.Publish(ctx, targetUID, ev); err != nil {
		p.log.Warnw("push publish failed", "target", targetUID, "kind", kind, "err", err)
		return
	}
	metrics.PushEvents.WithLabelValues(string(kind)).Inc()
}
