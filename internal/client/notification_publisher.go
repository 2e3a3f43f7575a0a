package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-itsm-approvals/internal/repository"
)

// NotificationPublisher publishes approval lifecycle events to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: notifications.itsm.<event_type>
// Event types: approval_requested, approval_step_approved, approval_approved,
//              approval_rejected, approval_cancelled
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType      string         `json:"event_type"`
	ActorID        int64          `json:"actor_id"`
	Recipients     []int64        `json:"recipients"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     int64          `json:"resource_id"`
	ApprovalNumber string         `json:"approval_number"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher over an established NATS
// connection.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) (*NotificationPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return &NotificationPublisher{js: js, log: log}, nil
}

// PublishApprovalEvent publishes one approval lifecycle event.
// Subject: notifications.itsm.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType string, approval *repository.Approval, actorID int64, recipients []int64) {
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:      eventType,
		ActorID:        actorID,
		Recipients:     recipients,
		ResourceType:   "approval",
		ResourceID:     approval.ID,
		ApprovalNumber: approval.ApprovalNumber,
		Payload: map[string]any{
			"approval_type": approval.ApprovalType,
			"target_id":     approval.TargetID,
			"status":        approval.Status,
			"current_step":  approval.CurrentStep,
			"total_steps":   approval.TotalSteps,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.itsm.%s", eventType)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("approval_number", approval.ApprovalNumber).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("approval_number", approval.ApprovalNumber).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
