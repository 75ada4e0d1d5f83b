package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"algohub/internal/algorithm/model"
	"algohub/internal/common/mq"
	appErr "algohub/pkg/errors"
)

// EventPublisher announces submission lifecycle changes.
type EventPublisher interface {
	PublishLifecycle(ctx context.Context, event model.LifecycleEvent) error
}

// MQEventPublisher publishes lifecycle events to a message queue.
type MQEventPublisher struct {
	producer mq.Producer
	topic    string
}

func NewMQEventPublisher(producer mq.Producer, topic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, topic: topic}
}

func (p *MQEventPublisher) PublishLifecycle(ctx context.Context, event model.LifecycleEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	if event.SubmissionID == 0 {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event failed: %w", err)
	}
	// Keyed by submission so one submission's events stay ordered on a partition.
	message := mq.NewMessage(strconv.FormatInt(event.SubmissionID, 10), payload)
	message.SetHeader("event_type", event.EventType)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish lifecycle event failed")
	}
	return nil
}
