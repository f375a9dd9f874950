// Package pubsub publishes notification events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// ErrNotConfigured is returned when the publisher has no topic client.
var ErrNotConfigured = errors.New("pubsub publisher is not configured")

// Sender is the part of *pubsub.Publisher used here.
type Sender interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	sender Sender
	source string
}

// New creates a Publisher. source is stamped on every message as the
// "source" attribute.
func New(sender Sender, source string) *Publisher {
	return &Publisher{sender: sender, source: source}
}

// Publish marshals the payload to JSON and publishes it. The logical topic is
// carried as the "event" attribute; the Pub/Sub topic is fixed by the sender.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.sender == nil {
		return "", ErrNotConfigured
	}
	msg, err := NewMessage(topic, p.source, payload)
	if err != nil {
		return "", err
	}
	id, err := p.sender.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// NewMessage builds the Pub/Sub message for payload.
func NewMessage(event, source string, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{"content_type": "application/json"}
	if event != "" {
		attrs["event"] = event
	}
	if source != "" {
		attrs["source"] = source
	}
	return &pubsub.Message{Data: data, Attributes: attrs}, nil
}
