// Package queue carries work items between the coordinator and the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
)

const contentType = "application/json"

// publisher is the slice of the RabbitMQ client the queue needs.
type publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType, messageID string) error
}

// Publisher enqueues work items as persistent JSON messages.
type Publisher struct {
	client publisher
}

// NewPublisher creates a new Publisher
func NewPublisher(client publisher) *Publisher {
	return &Publisher{client: client}
}

// Enqueue publishes item; the file id doubles as the message id.
func (p *Publisher) Enqueue(ctx context.Context, item domain.WorkItem) error {
	body, err := Encode(item)
	if err != nil {
		return err
	}

	if err := p.client.PublishWithRetry(ctx, body, contentType, item.FileID); err != nil {
		return fmt.Errorf("failed to enqueue file %s: %w", item.FileID, err)
	}

	return nil
}

// Encode marshals a work item into a message body
func Encode(item domain.WorkItem) ([]byte, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal work item: %w", err)
	}
	return body, nil
}

// Decode parses and validates a message body
func Decode(body []byte) (domain.WorkItem, error) {
	var item domain.WorkItem
	if err := json.Unmarshal(body, &item); err != nil {
		return domain.WorkItem{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := item.Validate(); err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}
