package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubPublisherConfig holds configuration for the Pub/Sub publisher.
type PubsubPublisherConfig struct {
	ProjectID string
	TopicID   string
	// TopicExistsTimeout bounds the existence check at construction time.
	TopicExistsTimeout time.Duration
	// PublishConfirmationTimeout bounds how long a publish waits for the
	// broker to confirm.
	PublishConfirmationTimeout time.Duration
}

// PubsubPublisher publishes completion events to a Google Pub/Sub topic.
// It validates the topic's existence before returning a functional publisher.
type PubsubPublisher struct {
	topic                      *pubsub.Topic
	logger                     zerolog.Logger
	publishConfirmationTimeout time.Duration
}

// NewPubsubPublisher creates a publisher over an injected Pub/Sub client.
func NewPubsubPublisher(
	ctx context.Context,
	cfg *PubsubPublisherConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*PubsubPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if cfg.TopicExistsTimeout <= 0 {
		cfg.TopicExistsTimeout = 15 * time.Second
	}
	if cfg.PublishConfirmationTimeout <= 0 {
		cfg.PublishConfirmationTimeout = 20 * time.Second
	}

	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("PubsubPublisher initialized successfully.")
	return &PubsubPublisher{
		topic:                      topic,
		logger:                     logger.With().Str("component", "PubsubPublisher").Str("topic_id", cfg.TopicID).Logger(),
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Publish sends one completion event and waits for broker confirmation.
func (p *PubsubPublisher) Publish(ctx context.Context, event CompletionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal completion event for task %s: %w", event.TaskID, err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"taskId": event.TaskID,
		},
	})

	confirmCtx, cancel := context.WithTimeout(ctx, p.publishConfirmationTimeout)
	defer cancel()
	messageID, err := result.Get(confirmCtx)
	if err != nil {
		p.logger.Error().Err(err).Str("task_id", event.TaskID).Msg("Failed to publish completion event.")
		return fmt.Errorf("publish confirmation for task %s: %w", event.TaskID, err)
	}

	p.logger.Debug().Str("task_id", event.TaskID).Str("message_id", messageID).Msg("Completion event published.")
	return nil
}

// NotifyCompleted adapts the publisher to the task poller's notification
// hook.
func (p *PubsubPublisher) NotifyCompleted(ctx context.Context, taskID string, correlationKeys []string, attempts int) error {
	return p.Publish(ctx, CompletionEvent{
		TaskID:          taskID,
		CorrelationKeys: correlationKeys,
		Attempts:        attempts,
		CompletedAt:     time.Now().UTC(),
	})
}

// Stop flushes any buffered messages and releases topic resources.
func (p *PubsubPublisher) Stop(_ context.Context) error {
	p.logger.Info().Msg("Stopping PubsubPublisher, flushing pending messages...")
	p.topic.Stop()
	return nil
}
