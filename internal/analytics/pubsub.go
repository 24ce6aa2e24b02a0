package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PubsubExporter publishes delivery events as JSON messages.
type PubsubExporter struct {
	publisher *pubsub.Publisher
	logger    *slog.Logger
}

// NewPubsubExporter ensures the topic exists and returns an exporter publishing to it.
func NewPubsubExporter(ctx context.Context, client *pubsub.Client, projectID, topicID string, logger *slog.Logger) (*PubsubExporter, error) {
	logger = logger.With("component", "AnalyticsExporter")
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)

	logger.Debug("Ensuring topic exists", "topic", topicName)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Topic already exists, skipping creation", "topic", topicName)
		} else {
			return nil, fmt.Errorf("could not create topic %s: %w", topicName, err)
		}
	}

	return &PubsubExporter{
		publisher: client.Publisher(topicID),
		logger:    logger,
	}, nil
}

func (e *PubsubExporter) Export(ctx context.Context, event DeliveryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}
	result := e.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"tenant_id": event.TenantID,
			"outcome":   event.Outcome,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish delivery event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (e *PubsubExporter) Stop() {
	e.publisher.Stop()
}
