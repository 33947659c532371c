package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/contentloop/publishd/internal/events"
)

// TopicPublisher is the slice of the Pub/Sub topic API the sink needs.
type TopicPublisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
	Stop()
}

// PubSubSink delivers terminal job outcomes to a Google Cloud Pub/Sub topic
// so downstream systems can react to published articles without polling the
// jobs API. Intermediate stages are not forwarded.
type PubSubSink struct {
	topic TopicPublisher
}

// outcomeMessage is the JSON payload published per terminal event.
type outcomeMessage struct {
	JobID      string    `json:"job_id"`
	Site       string    `json:"site"`
	Success    bool      `json:"success"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewPubSubSink wraps a topic publisher.
func NewPubSubSink(topic TopicPublisher) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// Consume publishes one message per terminal event in the batch.
func (s *PubSubSink) Consume(ctx context.Context, batch []events.Event) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	for _, evt := range batch {
		if evt.Stage != events.StageJobDone && evt.Stage != events.StageJobError {
			continue
		}
		msg := outcomeMessage{
			JobID:      evt.JobID,
			Site:       evt.Site,
			Success:    evt.Stage == events.StageJobDone,
			URL:        evt.URL,
			Error:      evt.Note,
			Attempts:   evt.Attempt,
			FinishedAt: evt.TS,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal outcome message: %w", err)
		}
		attrs := map[string]string{
			"stage": string(evt.Stage),
			"site":  evt.Site,
		}
		if _, err := s.topic.Publish(ctx, data, attrs); err != nil {
			return fmt.Errorf("publish outcome for job %s: %w", evt.JobID, err)
		}
	}
	return nil
}

// Close stops the topic publisher and flushes buffered messages.
func (s *PubSubSink) Close(context.Context) error {
	if s.topic != nil {
		s.topic.Stop()
	}
	return nil
}

// GCPTopic adapts a *pubsub.Topic to TopicPublisher.
type GCPTopic struct {
	topic *pubsub.Topic
}

// NewGCPTopic wraps an existing topic handle.
func NewGCPTopic(topic *pubsub.Topic) *GCPTopic {
	return &GCPTopic{topic: topic}
}

// Publish sends the message and waits for the server-assigned id.
func (t *GCPTopic) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	result := t.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes and stops the underlying topic.
func (t *GCPTopic) Stop() {
	t.topic.Stop()
}
