// Package events publishes ledger changes for downstream consumers
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/ppiankov/newsledger/internal/model"
)

// TypeStoryScored is the event type for a new ledger entry
const TypeStoryScored = "story.scored"

// StoryScored is the payload published for every appended ledger entry
type StoryScored struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	StoryID     string    `json:"story_id"`
	Version     int       `json:"version"`
	SnapshotID  string    `json:"snapshot_id"`
	Outlet      string    `json:"outlet"`
	OutletGroup string    `json:"outlet_group"`
	StoryURL    string    `json:"story_url"`
	Title       string    `json:"title"`
	IntentScore *float64  `json:"bias_intent_score"`
	PIScore     *float64  `json:"pi_score"`
	CapturedAt  time.Time `json:"captured_at"`
	ScoredAt    time.Time `json:"scored_at"`
}

// NewStoryScored builds the event for a ledger entry
func NewStoryScored(s model.ScoredStory) StoryScored {
	return StoryScored{
		Type:        TypeStoryScored,
		ID:          s.ID,
		StoryID:     s.StoryID,
		Version:     s.Version,
		SnapshotID:  s.SnapshotID,
		Outlet:      s.Outlet,
		OutletGroup: s.OutletGroup,
		StoryURL:    s.StoryURL,
		Title:       s.Title,
		IntentScore: s.Intent,
		PIScore:     s.PI,
		CapturedAt:  s.CapturedAt,
		ScoredAt:    s.ScoredAt,
	}
}

// Publisher sends ledger events
type Publisher interface {
	PublishScored(ctx context.Context, story model.ScoredStory) error
	Close() error
}

// Nop discards events
type Nop struct{}

// PublishScored implements Publisher
func (Nop) PublishScored(context.Context, model.ScoredStory) error { return nil }

// Close implements Publisher
func (Nop) Close() error { return nil }

// KafkaPublisher writes events to a Kafka topic keyed by story id, so every
// version of a story lands on the same partition in order
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer to brokers
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// PublishScored implements Publisher
func (p *KafkaPublisher) PublishScored(ctx context.Context, story model.ScoredStory) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(NewStoryScored(story))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(story.StoryID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(TypeStoryScored)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish %s: %w", story.ID, err)
	}
	return nil
}

// Close implements Publisher
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
