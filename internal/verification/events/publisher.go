// Package events delivers verification outcomes to issuing parties.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"geoverify/internal/verification/models"
)

const eventTypeHeader = "event-type"

// EventTypeResult labels result events on the wire.
const EventTypeResult = "verification.result"

// KafkaPublisher produces one record per finalized token, keyed by
// verification id so all events of a verification share a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

func (p *KafkaPublisher) PublishResult(ctx context.Context, event models.ResultEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal result event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.VerificationID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: eventTypeHeader, Value: []byte(EventTypeResult)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce result event: %w", err)
	}
	return nil
}

// LogPublisher writes events to the log when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishResult(ctx context.Context, event models.ResultEvent) error {
	attrs := []any{
		"verification_id", event.VerificationID,
		"token_id", event.TokenPrefix,
		"issuer_kind", event.IssuedBy.Kind,
		"issuer_id", event.IssuedBy.ID,
		"token_status", event.TokenStatus,
	}
	if event.Result != nil {
		attrs = append(attrs, "result", event.Result.Status, "risk_score", event.Result.RiskScore)
	}
	p.logger.InfoContext(ctx, "verification result", attrs...)
	return nil
}
