// Package kafka publishes strikes and proximity alert transitions to a topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-overlay-service/internal/config"
	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
)

const (
	KindStrike = "strike"
	KindAlert  = "alert"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces strike and alert messages. It implements overlay.Publisher.
// Writes are asynchronous so a slow broker never stalls the event fan-out;
// delivery failures surface through the PublishErrors metric.
type Publisher struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           100 * time.Millisecond,
		Async:                  true,
		AllowAutoTopicCreation: true,
	}
	w.Completion = func(msgs []kafkago.Message, err error) {
		if err == nil {
			return
		}
		metrics.PublishErrors.Add(float64(len(msgs)))
		logger.Warn("kafka delivery failed", "messages", len(msgs), "error", err)
	}
	return &Publisher{writer: w, metrics: metrics, logger: logger}
}

// PublishStrike enqueues one lightning event.
func (p *Publisher) PublishStrike(ctx context.Context, ev domain.LightningEvent) error {
	msg, err := strikeMessage(ev)
	if err != nil {
		return err
	}
	return p.publish(ctx, KindStrike, msg)
}

// PublishAlert enqueues one alert level transition.
func (p *Publisher) PublishAlert(ctx context.Context, change domain.AlertChange) error {
	msg, err := alertMessage(change)
	if err != nil {
		return err
	}
	return p.publish(ctx, KindAlert, msg)
}

func (p *Publisher) publish(ctx context.Context, kind string, msg kafkago.Message) error {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.PublishErrors.Inc()
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	p.metrics.MessagesPublished.WithLabelValues(kind).Inc()
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// cellKey buckets a position to roughly 1 km so strikes from one storm cell
// land on the same partition.
func cellKey(c domain.Coordinate) []byte {
	return fmt.Appendf(nil, "%.2f,%.2f", c.Lat, c.Lng)
}

func strikeMessage(ev domain.LightningEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize strike: %w", err)
	}
	source := "live"
	if ev.Simulated {
		source = "simulated"
	}
	return kafkago.Message{
		Key:   cellKey(ev.Coordinate()),
		Value: data,
		Time:  ev.ReceivedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(KindStrike)},
			{Key: "source", Value: []byte(source)},
			{Key: "received_at", Value: []byte(ev.ReceivedAt.Format(time.RFC3339))},
		},
	}, nil
}

func alertMessage(change domain.AlertChange) (kafkago.Message, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   cellKey(change.Observer),
		Value: data,
		Time:  change.At,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(KindAlert)},
			{Key: "level", Value: []byte(change.To.String())},
		},
	}, nil
}
