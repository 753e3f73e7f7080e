package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newTestPublisher(w messageWriter) *Publisher {
	return &Publisher{
		writer:  w,
		metrics: observability.NewMetricsForTesting(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

var receivedAt = time.Date(2025, 6, 14, 18, 0, 0, 0, time.UTC)

func TestStrikeMessage(t *testing.T) {
	ev := domain.LightningEvent{Latitude: 41.6938, Longitude: 44.8015, ReceivedAt: receivedAt, Simulated: true}

	msg, err := strikeMessage(ev)
	require.NoError(t, err)

	assert.Equal(t, "41.69,44.80", string(msg.Key))
	assert.Equal(t, receivedAt, msg.Time)
	assert.JSONEq(t, `{"lat":41.6938,"lon":44.8015,"received_at":"2025-06-14T18:00:00Z","simulated":true}`, string(msg.Value))
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte(KindStrike), msg.Headers[0].Value)
	assert.Equal(t, []byte("simulated"), msg.Headers[1].Value)
	assert.Equal(t, []byte(receivedAt.Format(time.RFC3339)), msg.Headers[2].Value)
}

func TestAlertMessage(t *testing.T) {
	change := domain.AlertChange{
		From:       domain.AlertWarning,
		To:         domain.AlertDanger,
		Observer:   domain.Coordinate{Lat: 41.7, Lng: 44.8},
		DistanceKm: 3.2,
		At:         receivedAt,
	}

	msg, err := alertMessage(change)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "warning", decoded["from"])
	assert.Equal(t, "danger", decoded["to"])
	assert.Equal(t, []byte("danger"), msg.Headers[1].Value)
}

func TestPublisher_CountsByKind(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w)

	require.NoError(t, p.PublishStrike(context.Background(), domain.LightningEvent{ReceivedAt: receivedAt}))
	require.NoError(t, p.PublishStrike(context.Background(), domain.LightningEvent{ReceivedAt: receivedAt}))
	require.NoError(t, p.PublishAlert(context.Background(), domain.AlertChange{To: domain.AlertWarning, At: receivedAt}))

	assert.Len(t, w.msgs, 3)
	assert.InDelta(t, 2.0, testutil.ToFloat64(p.metrics.MessagesPublished.WithLabelValues(KindStrike)), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(p.metrics.MessagesPublished.WithLabelValues(KindAlert)), 1e-9)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	p := newTestPublisher(&fakeWriter{err: errors.New("broker down")})

	err := p.PublishStrike(context.Background(), domain.LightningEvent{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish strike")
	assert.InDelta(t, 1.0, testutil.ToFloat64(p.metrics.PublishErrors), 1e-9)
}
