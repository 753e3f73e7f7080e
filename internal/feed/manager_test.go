package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn replays frames, then fails with err.
type fakeConn struct {
	frames [][]byte
	err    error
	closed atomic.Bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if len(c.frames) == 0 {
		return 0, nil, c.err
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return websocket.TextMessage, f, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// scriptedDialer returns the scripted results in order and fails once they run out.
type scriptedDialer struct {
	mu     sync.Mutex
	script []Conn
	dials  atomic.Int32
}

func (d *scriptedDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.script) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.script[0]
	d.script = d.script[1:]
	if c == nil {
		return nil, errors.New("connection refused")
	}
	return c, nil
}

func newTestManager(d Dialer, clock clockwork.Clock) *Manager {
	return NewManager(d, Options{URL: "wss://feed.test/ws/"}, clock, discardLogger(), observability.NewMetricsForTesting())
}

// driveRetries advances the fake clock through n reconnect delays.
func driveRetries(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range n {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(DefaultRetryDelay)
	}
}

func TestManager_ReconnectCeiling(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{}
	m := newTestManager(dialer, clock)

	var exhausted atomic.Int32
	fired := make(chan struct{}, 5)
	m.OnExhausted(func() {
		exhausted.Add(1)
		fired <- struct{}{}
	})

	m.Start(context.Background(), func(domain.LightningEvent) {})
	defer m.Stop()

	driveRetries(t, clock, DefaultMaxRetries-1)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion callback not invoked")
	}

	// Nothing else is scheduled: advancing time does not dial again.
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(DefaultMaxRetries), dialer.dials.Load())
	assert.Equal(t, int32(1), exhausted.Load())

	status := m.Status()
	assert.Equal(t, StateExhausted, status.State)
	assert.Equal(t, ExhaustedMessage, status.Error)
	assert.Equal(t, DefaultMaxRetries, status.Retries)

	// A further Start after exhaustion is ignored.
	m.Start(context.Background(), func(domain.LightningEvent) {})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(DefaultMaxRetries), dialer.dials.Load())
}

func TestManager_OpenResetsRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := &fakeConn{
		frames: [][]byte{[]byte(`{"lat":41.7,"lon":44.8}`), []byte("ping")},
		err:    &websocket.CloseError{Code: websocket.CloseAbnormalClosure},
	}
	dialer := &scriptedDialer{script: []Conn{nil, nil, conn}}
	m := newTestManager(dialer, clock)

	fired := make(chan struct{}, 1)
	m.OnExhausted(func() { fired <- struct{}{} })

	var events atomic.Int32
	m.Start(context.Background(), func(ev domain.LightningEvent) {
		events.Add(1)
		assert.InDelta(t, 41.7, ev.Latitude, 1e-9)
	})
	defer m.Stop()

	// Two failed dials, one session that closes, then four more failures.
	driveRetries(t, clock, 2+DefaultMaxRetries-1)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion callback not invoked")
	}

	assert.Equal(t, int32(2+1+DefaultMaxRetries-1), dialer.dials.Load())
	assert.Equal(t, int32(1), events.Load())
	assert.True(t, conn.closed.Load())
}

func TestManager_StopCancelsPendingReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{}
	m := newTestManager(dialer, clock)

	m.Start(context.Background(), func(domain.LightningEvent) {})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	m.Stop()
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), dialer.dials.Load())
	status := m.Status()
	assert.Equal(t, StateDisconnected, status.State)
	assert.Zero(t, status.Retries)
	assert.Empty(t, status.Error)
}

func TestManager_MarkSimulating(t *testing.T) {
	m := newTestManager(&scriptedDialer{}, clockwork.NewFakeClock())
	assert.True(t, m.MarkSimulating())
	assert.Equal(t, StateSimulating, m.Status().State)

	// The live feed stays idle once the simulator owns the event stream.
	m.Start(context.Background(), func(domain.LightningEvent) {})
	m.Stop()
	assert.Equal(t, StateDisconnected, m.Status().State)
}

func TestManager_WebsocketSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		frames := []string{
			`{"lat":41.7,"lon":44.8,"type":0}`,
			`keep-alive`,
			`[{"lat":42.1,"lon":45.2},{"foo":1},{"lat":"x","lon":1}]`,
		}
		for _, f := range frames {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := NewManager(WebsocketDialer{}, Options{URL: url}, clockwork.NewRealClock(), discardLogger(), observability.NewMetricsForTesting())

	got := make(chan domain.LightningEvent, 4)
	m.Start(context.Background(), func(ev domain.LightningEvent) { got <- ev })

	var events []domain.LightningEvent
	for len(events) < 2 {
		select {
		case ev := <-got:
			events = append(events, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d events, want 2", len(events))
		}
	}

	assert.Equal(t, StateConnected, m.Status().State)
	assert.InDelta(t, 44.8, events[0].Longitude, 1e-9)
	assert.InDelta(t, 45.2, events[1].Longitude, 1e-9)
	assert.JSONEq(t, `{"lat":41.7,"lon":44.8,"type":0}`, string(events[0].Raw))

	m.Stop()
	assert.Equal(t, StateDisconnected, m.Status().State)
}

func TestWebsocketDialer_Failure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := WebsocketDialer{}.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial lightning feed")
}
