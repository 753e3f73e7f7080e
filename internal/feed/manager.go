package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
)

// Defaults for Options.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 5 * time.Second
)

// ExhaustedMessage is the user-visible error once the retry ceiling is reached.
const ExhaustedMessage = "could not connect to lightning feed"

// Conn is one open feed socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens feed sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the feed with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial opens a websocket to url.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial lightning feed: %w", err)
	}
	return conn, nil
}

// Options configures a Manager.
type Options struct {
	URL        string
	MaxRetries int
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// Status is a point-in-time view of the connection.
type Status struct {
	State   State  `json:"state"`
	Retries int    `json:"retries"`
	Error   string `json:"error,omitempty"`
}

// Manager owns the single live socket to the lightning feed. It reconnects with a
// fixed delay after every close and gives up after MaxRetries consecutive closes
// without a successful open.
type Manager struct {
	dialer  Dialer
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu             sync.Mutex
	state          State
	retries        int
	lastErr        string
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
	onExhausted    func()
	exhaustedFired bool
}

// NewManager creates a Manager in the disconnected state.
func NewManager(dialer Dialer, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		dialer:  dialer,
		opts:    opts.withDefaults(),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// OnExhausted registers fn to run once when the retry ceiling is reached. fn runs on
// the connection goroutine and must not call Stop.
func (m *Manager) OnExhausted(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExhausted = fn
}

// Start begins connecting and delivers parsed events to emit. It is a no-op while a
// connect loop is already running or after the feed has been given up on.
func (m *Manager) Start(ctx context.Context, emit func(domain.LightningEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.state == StateExhausted || m.state == StateSimulating {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.run(runCtx, emit, m.done)
}

// Stop closes the socket, cancels any pending reconnect and resets the manager.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(EventStop)
	m.retries = 0
	m.lastErr = ""
	m.exhaustedFired = false
}

// MarkSimulating records that the simulation generator has taken over. It reports
// whether the transition was valid from the current state.
func (m *Manager) MarkSimulating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(EventSimulate)
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Retries: m.retries, Error: m.lastErr}
}

func (m *Manager) run(ctx context.Context, emit func(domain.LightningEvent), done chan struct{}) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	for {
		m.apply(EventConnect)
		conn, err := m.dialer.Dial(ctx, m.opts.URL)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			m.fail(err)
		} else {
			m.opened()
			m.read(ctx, conn, emit)
			if ctx.Err() != nil {
				return
			}
		}

		if m.closed() {
			m.exhaust()
			return
		}

		m.metrics.FeedReconnects.Inc()
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.opts.RetryDelay):
		}
	}
}

// read pumps messages until the socket fails or ctx is cancelled.
func (m *Manager) read(ctx context.Context, conn Conn, emit func(domain.LightningEvent)) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		if stop() {
			_ = conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.fail(err)
			}
			return
		}
		for _, ev := range domain.ParseStrikeMessage(data) {
			m.metrics.StrikesReceived.WithLabelValues("live").Inc()
			emit(ev)
		}
	}
}

func (m *Manager) opened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(EventOpen)
	m.retries = 0
	m.lastErr = ""
	m.logger.Info("lightning feed connected")
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(EventError)
	m.lastErr = describe(err)
	m.logger.Warn("lightning feed error", "error", err, "retries", m.retries)
}

// closed records a close and reports whether the retry ceiling has been reached.
func (m *Manager) closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(EventClose)
	m.retries++
	if m.retries < m.opts.MaxRetries {
		m.logger.Info("lightning feed closed, reconnecting",
			"retries", m.retries, "delay", m.opts.RetryDelay)
		return false
	}
	m.applyLocked(EventExhaust)
	m.lastErr = ExhaustedMessage
	return true
}

func (m *Manager) exhaust() {
	m.mu.Lock()
	fn := m.onExhausted
	fire := !m.exhaustedFired
	m.exhaustedFired = true
	retries := m.retries
	m.mu.Unlock()

	m.logger.Error("lightning feed retries exhausted", "retries", retries)
	m.metrics.FeedRetriesExhausted.Inc()
	if fire && fn != nil {
		fn()
	}
}

func (m *Manager) apply(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(e)
}

func (m *Manager) applyLocked(e Event) bool {
	next, ok := Next(m.state, e)
	if !ok {
		m.logger.Debug("ignored feed event", "state", m.state.String(), "event", e.String())
		return false
	}
	m.state = next
	m.metrics.FeedState.Set(float64(next))
	return true
}

func describe(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Sprintf("lightning feed closed (%d)", ce.Code)
	}
	return "lightning feed connection error"
}
