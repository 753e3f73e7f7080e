package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"
)

// ErrQueueFull is returned by Player.Thunder when a cue is dropped.
var ErrQueueFull = errors.New("thunder queue full")

const defaultQueueSize = 4

// Player plays cues on a single worker goroutine. Thunder never blocks: when the
// queue is full the cue is dropped, so a stalled output costs at most one
// goroutine and a few queued cues.
type Player struct {
	out    Sounder
	logger *slog.Logger
	queue  chan float64
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	dropped int
}

// NewPlayer starts the worker feeding out. Close stops it.
func NewPlayer(out Sounder, logger *slog.Logger) *Player {
	p := &Player{
		out:    out,
		logger: logger,
		queue:  make(chan float64, defaultQueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Thunder queues a cue without waiting for it to play.
func (p *Player) Thunder(intensity float64) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	select {
	case p.queue <- intensity:
		return nil
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return ErrQueueFull
	}
}

// Dropped reports how many cues were discarded because the queue was full.
func (p *Player) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops the worker. A cue already being written is not interrupted.
func (p *Player) Close() {
	p.once.Do(func() { close(p.done) })
}

func (p *Player) run() {
	for {
		select {
		case <-p.done:
			return
		case intensity := <-p.queue:
			SafePlay(p.out, intensity, p.logger)
		}
	}
}

// FileSink writes cues to a path opened on first use. The open is non-blocking,
// so a FIFO without a reader fails with ENXIO instead of hanging; the next write
// tries again. Failed writes close the file for the same reason.
type FileSink struct {
	path         string
	writeTimeout time.Duration

	mu sync.Mutex
	f  *os.File
}

// NewFileSink returns a sink for path. writeTimeout bounds each write on
// pollable files such as FIFOs; zero disables it.
func NewFileSink(path string, writeTimeout time.Duration) *FileSink {
	return &FileSink{path: path, writeTimeout: writeTimeout}
}

func (s *FileSink) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE|syscall.O_NONBLOCK, 0o644)
		if err != nil {
			if errors.Is(err, syscall.ENXIO) {
				return 0, fmt.Errorf("open %s: no reader attached", s.path)
			}
			return 0, fmt.Errorf("open %s: %w", s.path, err)
		}
		s.f = f
	}
	if s.writeTimeout > 0 {
		// Regular files report ErrNoDeadline; their writes do not stall.
		_ = s.f.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	n, err := s.f.Write(b)
	if err != nil {
		_ = s.f.Close()
		s.f = nil
		return n, fmt.Errorf("write %s: %w", s.path, err)
	}
	return n, nil
}

// Close releases the underlying file, if open.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
