package audio

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalledSounder blocks every cue until release is closed.
type stalledSounder struct {
	release chan struct{}

	mu     sync.Mutex
	played int
}

func (s *stalledSounder) Thunder(float64) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played++
	return nil
}

func (s *stalledSounder) Played() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

func TestPlayer_StalledOutputDropsInsteadOfBlocking(t *testing.T) {
	out := &stalledSounder{release: make(chan struct{})}
	p := NewPlayer(out, discardLogger())
	defer p.Close()

	const cues = 100
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range cues {
			_ = p.Thunder(0.8)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Thunder blocked on a stalled output")
	}

	// One cue in flight plus a full queue at most.
	assert.GreaterOrEqual(t, p.Dropped(), cues-defaultQueueSize-1)
	accepted := cues - p.Dropped()

	close(out.release)
	assert.Eventually(t, func() bool { return out.Played() == accepted }, time.Second, 5*time.Millisecond)
}

func TestPlayer_QueueFullError(t *testing.T) {
	out := &stalledSounder{release: make(chan struct{})}
	p := NewPlayer(out, discardLogger())
	defer p.Close()
	defer close(out.release)

	var lastErr error
	for range defaultQueueSize + 2 {
		lastErr = p.Thunder(1)
	}
	require.ErrorIs(t, lastErr, ErrQueueFull)
}

func TestPlayer_ClosedIgnoresCues(t *testing.T) {
	out := &stalledSounder{release: make(chan struct{})}
	close(out.release)
	p := NewPlayer(out, discardLogger())
	p.Close()
	p.Close()

	require.NoError(t, p.Thunder(1))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, out.Played())
}

func TestFileSink_OpensLazilyAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thunder.pcm")
	sink := NewFileSink(path, time.Second)
	defer sink.Close()

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "nothing opened before the first cue")

	s := NewPCMSounder(sink, nil)
	require.NoError(t, s.Thunder(0.5))
	require.NoError(t, s.Thunder(0.5))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*2*int(1.5*SampleRate)), info.Size())
}

func TestFileSink_MissingDirectory(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "missing", "thunder.pcm"), 0)
	_, err := sink.Write([]byte{0, 0})
	require.Error(t, err)
	require.NoError(t, sink.Close())
}
