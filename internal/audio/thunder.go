// Package audio synthesizes the thunder cue that accompanies simulated strikes and
// streams it as raw s16le mono PCM to a writer such as a FIFO read by a player.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// SampleRate of the generated PCM stream.
const SampleRate = 22050

// Sounder plays a thunder cue. intensity is in [0, 1].
type Sounder interface {
	Thunder(intensity float64) error
}

// Nop discards every cue.
type Nop struct{}

// Thunder does nothing.
func (Nop) Thunder(float64) error { return nil }

// PCMSounder writes each cue to w as little-endian signed 16-bit mono samples.
type PCMSounder struct {
	mu  sync.Mutex
	w   io.Writer
	rng *rand.Rand
}

// NewPCMSounder returns a sounder writing to w. rng may be nil.
func NewPCMSounder(w io.Writer, rng *rand.Rand) *PCMSounder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &PCMSounder{w: w, rng: rng}
}

// Thunder synthesizes one cue and writes it in a single call.
func (s *PCMSounder) Thunder(intensity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := Synthesize(s.rng, intensity, 1500*time.Millisecond)
	buf := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("write thunder cue: %w", err)
	}
	return nil
}

// Synthesize renders a thunder cue: a short downward-sweeping oscillator transient
// (the crack) mixed with low-pass filtered noise under a slow decay (the rumble).
func Synthesize(rng *rand.Rand, intensity float64, d time.Duration) []int16 {
	intensity = math.Max(0, math.Min(1, intensity))
	n := int(d.Seconds() * SampleRate)
	out := make([]int16, n)

	const (
		crackDecay  = 0.12 // seconds
		rumbleAtk   = 0.03
		rumbleDecay = 0.6
		cutoffHz    = 180.0
	)
	alpha := 1 - math.Exp(-2*math.Pi*cutoffHz/SampleRate)

	var phase, lp float64
	for i := range out {
		t := float64(i) / SampleRate

		freq := 40 + 80*math.Exp(-t/0.25)
		phase += 2 * math.Pi * freq / SampleRate
		crack := math.Sin(phase) * math.Exp(-t/crackDecay)

		lp += alpha * ((rng.Float64()*2 - 1) - lp)
		env := math.Min(1, t/rumbleAtk) * math.Exp(-t/rumbleDecay)
		rumble := 3 * lp * env

		v := intensity * (0.6*crack + 0.8*rumble)
		v = math.Max(-1, math.Min(1, v))
		out[i] = int16(v * math.MaxInt16)
	}
	return out
}

// SafePlay plays a cue and swallows any error or panic from the sounder.
func SafePlay(s Sounder, intensity float64, logger *slog.Logger) {
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("thunder cue panicked", "panic", r)
		}
	}()
	if err := s.Thunder(intensity); err != nil {
		logger.Debug("thunder cue failed", "error", err)
	}
}
