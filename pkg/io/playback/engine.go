// Package playback turns model audio into fixed size output frames. The
// device callback calls Render once per tick; everything else only touches the
// queue under a short lock so the callback never waits on network or decode work.
package playback

import (
	"sync"
	"sync/atomic"

	"github.com/xpanvictor/cortado/pkg/Logger"
	audioring "github.com/xpanvictor/cortado/pkg/io/audioRing"
	"github.com/xpanvictor/cortado/pkg/io/pcm"
)

type Config struct {
	FrameSize  int
	SampleRate int
	// BufferSeconds bounds the queue; older audio is dropped past it.
	BufferSeconds int
	Volume        int
}

func DefaultConfig() Config {
	return Config{
		FrameSize:     128,
		SampleRate:    24000,
		BufferSeconds: 120,
		Volume:        100,
	}
}

type Engine struct {
	cfg    Config
	logger *Logger.Logger

	mu   sync.Mutex
	ring audioring.SampleRing
	tmp  []float32

	gain       atomic.Uint32 // percent
	turns      atomic.Int64
	underruns  atomic.Int64
	enqueued   atomic.Int64
	overflowed atomic.Int64
}

func New(cfg Config, logger *Logger.Logger) *Engine {
	def := DefaultConfig()
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = def.BufferSeconds
	}
	e := &Engine{
		cfg:    cfg,
		logger: Logger.OrNop(logger).Named("playback"),
		ring:   audioring.New(cfg.SampleRate * cfg.BufferSeconds),
		tmp:    make([]float32, cfg.FrameSize),
	}
	e.SetVolume(cfg.Volume)
	return e
}

func (e *Engine) FrameSize() int { return e.cfg.FrameSize }

func (e *Engine) SampleRate() int { return e.cfg.SampleRate }

// Enqueue appends mono samples to the FIFO.
func (e *Engine) Enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	e.mu.Lock()
	dropped := e.ring.Enqueue(samples)
	e.mu.Unlock()

	e.enqueued.Add(int64(len(samples)))
	if dropped > 0 {
		e.overflowed.Add(int64(dropped))
		e.logger.Warnf("playback queue full, dropped %d oldest samples", dropped)
	}
}

// AddPCM16 decodes little-endian 16-bit samples and enqueues them.
func (e *Engine) AddPCM16(data []byte) {
	e.Enqueue(pcm.PCM16ToFloat(data))
}

// ClearQueue discards everything not yet rendered. The next Render after it
// returns is silence unless new audio was enqueued in between.
func (e *Engine) ClearQueue() {
	e.mu.Lock()
	e.ring.Flush()
	e.mu.Unlock()
}

// Complete marks the end of a model turn. The queue keeps draining.
func (e *Engine) Complete() {
	e.turns.Add(1)
}

// Render fills every channel of out with exactly one frame. Each channel
// must hold at least FrameSize samples. When fewer than FrameSize samples are
// queued the whole frame is silence and the queue is left untouched.
func (e *Engine) Render(out [][]float32) {
	frame := e.cfg.FrameSize

	e.mu.Lock()
	n := 0
	if e.ring.Len() >= frame {
		n = e.ring.Dequeue(e.tmp[:frame])
	}
	e.mu.Unlock()

	if n < frame {
		e.underruns.Add(1)
		for _, ch := range out {
			clear(ch[:frame])
		}
		return
	}

	gain := float32(e.gain.Load()) / 100
	for _, ch := range out {
		for i := 0; i < frame; i++ {
			ch[i] = e.tmp[i] * gain
		}
	}
}

// SetVolume sets the output gain in percent, clamped to 0..100.
func (e *Engine) SetVolume(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	e.gain.Store(uint32(percent))
}

func (e *Engine) Volume() int { return int(e.gain.Load()) }

// Queued reports how many samples wait to be rendered.
func (e *Engine) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.Len()
}

type Stats struct {
	Turns      int64
	Underruns  int64
	Enqueued   int64
	Overflowed int64
}

func (e *Engine) Stats() Stats {
	return Stats{
		Turns:      e.turns.Load(),
		Underruns:  e.underruns.Load(),
		Enqueued:   e.enqueued.Load(),
		Overflowed: e.overflowed.Load(),
	}
}
