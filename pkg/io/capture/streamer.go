package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xpanvictor/cortado/pkg/Logger"
	"github.com/xpanvictor/cortado/pkg/io/device"
	"github.com/xpanvictor/cortado/pkg/io/pcm"
)

var ErrAlreadyStreaming = errors.New("capture: already streaming")

const DefaultInterval = 500 * time.Millisecond

// ChunkFunc receives every encoded chunk, in capture order.
type ChunkFunc func(chunk pcm.Chunk)

type Config struct {
	Interval time.Duration
}

// Streamer accumulates microphone blocks and flushes them on a timer as
// 16 kHz PCM16 base64 chunks.
type Streamer struct {
	cfg     Config
	source  device.Source
	onChunk ChunkFunc
	logger  *Logger.Logger

	// guards buf only, held by the device callback
	mu  sync.Mutex
	buf []float32

	life    sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func New(cfg Config, source device.Source, onChunk ChunkFunc, logger *Logger.Logger) *Streamer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Streamer{
		cfg:     cfg,
		source:  source,
		onChunk: onChunk,
		logger:  Logger.OrNop(logger).Named("capture"),
	}
}

// StartStreaming opens the source and arms the flush timer. If the source
// cannot be opened nothing is armed and the error is returned.
func (s *Streamer) StartStreaming(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	if s.running {
		return ErrAlreadyStreaming
	}

	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()

	if err := s.source.Open(s.push); err != nil {
		s.logger.Errorf("could not open microphone: %v", err)
		return fmt.Errorf("open capture source: %w", err)
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stop, s.done)
	s.logger.Infof("streaming microphone at %d Hz, flushing every %s", s.source.SampleRate(), s.cfg.Interval)
	return nil
}

// StopStreaming halts the timer, releases the source and flushes whatever
// was captured since the last tick. Safe to call when not streaming.
func (s *Streamer) StopStreaming() {
	s.life.Lock()
	defer s.life.Unlock()
	if !s.running {
		return
	}
	s.stopLocked()
	s.logger.Info("microphone streaming stopped")
}

// expire stops the run that owns stop once its context is gone. A newer run
// started in the meantime is left alone.
func (s *Streamer) expire(stop chan struct{}) {
	s.life.Lock()
	defer s.life.Unlock()
	if !s.running || s.stop != stop {
		return
	}
	s.stopLocked()
	s.logger.Info("microphone streaming ended with its context")
}

// stopLocked requires life held and running set.
func (s *Streamer) stopLocked() {
	s.running = false
	close(s.stop)
	<-s.done

	if err := s.source.Close(); err != nil {
		s.logger.Warnf("closing microphone: %v", err)
	}
	s.flush()
}

func (s *Streamer) Streaming() bool {
	s.life.Lock()
	defer s.life.Unlock()
	return s.running
}

func (s *Streamer) push(samples []float32) {
	s.mu.Lock()
	s.buf = append(s.buf, samples...)
	s.mu.Unlock()
}

func (s *Streamer) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-stop:
			return
		case <-ctx.Done():
			go s.expire(stop)
			return
		}
	}
}

func (s *Streamer) flush() {
	s.mu.Lock()
	pending := s.buf
	s.buf = make([]float32, 0, cap(pending))
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	chunk, err := pcm.Encode(pending, s.source.SampleRate())
	if err != nil {
		s.logger.Errorf("dropping %d captured samples: %v", len(pending), err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("chunk callback panicked: %v", r)
		}
	}()
	s.onChunk(chunk)
}
