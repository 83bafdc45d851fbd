// Package portaudio binds the capture and playback pipelines to the default
// system devices.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"
	"github.com/xpanvictor/cortado/pkg/Logger"
	"github.com/xpanvictor/cortado/pkg/io/device"
)

// Initialize must run once before any device is opened.
func Initialize() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

func Terminate() error {
	return pa.Terminate()
}

// Microphone is the default input device as a capture source.
type Microphone struct {
	rate   int
	frames int
	logger *Logger.Logger

	mu     sync.Mutex
	stream *pa.Stream
}

var _ device.Source = (*Microphone)(nil)

func NewMicrophone(sampleRate, framesPerBuffer int, logger *Logger.Logger) *Microphone {
	return &Microphone{
		rate:   sampleRate,
		frames: framesPerBuffer,
		logger: Logger.OrNop(logger).Named("microphone"),
	}
}

func (m *Microphone) SampleRate() int { return m.rate }

func (m *Microphone) Open(onBlock func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return fmt.Errorf("microphone already open")
	}

	stream, err := pa.OpenDefaultStream(1, 0, float64(m.rate), m.frames, func(in []float32) {
		onBlock(in)
	})
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", inputError(err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", inputError(err))
	}
	m.stream = stream
	m.logger.Debugf("input stream open: %d Hz, %d frames/buffer", m.rate, m.frames)
	return nil
}

// inputError marks failures where the OS refused or hid the input device.
func inputError(err error) error {
	if errors.Is(err, pa.DeviceUnavailable) || errors.Is(err, pa.InvalidDevice) {
		return fmt.Errorf("%w: %w", device.ErrPermission, err)
	}
	return err
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	stream := m.stream
	m.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	return stream.Close()
}

// Speaker is the default output device driven by a Renderer callback.
type Speaker struct {
	rate     int
	channels int
	logger   *Logger.Logger

	mu     sync.Mutex
	stream *pa.Stream
}

var _ device.Sink = (*Speaker)(nil)

func NewSpeaker(sampleRate, channels int, logger *Logger.Logger) *Speaker {
	if channels <= 0 {
		channels = 1
	}
	return &Speaker{
		rate:     sampleRate,
		channels: channels,
		logger:   Logger.OrNop(logger).Named("speaker"),
	}
}

func (s *Speaker) Caps() device.Capabilities {
	return device.Capabilities{AudioSink: true, Channels: s.channels, SampleRate: s.rate}
}

func (s *Speaker) Start(r device.Renderer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return fmt.Errorf("speaker already started")
	}

	frame := r.FrameSize()
	stream, err := pa.OpenDefaultStream(0, s.channels, float64(s.rate), frame, func(out [][]float32) {
		if len(out) == 0 || len(out[0]) < frame {
			for _, ch := range out {
				clear(ch)
			}
			return
		}
		r.Render(out)
	})
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	s.stream = stream
	s.logger.Debugf("output stream open: %d Hz, %d channels, %d frames/tick", s.rate, s.channels, frame)
	return nil
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	stream := s.stream
	s.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	return stream.Close()
}
