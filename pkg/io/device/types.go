package device

import "errors"

var ErrPermission = errors.New("device: access denied")

type Capabilities struct {
	AudioSource bool // can capture audio
	AudioSink   bool // can play audio
	Channels    int
	SampleRate  int
}

// Source is a capture device. onBlock runs on the device's callback goroutine
// with a buffer the device may reuse after it returns.
type Source interface {
	Open(onBlock func(samples []float32)) error
	SampleRate() int
	Close() error
}

// Renderer produces exactly one frame per device tick.
type Renderer interface {
	Render(out [][]float32)
	FrameSize() int
}

// Sink is a playback device pulling frames from a Renderer.
type Sink interface {
	Start(r Renderer) error
	Caps() Capabilities
	Close() error
}
