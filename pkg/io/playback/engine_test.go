package playback

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFrame(channels, size int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, size)
		for j := range out[i] {
			out[i][j] = 9 // poison, render must overwrite
		}
	}
	return out
}

func ramp(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i+1) / float32(n+1)
	}
	return s
}

func TestRenderConservesSamples(t *testing.T) {
	e := New(Config{FrameSize: 4, SampleRate: 100, BufferSeconds: 1, Volume: 100}, nil)
	in := ramp(12)
	e.Enqueue(in[:5])
	e.Enqueue(in[5:])

	var played []float32
	for i := 0; i < 3; i++ {
		out := newFrame(1, 4)
		e.Render(out)
		played = append(played, out[0]...)
	}
	assert.Equal(t, in, played)
	assert.Equal(t, 0, e.Queued())
}

func TestRenderUnderrunIsWholeFrameOfSilence(t *testing.T) {
	e := New(Config{FrameSize: 4, SampleRate: 100, BufferSeconds: 1, Volume: 100}, nil)
	e.Enqueue([]float32{0.5, 0.5, 0.5})

	out := newFrame(2, 4)
	e.Render(out)
	for _, ch := range out {
		assert.Equal(t, []float32{0, 0, 0, 0}, ch)
	}
	// partial audio stays queued for the next tick
	assert.Equal(t, 3, e.Queued())
	assert.Equal(t, int64(1), e.Stats().Underruns)
}

func TestRenderCopiesToEveryChannel(t *testing.T) {
	e := New(Config{FrameSize: 2, SampleRate: 100, BufferSeconds: 1, Volume: 100}, nil)
	e.Enqueue([]float32{0.25, -0.25})
	out := newFrame(2, 2)
	e.Render(out)
	assert.Equal(t, out[0], out[1])
	assert.Equal(t, []float32{0.25, -0.25}, out[0])
}

func TestClearQueueSilencesNextRender(t *testing.T) {
	e := New(Config{FrameSize: 4, SampleRate: 100, BufferSeconds: 1, Volume: 100}, nil)
	e.Enqueue(ramp(16))
	e.ClearQueue()

	out := newFrame(1, 4)
	e.Render(out)
	assert.Equal(t, []float32{0, 0, 0, 0}, out[0])
}

func TestClearQueueConcurrentWithRender(t *testing.T) {
	e := New(Config{FrameSize: 8, SampleRate: 1000, BufferSeconds: 1, Volume: 100}, nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.Enqueue(ramp(8))
			if i%7 == 0 {
				e.ClearQueue()
			}
		}
	}()
	go func() {
		defer wg.Done()
		out := newFrame(1, 8)
		for i := 0; i < 500; i++ {
			e.Render(out)
		}
	}()
	wg.Wait()
	e.ClearQueue()
	out := newFrame(1, 8)
	e.Render(out)
	assert.Equal(t, make([]float32, 8), out[0])
}

func TestVolumeIsLinearGain(t *testing.T) {
	e := New(Config{FrameSize: 2, SampleRate: 100, BufferSeconds: 1, Volume: 50}, nil)
	e.Enqueue([]float32{0.5, -1})
	out := newFrame(1, 2)
	e.Render(out)
	assert.InDeltaSlice(t, []float64{0.25, -0.5}, []float64{float64(out[0][0]), float64(out[0][1])}, 1e-6)

	e.SetVolume(250)
	assert.Equal(t, 100, e.Volume())
	e.SetVolume(-3)
	assert.Equal(t, 0, e.Volume())
}

func TestAddPCM16Decodes(t *testing.T) {
	e := New(Config{FrameSize: 2, SampleRate: 100, BufferSeconds: 1, Volume: 100}, nil)
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data, uint16(0x4000))
	v := int16(-16384)
	binary.LittleEndian.PutUint16(data[2:], uint16(v))
	e.AddPCM16(data)

	out := newFrame(1, 2)
	e.Render(out)
	assert.Equal(t, []float32{0.5, -0.5}, out[0])
}

func TestCompleteLeavesQueueAlone(t *testing.T) {
	e := New(Config{FrameSize: 2, SampleRate: 100, BufferSeconds: 1, Volume: 100}, nil)
	e.Enqueue([]float32{0.1, 0.2})
	e.Complete()
	require.Equal(t, 2, e.Queued())
	assert.Equal(t, int64(1), e.Stats().Turns)
}
