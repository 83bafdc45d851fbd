package audioring

import (
	"encoding/binary"
	"math"

	"github.com/smallnest/ringbuffer"
)

const sampleBytes = 4

type rb_impl struct {
	size    int
	rb      *ringbuffer.RingBuffer
	scratch []byte
}

// Capacity implements SampleRing.
func (r *rb_impl) Capacity() int {
	return r.size
}

// Len implements SampleRing.
func (r *rb_impl) Len() int {
	return r.rb.Length() / sampleBytes
}

// Flush implements SampleRing.
func (r *rb_impl) Flush() {
	r.rb.Reset()
}

// Dequeue implements SampleRing.
func (r *rb_impl) Dequeue(dst []float32) int {
	if r.rb.IsEmpty() || len(dst) == 0 {
		return 0
	}
	want := len(dst)
	if avail := r.Len(); avail < want {
		want = avail
	}
	buf := r.buffer(want * sampleBytes)
	n, err := r.rb.Read(buf)
	if err != nil && n == 0 {
		return 0
	}
	count := n / sampleBytes
	for i := 0; i < count; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*sampleBytes:]))
	}
	return count
}

// Enqueue implements SampleRing.
func (r *rb_impl) Enqueue(samples []float32) int {
	dropped := 0
	if len(samples) > r.size {
		dropped = len(samples) - r.size
		samples = samples[dropped:]
	}
	required := len(samples) * sampleBytes

	// make space by discarding the oldest audio
	if free := r.rb.Free(); free < required {
		discard := r.buffer(required - free)
		n, _ := r.rb.Read(discard)
		dropped += n / sampleBytes
	}

	buf := r.buffer(required)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*sampleBytes:], math.Float32bits(s))
	}
	_, _ = r.rb.Write(buf)
	return dropped
}

func (r *rb_impl) buffer(n int) []byte {
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	return r.scratch[:n]
}

// New returns a ring holding up to size samples.
func New(size int) SampleRing {
	if size <= 0 {
		size = 1
	}
	return &rb_impl{
		size: size,
		rb:   ringbuffer.New(size * sampleBytes).SetBlocking(false),
	}
}
