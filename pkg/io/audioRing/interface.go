package audioring

// SampleRing is a fixed capacity FIFO of mono float32 samples.
// Implementations are not synchronized; callers serialize access.
type SampleRing interface {
	// Enqueue appends samples, discarding the oldest queued samples when
	// there is not enough room. Returns how many old samples were dropped.
	Enqueue(samples []float32) int
	// Dequeue fills dst from the front of the queue and returns the count read.
	Dequeue(dst []float32) int
	Len() int
	Capacity() int
	Flush()
}
