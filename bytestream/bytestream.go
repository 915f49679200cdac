// Package bytestream implements a bounded, single-producer/single-consumer
// in-memory byte pipe, the shared plumbing underneath the reassembler and
// both halves of the TCP state machine.
package bytestream

// ByteStream is a ring buffer of fixed capacity shared by one Writer and one
// Reader. There is no blocking: backpressure is expressed through
// AvailableCapacity, never by suspending the caller.
type ByteStream struct {
	capacity uint64
	buf      []byte
	head     uint64 // index of the oldest buffered byte
	size     uint64 // number of buffered bytes

	bytesPushed uint64
	bytesPopped uint64

	closed bool
	errored bool
}

// New creates a ByteStream with the given capacity, which must be > 0.
func New(capacity uint64) *ByteStream {
	if capacity == 0 {
		panic("bytestream: capacity must be > 0")
	}
	return &ByteStream{capacity: capacity, buf: make([]byte, capacity)}
}

// Push writes as many bytes of data as fit in the remaining capacity and
// silently drops the rest. It is a no-op once the stream is closed or
// errored.
func (s *ByteStream) Push(data []byte) int {
	if s.closed || s.errored {
		return 0
	}
	n := min(uint64(len(data)), s.availableCapacity())
	if n == 0 {
		return 0
	}
	tail := (s.head + s.size) % s.capacity
	firstChunk := min(n, s.capacity-tail)
	copy(s.buf[tail:], data[:firstChunk])
	if firstChunk < n {
		copy(s.buf, data[firstChunk:n])
	}
	s.size += n
	s.bytesPushed += n
	return int(n)
}

// Close signals that no more bytes will be pushed.
func (s *ByteStream) Close() { s.closed = true }

// SetError latches a terminal error, visible to the peer via HasError.
func (s *ByteStream) SetError() { s.errored = true }

// IsClosed reports whether Close has been called.
func (s *ByteStream) IsClosed() bool { return s.closed }

// AvailableCapacity is the number of bytes that can still be pushed.
func (s *ByteStream) AvailableCapacity() uint64 { return s.availableCapacity() }

func (s *ByteStream) availableCapacity() uint64 { return s.capacity - s.size }

// BytesPushed is the total number of bytes ever pushed.
func (s *ByteStream) BytesPushed() uint64 { return s.bytesPushed }

// BytesPopped is the total number of bytes ever popped.
func (s *ByteStream) BytesPopped() uint64 { return s.bytesPopped }

// BytesBuffered is the number of bytes currently held, ready to be popped.
func (s *ByteStream) BytesBuffered() uint64 { return s.size }

// Peek returns a contiguous view of at least one buffered byte. When the
// buffered region wraps around the end of the ring, only the first
// (tail-end) segment is returned; callers that need the rest call Peek
// again after popping.
func (s *ByteStream) Peek() []byte {
	if s.size == 0 {
		return nil
	}
	n := min(s.size, s.capacity-s.head)
	return s.buf[s.head : s.head+n]
}

// Pop discards up to n bytes from the front of the buffered region.
func (s *ByteStream) Pop(n uint64) {
	popped := min(n, s.size)
	s.head = (s.head + popped) % s.capacity
	s.size -= popped
	s.bytesPopped += popped
}

// IsFinished reports whether the writer has closed and every pushed byte
// has been popped.
func (s *ByteStream) IsFinished() bool { return s.closed && s.size == 0 }

// HasError reports whether SetError has been called by either side.
func (s *ByteStream) HasError() bool { return s.errored }
