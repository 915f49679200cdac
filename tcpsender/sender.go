// Package tcpsender implements the sending half of a TCP connection:
// turning outbound bytes into SYN/data/FIN segments, tracking outstanding
// segments, retransmitting on RTO with exponential backoff, and observing
// the peer's advertised window (flow control only -- no congestion
// control).
package tcpsender

import (
	"math/rand"

	"github.com/hash-roar/minnow/bytestream"
	"github.com/hash-roar/minnow/tcpmsg"
	"github.com/hash-roar/minnow/wrap32"
)

// MaxPayload is the default maximum bytes of payload per data segment.
const MaxPayload = 1452

// TCPSender produces outbound segments from a ByteStream.
type TCPSender struct {
	isn        wrap32.Wrap32
	initialRTO uint64
	maxPayload uint64

	nextSeqno      uint64
	ackdSeqno      uint64
	bytesInFlight  uint64
	receiverWindow uint16

	synSent bool
	finSent bool

	currentRTO      uint64
	timerRunning    bool
	timerDeadline   uint64
	timeElapsed     uint64
	consecutiveRetx uint64

	outstanding []tcpmsg.SenderMessage
	readyToSend []tcpmsg.SenderMessage
}

// Option configures a TCPSender at construction time.
type Option func(*TCPSender)

// WithMaxPayload overrides the default MaxPayload.
func WithMaxPayload(n uint64) Option {
	return func(s *TCPSender) { s.maxPayload = n }
}

// WithFixedISN pins the sender's ISN instead of picking one at random.
func WithFixedISN(isn wrap32.Wrap32) Option {
	return func(s *TCPSender) { s.isn = isn }
}

// New creates a TCPSender with the given initial RTO in milliseconds. By
// default the ISN is chosen at random; pass WithFixedISN to pin it (tests
// do this for determinism).
func New(initialRTOMs uint64, opts ...Option) *TCPSender {
	s := &TCPSender{
		isn:            wrap32.FromRaw(rand.Uint32()),
		initialRTO:     initialRTOMs,
		currentRTO:     initialRTOMs,
		maxPayload:     MaxPayload,
		receiverWindow: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TCPSender) effectiveWindow() uint64 {
	if s.receiverWindow == 0 {
		return 1
	}
	return uint64(s.receiverWindow)
}

// SequenceNumbersInFlight is the number of outstanding sequence numbers.
func (s *TCPSender) SequenceNumbersInFlight() uint64 { return s.bytesInFlight }

// ConsecutiveRetransmissions is the number of consecutive *re*transmissions
// that have occurred since the last new ack.
func (s *TCPSender) ConsecutiveRetransmissions() uint64 { return s.consecutiveRetx }

func (s *TCPSender) enqueue(msg tcpmsg.SenderMessage) {
	s.bytesInFlight += msg.SequenceLength()
	s.outstanding = append(s.outstanding, msg)
	s.readyToSend = append(s.readyToSend, msg)
	s.nextSeqno += msg.SequenceLength()
	s.startTimerIfNeeded()
}

// Push emits as many new segments as legally can be sent given the current
// window and buffered data. It may be called repeatedly; each call drains
// everything currently sendable rather than a single segment.
func (s *TCPSender) Push(reader *bytestream.ByteStream) {
	window := s.effectiveWindow()

	if !s.synSent {
		msg := tcpmsg.SenderMessage{Seqno: s.isn, SYN: true}
		msg.FIN = !s.finSent && reader.IsFinished() && window >= 2
		if msg.FIN {
			s.finSent = true
		}
		s.synSent = true
		s.enqueue(msg)
		return
	}

	for s.bytesInFlight < window && reader.BytesBuffered() > 0 {
		availableSpace := window - s.bytesInFlight
		bytesToSend := reader.BytesBuffered()
		if availableSpace < bytesToSend {
			bytesToSend = availableSpace
		}
		if s.maxPayload < bytesToSend {
			bytesToSend = s.maxPayload
		}

		payload := make([]byte, 0, bytesToSend)
		for uint64(len(payload)) < bytesToSend {
			chunk := reader.Peek()
			if len(chunk) == 0 {
				break
			}
			take := bytesToSend - uint64(len(payload))
			if uint64(len(chunk)) < take {
				take = uint64(len(chunk))
			}
			payload = append(payload, chunk[:take]...)
			reader.Pop(take)
		}

		msg := tcpmsg.SenderMessage{Seqno: s.isn.Add(s.nextSeqno), Payload: payload}
		msg.FIN = !s.finSent && reader.IsFinished() && availableSpace > uint64(len(payload))
		if msg.FIN {
			s.finSent = true
		}

		if msg.SequenceLength() == 0 {
			break
		}
		s.enqueue(msg)
	}

	if !s.finSent && reader.IsFinished() && s.bytesInFlight < window {
		msg := tcpmsg.SenderMessage{Seqno: s.isn.Add(s.nextSeqno), FIN: true}
		s.finSent = true
		s.enqueue(msg)
	}
}

// MaybeSend dequeues one ready-to-send segment, if any.
func (s *TCPSender) MaybeSend() (tcpmsg.SenderMessage, bool) {
	if len(s.readyToSend) == 0 {
		return tcpmsg.SenderMessage{}, false
	}
	msg := s.readyToSend[0]
	s.readyToSend = s.readyToSend[1:]
	return msg, true
}

// SendEmptyMessage returns an empty segment carrying the current seqno,
// used by higher layers to carry an ack without advancing sender state.
func (s *TCPSender) SendEmptyMessage() tcpmsg.SenderMessage {
	return tcpmsg.SenderMessage{Seqno: s.isn.Add(s.nextSeqno)}
}

// Receive processes an ack/window report from the peer's receiver.
func (s *TCPSender) Receive(msg tcpmsg.ReceiverMessage) {
	s.receiverWindow = msg.WindowSize

	if !msg.HasAckno {
		return
	}

	ackno := msg.Ackno.Unwrap(s.isn, s.nextSeqno)
	if ackno <= s.ackdSeqno || ackno > s.nextSeqno {
		return
	}
	s.ackdSeqno = ackno

	kept := s.outstanding[:0]
	for _, seg := range s.outstanding {
		segStart := seg.Seqno.Unwrap(s.isn, s.ackdSeqno)
		segEnd := segStart + seg.SequenceLength()
		if segEnd <= ackno {
			s.bytesInFlight -= seg.SequenceLength()
			continue
		}
		kept = append(kept, seg)
	}
	s.outstanding = kept

	s.currentRTO = s.initialRTO
	s.consecutiveRetx = 0

	if len(s.outstanding) > 0 {
		s.timerRunning = true
		s.timerDeadline = s.timeElapsed + s.currentRTO
	} else {
		s.stopTimer()
	}
}

// Tick advances the sender's logical clock and retransmits the earliest
// outstanding segment if the retransmission timer has expired.
func (s *TCPSender) Tick(msSinceLastTick uint64) {
	s.timeElapsed += msSinceLastTick

	if s.timerExpired() && len(s.outstanding) > 0 {
		s.readyToSend = append(s.readyToSend, s.outstanding[0])

		if s.receiverWindow > 0 {
			s.consecutiveRetx++
			s.currentRTO *= 2
		}

		s.timerRunning = true
		s.timerDeadline = s.timeElapsed + s.currentRTO
	}
}

func (s *TCPSender) startTimerIfNeeded() {
	if !s.timerRunning && len(s.outstanding) > 0 {
		s.timerRunning = true
		s.timerDeadline = s.timeElapsed + s.currentRTO
	}
}

func (s *TCPSender) stopTimer() { s.timerRunning = false }

func (s *TCPSender) timerExpired() bool {
	return s.timerRunning && s.timeElapsed >= s.timerDeadline
}
