// Package tcpreceiver implements the receiving half of a TCP connection:
// turning inbound segments into reassembler insertions and reporting an
// ackno/window back to the peer.
package tcpreceiver

import (
	"github.com/hash-roar/minnow/bytestream"
	"github.com/hash-roar/minnow/reassembler"
	"github.com/hash-roar/minnow/tcpmsg"
	"github.com/hash-roar/minnow/wrap32"
)

// TCPReceiver converts inbound segments into Reassembler insertions. It
// owns no stream or reassembler itself: those are supplied by the caller
// on every call, matching the single-threaded, no-suspension core model.
type TCPReceiver struct {
	isn    wrap32.Wrap32
	hasISN bool
}

// New creates a receiver with no ISN yet known; it is set from the first
// SYN segment received.
func New() *TCPReceiver { return &TCPReceiver{} }

// Receive folds an inbound segment into the reassembler/stream.
func (r *TCPReceiver) Receive(msg tcpmsg.SenderMessage, reasm *reassembler.Reassembler, inbound *bytestream.ByteStream) {
	if msg.SYN && !r.hasISN {
		r.isn = msg.Seqno
		r.hasISN = true
	}
	if !r.hasISN {
		// A non-SYN segment arrived before any SYN: nothing to anchor the
		// sequence space to, so drop it.
		return
	}

	checkpoint := inbound.BytesPushed()
	absSeqno := msg.Seqno.Unwrap(r.isn, checkpoint)

	var streamIndex uint64
	if msg.SYN {
		streamIndex = 0
	} else {
		streamIndex = absSeqno - 1
	}

	reasm.Insert(streamIndex, msg.Payload, msg.FIN, inbound)
}

// Send reports the current ackno (if the ISN is known) and advertised
// window to the peer.
func (r *TCPReceiver) Send(inbound *bytestream.ByteStream) tcpmsg.ReceiverMessage {
	var out tcpmsg.ReceiverMessage

	avail := inbound.AvailableCapacity()
	if avail > 0xFFFF {
		avail = 0xFFFF
	}
	out.WindowSize = uint16(avail)

	if !r.hasISN {
		return out
	}

	nextAbsSeqno := uint64(1) + inbound.BytesPushed()
	if inbound.IsClosed() {
		nextAbsSeqno++
	}
	out.Ackno = wrap32.Wrap(nextAbsSeqno, r.isn)
	out.HasAckno = true
	return out
}
