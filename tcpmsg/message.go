// Package tcpmsg defines the two message shapes exchanged between a
// TCPSender and the peer's TCPReceiver (and vice versa for acks). These are
// logical messages, not wire bytes: framing and header codec are handled
// by external collaborators per the core's scope.
package tcpmsg

import "github.com/hash-roar/minnow/wrap32"

// SenderMessage is a segment flowing sender -> receiver.
type SenderMessage struct {
	Seqno   wrap32.Wrap32
	SYN     bool
	Payload []byte
	FIN     bool
}

// SequenceLength is the number of sequence numbers this segment occupies:
// payload length plus one for SYN plus one for FIN.
func (m SenderMessage) SequenceLength() uint64 {
	n := uint64(len(m.Payload))
	if m.SYN {
		n++
	}
	if m.FIN {
		n++
	}
	return n
}

// ReceiverMessage is an ack/window report flowing receiver -> sender.
type ReceiverMessage struct {
	Ackno      wrap32.Wrap32
	HasAckno   bool
	WindowSize uint16
}
