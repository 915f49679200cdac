package reassembler

import (
	"testing"

	"github.com/hash-roar/minnow/bytestream"
)

func drain(s *bytestream.ByteStream) string {
	var out []byte
	for s.BytesBuffered() > 0 {
		chunk := s.Peek()
		out = append(out, chunk...)
		s.Pop(uint64(len(chunk)))
	}
	return string(out)
}

func TestHoles(t *testing.T) {
	stream := bytestream.New(8)
	r := New()

	r.Insert(0, []byte("ab"), false, stream)
	r.Insert(4, []byte("ef"), false, stream)
	r.Insert(2, []byte("cd"), false, stream)
	r.Insert(6, []byte("gh"), true, stream)

	if !stream.IsClosed() {
		t.Fatal("expected stream closed after last substring written")
	}
	if r.BytesPending() != 0 {
		t.Fatalf("BytesPending() = %d, want 0", r.BytesPending())
	}
	got := drain(stream)
	if got != "abcdefgh" {
		t.Fatalf("drained %q, want %q", got, "abcdefgh")
	}
	if !stream.IsFinished() {
		t.Fatal("expected IsFinished() true")
	}
}

func TestOverlappingInserts(t *testing.T) {
	stream := bytestream.New(10)
	r := New()

	r.Insert(0, []byte("abc"), false, stream)
	r.Insert(1, []byte("bcdef"), true, stream)

	got := drain(stream)
	if got != "abcdef" {
		t.Fatalf("drained %q, want %q", got, "abcdef")
	}
	if !stream.IsClosed() {
		t.Fatal("expected stream closed")
	}
}

func TestBeyondCapacityDiscarded(t *testing.T) {
	stream := bytestream.New(4)
	r := New()

	r.Insert(0, []byte("ab"), false, stream)
	// index 2 has only 2 bytes of room (capacity 4, 2 buffered until popped).
	r.Insert(2, []byte("cdXXXX"), false, stream)

	got := drain(stream)
	if got != "abcd" {
		t.Fatalf("drained %q, want %q", got, "abcd")
	}
}

func TestRedundantInsertIgnored(t *testing.T) {
	stream := bytestream.New(8)
	r := New()

	r.Insert(0, []byte("abcd"), false, stream)
	r.Insert(0, []byte("ab"), false, stream) // fully redundant, already written
	if r.BytesPending() != 0 {
		t.Fatalf("BytesPending() = %d, want 0", r.BytesPending())
	}
	got := drain(stream)
	if got != "abcd" {
		t.Fatalf("drained %q, want %q", got, "abcd")
	}
}

func TestOutOfOrderNonAdjacentKeptSeparate(t *testing.T) {
	stream := bytestream.New(20)
	r := New()

	r.Insert(0, []byte("ab"), false, stream)
	r.Insert(10, []byte("zz"), false, stream)
	if r.BytesPending() != 2 {
		t.Fatalf("BytesPending() = %d, want 2", r.BytesPending())
	}
	got := drain(stream)
	if got != "ab" {
		t.Fatalf("drained %q, want %q", got, "ab")
	}
}
