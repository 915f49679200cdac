package bytestream

import "testing"

func TestCapacityAndFinish(t *testing.T) {
	s := New(3)
	if n := s.Push([]byte("cat")); n != 3 {
		t.Fatalf("Push(cat) = %d, want 3", n)
	}
	if n := s.Push([]byte("tac")); n != 0 {
		t.Fatalf("Push(tac) beyond capacity = %d, want 0", n)
	}
	if got := string(s.Peek()); got != "cat" {
		t.Fatalf("Peek() = %q, want %q", got, "cat")
	}
	if s.BytesPushed() != 3 {
		t.Fatalf("BytesPushed() = %d, want 3", s.BytesPushed())
	}
	s.Close()
	s.Pop(3)
	if !s.IsFinished() {
		t.Fatal("expected IsFinished() after close+drain")
	}
}

func TestPartialPushDropsExcess(t *testing.T) {
	s := New(4)
	n := s.Push([]byte("hello"))
	if n != 4 {
		t.Fatalf("Push() = %d, want 4", n)
	}
	if got := string(s.Peek()); got != "hell" {
		t.Fatalf("Peek() = %q, want %q", got, "hell")
	}
}

func TestNoOpAfterCloseOrError(t *testing.T) {
	s := New(4)
	s.Close()
	if n := s.Push([]byte("x")); n != 0 {
		t.Fatalf("Push() after close = %d, want 0", n)
	}

	s2 := New(4)
	s2.SetError()
	if n := s2.Push([]byte("x")); n != 0 {
		t.Fatalf("Push() after error = %d, want 0", n)
	}
	if !s2.HasError() {
		t.Fatal("expected HasError() true")
	}
}

func TestWraparound(t *testing.T) {
	s := New(4)
	s.Push([]byte("ab"))
	s.Pop(2)
	s.Push([]byte("cdef"))
	if got := s.AvailableCapacity(); got != 0 {
		t.Fatalf("AvailableCapacity() = %d, want 0", got)
	}
	var got []byte
	for s.BytesBuffered() > 0 {
		chunk := s.Peek()
		got = append(got, chunk...)
		s.Pop(uint64(len(chunk)))
	}
	if string(got) != "cdef" {
		t.Fatalf("drained = %q, want %q", got, "cdef")
	}
}

func TestPopMoreThanBuffered(t *testing.T) {
	s := New(4)
	s.Push([]byte("ab"))
	s.Pop(100)
	if s.BytesBuffered() != 0 {
		t.Fatalf("BytesBuffered() = %d, want 0", s.BytesBuffered())
	}
	if s.BytesPopped() != 2 {
		t.Fatalf("BytesPopped() = %d, want 2", s.BytesPopped())
	}
}
