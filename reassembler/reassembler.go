// Package reassembler turns possibly-overlapping, possibly-out-of-order
// indexed byte substrings into the contiguous prefix of a ByteStream,
// honoring the stream's available capacity.
//
// Stored out-of-order segments are kept in an ordered map keyed by start
// index (per the "Reassembler merge structure" note in the design docs),
// backed by github.com/google/btree rather than a linear scan, so
// neighbor lookup during overlap/adjacency merge is O(log n).
package reassembler

import (
	"github.com/google/btree"

	"github.com/hash-roar/minnow/bytestream"
)

type segment struct {
	start uint64
	data  []byte
}

func (s segment) end() uint64 { return s.start + uint64(len(s.data)) }

func less(a, b segment) bool { return a.start < b.start }

// Reassembler accepts indexed substrings and writes contiguous prefixes
// into a ByteStream.
type Reassembler struct {
	stored             *btree.BTreeG[segment]
	nextExpectedIndex  uint64
	haveStreamEnd      bool
	streamEndIndex     uint64
}

// New creates an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{stored: btree.NewG(32, less)}
}

// Insert reassembles first_index, data, is_last into output, per spec:
// truncate to the writer's available window, discard fully-redundant
// ranges, trim redundant prefixes, merge with stored neighbors, push any
// contiguous prefix starting at nextExpectedIndex, and close the stream
// once the terminal substring's end has been reached.
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool, output *bytestream.ByteStream) {
	if isLast {
		r.haveStreamEnd = true
		r.streamEndIndex = firstIndex + uint64(len(data))
	}

	maxAcceptableIndex := r.nextExpectedIndex + output.AvailableCapacity()
	if firstIndex >= maxAcceptableIndex {
		// Entirely beyond the window: discard, but still honor a terminal
		// flag that arrived attached to now-unusable data.
		r.maybeCloseStream(output)
		return
	}
	lastIndex := firstIndex + uint64(len(data))
	if lastIndex > maxAcceptableIndex {
		data = data[:maxAcceptableIndex-firstIndex]
		lastIndex = maxAcceptableIndex
	}

	if lastIndex <= r.nextExpectedIndex {
		r.maybeCloseStream(output)
		return
	}

	if firstIndex < r.nextExpectedIndex {
		trim := r.nextExpectedIndex - firstIndex
		data = data[trim:]
		firstIndex = r.nextExpectedIndex
	}

	insertStart, merged := r.mergeWithNeighbors(firstIndex, data)

	if insertStart == r.nextExpectedIndex {
		output.Push(merged)
		r.nextExpectedIndex += uint64(len(merged))
		r.drainContiguous(output)
	} else {
		r.stored.ReplaceOrInsert(segment{start: insertStart, data: merged})
	}

	r.maybeCloseStream(output)
}

// mergeWithNeighbors collects every stored segment overlapping or adjacent
// to [firstIndex, firstIndex+len(data)), removes them from storage, and
// returns the merged contiguous byte range.
func (r *Reassembler) mergeWithNeighbors(firstIndex uint64, data []byte) (uint64, []byte) {
	insertStart := firstIndex
	insertEnd := firstIndex + uint64(len(data))

	type found struct {
		start uint64
		end   uint64
		data  []byte
	}
	var toRemove []uint64
	segments := []found{{start: insertStart, end: insertEnd, data: data}}

	// Predecessor: the segment with the greatest start strictly before
	// insertStart. It might overlap or touch our range from the left; any
	// segment starting at or after insertStart is picked up by the
	// AscendRange below instead.
	r.stored.DescendLessOrEqual(segment{start: insertStart}, func(s segment) bool {
		if s.start == insertStart {
			return true // covered by AscendRange, keep looking for a real predecessor
		}
		if s.end() >= insertStart {
			segments = append(segments, found{start: s.start, end: s.end(), data: s.data})
			toRemove = append(toRemove, s.start)
		}
		return false
	})

	// Everything from insertStart onward that starts at or before insertEnd
	// (inclusive, to catch adjacency) overlaps or touches our range.
	r.stored.AscendRange(segment{start: insertStart}, segment{start: insertEnd + 1}, func(s segment) bool {
		segments = append(segments, found{start: s.start, end: s.end(), data: s.data})
		toRemove = append(toRemove, s.start)
		return true
	})

	for _, start := range toRemove {
		r.stored.Delete(segment{start: start})
	}

	finalStart := segments[0].start
	finalEnd := segments[0].end
	for _, seg := range segments {
		if seg.start < finalStart {
			finalStart = seg.start
		}
		if seg.end > finalEnd {
			finalEnd = seg.end
		}
	}

	merged := make([]byte, finalEnd-finalStart)
	for _, seg := range segments {
		copy(merged[seg.start-finalStart:], seg.data)
	}

	return finalStart, merged
}

// drainContiguous pushes any stored segments that have become contiguous
// with nextExpectedIndex after a push.
func (r *Reassembler) drainContiguous(output *bytestream.ByteStream) {
	for {
		var next segment
		found := false
		r.stored.AscendGreaterOrEqual(segment{start: r.nextExpectedIndex}, func(s segment) bool {
			next = s
			found = true
			return false
		})
		if !found || next.start != r.nextExpectedIndex {
			return
		}
		output.Push(next.data)
		r.nextExpectedIndex += uint64(len(next.data))
		r.stored.Delete(next)
	}
}

func (r *Reassembler) maybeCloseStream(output *bytestream.ByteStream) {
	if r.haveStreamEnd && r.nextExpectedIndex >= r.streamEndIndex {
		output.Close()
	}
}

// BytesPending returns the total number of bytes held internally, not yet
// written to the output stream.
func (r *Reassembler) BytesPending() uint64 {
	var total uint64
	r.stored.Ascend(func(s segment) bool {
		total += uint64(len(s.data))
		return true
	})
	return total
}
