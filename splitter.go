package magpie

import "bytes"

// LineSplitter turns a stream of arbitrarily-chunked byte buffers into a
// stream of lines. Each emitted line keeps its trailing terminator ("\n"
// or "\r\n") when one was present in the input, mimicking raw socket read
// semantics. Bytes belonging to an incomplete final line are carried over
// to the next Feed call.
//
// A positive cap bounds the length of any emitted line: a line longer than
// cap is cut at the cap boundary and the remainder is re-prefixed to the
// following bytes, so pathological input cannot force unbounded buffering
// no matter how the chunks are sized. Capped continuation segments carry
// no terminator.
//
// Emitted line slices alias the splitter's internal buffer and are valid
// only until the next Feed call.
type LineSplitter struct {
	cap      int
	leftover []byte
	flushed  bool
}

// NewLineSplitter returns a splitter with the given line length cap.
// A cap of zero or less means unbounded lines.
func NewLineSplitter(cap int) *LineSplitter {
	return &LineSplitter{cap: cap}
}

// Feed splits the accumulated leftover plus chunk into complete lines.
// Feeding an empty chunk flushes the leftover exactly once, even when it
// lacks a terminator; that final unterminated line signals end-of-stream
// to the consumer.
func (s *LineSplitter) Feed(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		if s.flushed {
			return nil
		}
		s.flushed = true
		if len(s.leftover) == 0 {
			return nil
		}
		line := s.leftover
		s.leftover = nil
		return [][]byte{line}
	}

	buf := append(s.leftover, chunk...)
	s.leftover = nil

	var lines [][]byte
	for len(buf) > 0 {
		i := bytes.IndexByte(buf, '\n')
		switch {
		case i >= 0 && (s.cap <= 0 || i < s.cap):
			lines = append(lines, buf[:i+1])
			buf = buf[i+1:]
		case s.cap > 0 && len(buf) >= s.cap:
			lines = append(lines, buf[:s.cap])
			buf = buf[s.cap:]
		default:
			s.leftover = buf
			buf = nil
		}
	}
	return lines
}
