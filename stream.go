package magpie

import "io"

// Exhauster is implemented by transports that can drain their unread
// remainder cheaply. The parser uses it after the terminal boundary so the
// underlying connection is left at a known position; transports without it
// are drained by repeated bounded reads.
type Exhauster interface {
	Exhaust() error
}

// LimitedStream bounds an io.Reader to a declared content length. Read
// returns io.EOF once the limit is consumed regardless of how many bytes
// the wrapped reader still holds, so a parser can never read past one
// request's body into the next pipelined request.
type LimitedStream struct {
	r         io.Reader
	remaining int64
}

// NewLimitedStream wraps r, allowing at most limit bytes to be read.
func NewLimitedStream(r io.Reader, limit int64) *LimitedStream {
	if limit < 0 {
		limit = 0
	}
	return &LimitedStream{r: r, remaining: limit}
}

// Remaining returns the number of unread bytes within the limit.
func (s *LimitedStream) Remaining() int64 {
	return s.remaining
}

func (s *LimitedStream) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.r.Read(p)
	s.remaining -= int64(n)
	return n, err
}

// Exhaust discards the unread remainder of the declared length.
func (s *LimitedStream) Exhaust() error {
	_, err := io.Copy(io.Discard, s)
	return err
}

// exhaust drains r: through its Exhauster when it has one, otherwise by
// bounded reads until EOF.
func exhaust(r io.Reader) error {
	if e, ok := r.(Exhauster); ok {
		return e.Exhaust()
	}
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
