package magpie

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"
)

// Encoding identifies the Content-Transfer-Encoding applied to a part
// body. Only base64 and quoted-printable are reversed by the scanner; any
// other declared encoding (7bit, 8bit, binary, or garbage) is passed
// through undecoded, matching the lenient behavior browsers rely on.
type Encoding string

const (
	// EncodingNone passes bytes through unmodified.
	EncodingNone Encoding = ""
	// EncodingBase64 decodes each body line as base64.
	EncodingBase64 Encoding = "base64"
	// EncodingQuotedPrintable decodes each body line as quoted-printable.
	EncodingQuotedPrintable Encoding = "quoted-printable"
)

// EventKind discriminates PartScanner events.
type EventKind uint8

const (
	// EventBeginForm opens a regular form field part.
	EventBeginForm EventKind = iota
	// EventBeginFile opens a file upload part.
	EventBeginFile
	// EventContent carries decoded body bytes for the open part.
	EventContent
	// EventEnd closes the open part.
	EventEnd
)

// Event is one step of the part grammar
//
//	parts = ( begin_form content* end | begin_file content* end )*
//
// emitted by PartScanner. Headers, Name and Filename are set on the begin
// events; Data is set on content events and is valid only until the next
// Feed call.
type Event struct {
	Kind     EventKind
	Headers  *Headers
	Name     string
	Filename string
	Data     []byte
}

type scannerState uint8

const (
	statePreamble scannerState = iota
	stateHeaders
	stateBody
	stateDone
)

// PartScanner is the multipart state machine. It consumes one line at a
// time (as produced by LineSplitter) and reduces it to zero or more
// events. All scratch state lives in the scanner value: the header
// accumulator, the withheld line terminator of the previous content line,
// and the active transfer encoding.
//
// A boundary line's preceding CRLF belongs to the delimiter, not to the
// part content, so the scanner never emits the final terminator of a
// content line until the next line proves it is not a boundary. The
// withheld terminator is prepended to the next content chunk, or silently
// dropped when the next line turns out to be a boundary.
type PartScanner struct {
	nextPart []byte // "--" + boundary
	lastPart []byte // "--" + boundary + "--"

	state    scannerState
	headers  []HeaderPair
	tail     []byte
	encoding Encoding

	events []Event // scratch, reused across Feed calls
}

// NewPartScanner returns a scanner for the given boundary token. The
// boundary is used verbatim; validation is the caller's concern.
func NewPartScanner(boundary string) *PartScanner {
	next := "--" + boundary
	return &PartScanner{
		nextPart: []byte(next),
		lastPart: []byte(next + "--"),
		state:    statePreamble,
	}
}

// Done reports whether the terminal boundary has been consumed.
func (s *PartScanner) Done() bool {
	return s.state == stateDone
}

// Feed advances the state machine by one line and returns the resulting
// events. The returned slice and any content data in it are reused on the
// next call. Feeding after the terminal boundary is a no-op.
func (s *PartScanner) Feed(line []byte) ([]Event, error) {
	s.events = s.events[:0]
	switch s.state {
	case statePreamble:
		return s.events, s.feedPreamble(line)
	case stateHeaders:
		return s.feedHeaders(line)
	case stateBody:
		return s.feedBody(line)
	}
	return s.events, nil
}

func (s *PartScanner) feedPreamble(line []byte) error {
	stripped := bytes.TrimRight(line, "\r\n")
	switch {
	case len(stripped) == 0:
		// some clients send extra newlines before the first boundary
	case bytes.Equal(stripped, s.lastPart):
		s.state = stateDone
	case bytes.Equal(stripped, s.nextPart):
		s.state = stateHeaders
	default:
		return ErrExpectedBoundary
	}
	return nil
}

func (s *PartScanner) feedHeaders(line []byte) ([]Event, error) {
	stripped, terminated := splitLineEnding(line)
	if !terminated {
		return s.events, ErrUnexpectedEOF
	}

	if len(stripped) == 0 {
		ev, err := s.finishHeaders()
		if err != nil {
			return s.events, err
		}
		s.state = stateBody
		s.events = append(s.events, ev)
		return s.events, nil
	}

	if (stripped[0] == ' ' || stripped[0] == '\t') && len(s.headers) > 0 {
		// obsolete header folding: continuation lines extend the
		// previous field's value
		last := &s.headers[len(s.headers)-1]
		last.Value += "\n " + string(stripped[1:])
		return s.events, nil
	}

	if key, value, ok := bytes.Cut(stripped, []byte(":")); ok {
		s.headers = append(s.headers, HeaderPair{
			Key:   string(bytes.TrimSpace(key)),
			Value: string(bytes.TrimSpace(value)),
		})
	}
	return s.events, nil
}

// finishHeaders finalizes the accumulated header block and classifies the
// part as form field or file upload from its Content-Disposition.
func (s *PartScanner) finishHeaders() (Event, error) {
	headers := newHeaders(s.headers)
	s.headers = nil

	disposition, ok := headers.Get("Content-Disposition")
	if !ok {
		return Event{}, ErrMissingDisposition
	}

	var name, filename string
	hasFilename := false
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		name = params["name"]
		filename, hasFilename = params["filename"]
	}

	s.encoding = partEncoding(headers)
	s.tail = s.tail[:0]

	if hasFilename {
		return Event{Kind: EventBeginFile, Headers: headers, Name: name, Filename: filename}, nil
	}
	return Event{Kind: EventBeginForm, Headers: headers, Name: name}, nil
}

func (s *PartScanner) feedBody(line []byte) ([]Event, error) {
	// boundary delimiter lines may carry transport padding, hence the
	// full whitespace strip before comparison
	stripped := bytes.TrimRight(line, " \t\r\n")
	if bytes.Equal(stripped, s.lastPart) || bytes.Equal(stripped, s.nextPart) {
		// the withheld tail belonged to the boundary's own CRLF unless
		// a decoded chunk left something that is not a bare terminator
		if len(s.tail) > 0 && !isLineEnding(s.tail) {
			s.events = append(s.events, Event{Kind: EventContent, Data: s.tail})
		}
		s.tail = s.tail[:0]
		s.events = append(s.events, Event{Kind: EventEnd})
		if bytes.Equal(stripped, s.lastPart) {
			s.state = stateDone
		} else {
			s.state = stateHeaders
		}
		return s.events, nil
	}

	data, err := decodeTransfer(s.encoding, line)
	if err != nil {
		return s.events, err
	}

	tail := s.tail
	var chunk []byte
	switch {
	case bytes.HasSuffix(data, []byte("\r\n")):
		chunk = data[:len(data)-2]
		s.tail = append(tail[len(tail):], data[len(data)-2:]...)
	case len(data) > 0 && (data[len(data)-1] == '\r' || data[len(data)-1] == '\n'):
		chunk = data[:len(data)-1]
		s.tail = append(tail[len(tail):], data[len(data)-1:]...)
	default:
		chunk = data
		s.tail = tail[len(tail):]
	}

	if len(tail) == 0 && len(chunk) == 0 {
		return s.events, nil
	}
	out := make([]byte, 0, len(tail)+len(chunk))
	out = append(out, tail...)
	out = append(out, chunk...)
	s.events = append(s.events, Event{Kind: EventContent, Data: out})
	return s.events, nil
}

// partEncoding picks the reversible transfer encoding declared by the
// part, if any.
func partEncoding(headers *Headers) Encoding {
	value, ok := headers.Get("Content-Transfer-Encoding")
	if !ok {
		return EncodingNone
	}
	switch Encoding(strings.ToLower(strings.TrimSpace(value))) {
	case EncodingBase64:
		return EncodingBase64
	case EncodingQuotedPrintable:
		return EncodingQuotedPrintable
	}
	return EncodingNone
}

// decodeTransfer reverses the transfer encoding of a single body line.
func decodeTransfer(encoding Encoding, line []byte) ([]byte, error) {
	switch encoding {
	case EncodingBase64:
		trimmed := bytes.TrimRight(line, "\r\n")
		out := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
		n, err := base64.StdEncoding.Decode(out, trimmed)
		if err != nil {
			return nil, ErrTransferDecodeFailed
		}
		return out[:n], nil
	case EncodingQuotedPrintable:
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(line)))
		if err != nil {
			return nil, ErrTransferDecodeFailed
		}
		return out, nil
	}
	return line, nil
}

// splitLineEnding removes the trailing terminator ("\r\n", "\r" or "\n")
// and reports whether one was present.
func splitLineEnding(line []byte) ([]byte, bool) {
	if bytes.HasSuffix(line, []byte("\r\n")) {
		return line[:len(line)-2], true
	}
	if n := len(line); n > 0 && (line[n-1] == '\r' || line[n-1] == '\n') {
		return line[:n-1], true
	}
	return line, false
}

// isLineEnding reports whether b is exactly a bare line terminator.
func isLineEnding(b []byte) bool {
	switch string(b) {
	case "\r", "\n", "\r\n":
		return true
	}
	return false
}
