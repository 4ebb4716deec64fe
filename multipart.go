package magpie

import (
	"fmt"
	"io"
	"mime"
	"regexp"
	"strconv"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// boundaryPattern is the token grammar for MIME boundaries: printable
// ASCII, at most 200 leading characters, and no trailing space.
var boundaryPattern = regexp.MustCompile(`^[ -~]{0,200}[!-~]$`)

// MultipartParser decodes multipart/form-data bodies as a stream: the
// input is read in fixed-size blocks, split into lines, and reduced by a
// PartScanner; form field bytes are buffered in pooled memory while file
// bytes go straight into caller-supplied sinks. The whole request body is
// never materialized.
//
// A parser instance is stateless between Parse calls and may be reused,
// but a single Parse call owns its scanner, splitter and result dicts
// exclusively.
type MultipartParser struct {
	config ParserConfig
}

// NewMultipartParser returns a parser for the given configuration.
// Zero-valued config fields are filled with defaults; an invalid buffer
// size is rejected.
func NewMultipartParser(config ParserConfig) (*MultipartParser, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	return &MultipartParser{config: config}, nil
}

// openPart is the per-part scratch of one Parse call: either an in-memory
// field accumulator or an open file sink, never both.
type openPart struct {
	headers  *Headers
	name     string
	filename string
	isFile   bool
	sink     File
	buf      *bytebufferpool.ByteBuffer
}

// release closes whatever the part holds. Used on abort paths so a
// partially written sink never leaks past a fatal error.
func (p *openPart) release() {
	if p == nil {
		return
	}
	if p.sink != nil {
		p.sink.Close()
	}
	if p.buf != nil {
		bytebufferpool.Put(p.buf)
	}
}

// Parse reads a multipart body from stream and returns the form fields
// and the file uploads as two insertion-ordered dicts. The boundary is
// validated before any byte is read. Once the terminal boundary is seen,
// the remainder of the declared content length is drained so the
// transport is left at a known position; on a fatal error nothing is
// drained and any open file sink is closed before the error propagates.
func (p *MultipartParser) Parse(stream io.Reader, boundary string, contentLength int64) (*MultiDict[string], *MultiDict[*FileUpload], error) {
	if err := validateBoundary(boundary, p.config.BufferSize); err != nil {
		return nil, nil, err
	}

	fields := NewMultiDict[string]()
	files := NewMultiDict[*FileUpload]()
	splitter := NewLineSplitter(p.config.BufferSize)
	scanner := NewPartScanner(boundary)

	var (
		current  *openPart
		inMemory int64
	)

	handle := func(ev Event) error {
		switch ev.Kind {
		case EventBeginFile:
			filename := fixWindowsFilename(ev.Filename)
			contentType := ev.Headers.GetDefault("Content-Type", "")
			sink, err := p.config.StreamFactory(contentLength, filename, contentType, partContentLength(ev.Headers))
			if err != nil {
				return fmt.Errorf("form: stream factory: %w", err)
			}
			current = &openPart{headers: ev.Headers, name: ev.Name, filename: filename, isFile: true, sink: sink}

		case EventBeginForm:
			current = &openPart{headers: ev.Headers, name: ev.Name, buf: bytebufferpool.Get()}

		case EventContent:
			if current == nil {
				return nil
			}
			if current.isFile {
				if _, err := current.sink.Write(ev.Data); err != nil {
					return fmt.Errorf("form: write upload: %w", err)
				}
				return nil
			}
			current.buf.Write(ev.Data)
			inMemory += int64(len(ev.Data))
			if p.config.MaxFormMemorySize > 0 && inMemory > p.config.MaxFormMemorySize {
				return ErrRequestEntityTooLarge
			}

		case EventEnd:
			if current == nil {
				return nil
			}
			if current.isFile {
				if _, err := current.sink.Seek(0, io.SeekStart); err != nil {
					return fmt.Errorf("form: rewind upload: %w", err)
				}
				contentType := current.headers.GetDefault("Content-Type", "")
				files.Add(current.name, NewFileUpload(current.name, current.filename, contentType, current.headers, current.sink))
				current = nil
				return nil
			}
			charset := partCharset(current.headers, p.config.Charset)
			fields.Add(current.name, decodeCharset(current.buf.B, charset))
			bytebufferpool.Put(current.buf)
			current = nil
		}
		return nil
	}

	buf := make([]byte, p.config.BufferSize)
	eof := false
	for !eof && !scanner.Done() {
		n, readErr := stream.Read(buf)
		if readErr != nil && readErr != io.EOF {
			current.release()
			return nil, nil, fmt.Errorf("form: read: %w", readErr)
		}
		var lines [][]byte
		if n > 0 {
			lines = splitter.Feed(buf[:n])
		}
		if readErr == io.EOF {
			eof = true
			lines = append(lines, splitter.Feed(nil)...)
		}
		for _, line := range lines {
			events, err := scanner.Feed(line)
			if err == nil {
				for _, ev := range events {
					if err = handle(ev); err != nil {
						break
					}
				}
			}
			if err != nil {
				current.release()
				return nil, nil, err
			}
			if scanner.Done() {
				break
			}
		}
	}

	if !scanner.Done() {
		current.release()
		return nil, nil, ErrUnexpectedEOF
	}

	// leave the transport at the end of the declared content length for
	// whatever reads the connection next
	if err := exhaust(stream); err != nil {
		return nil, nil, fmt.Errorf("form: drain: %w", err)
	}
	return fields, files, nil
}

// ParseBody implements BodyParser. The boundary is taken from the
// content-type options.
func (p *MultipartParser) ParseBody(stream io.Reader, contentLength int64, options map[string]string) (*MultiDict[string], *MultiDict[*FileUpload], error) {
	return p.Parse(stream, options["boundary"], contentLength)
}

// validateBoundary rejects boundary tokens the wire grammar does not
// allow, before any byte of the stream is consumed.
func validateBoundary(boundary string, bufferSize int) error {
	if boundary == "" {
		return fmt.Errorf("%w: missing boundary", ErrInvalidBoundary)
	}
	if !boundaryPattern.MatchString(boundary) {
		return fmt.Errorf("%w: %q", ErrInvalidBoundary, boundary)
	}
	if len(boundary) > bufferSize {
		return fmt.Errorf("%w: boundary longer than buffer size", ErrInvalidBoundary)
	}
	return nil
}

// partContentLength reads the part's own Content-Length header, 0 when
// absent or unparseable.
func partContentLength(headers *Headers) int64 {
	value, ok := headers.Get("Content-Length")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// partCharset picks the charset for a part's field value from its own
// Content-Type parameter, falling back to the parser default.
func partCharset(headers *Headers, fallback string) string {
	if contentType, ok := headers.Get("Content-Type"); ok {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if charset, ok := params["charset"]; ok {
				return charset
			}
		}
	}
	return fallback
}

// decodeCharset decodes field bytes with the named charset, replacing
// undecodable sequences. Unknown charsets fall back to the raw bytes.
func decodeCharset(b []byte, charset string) string {
	if len(b) == 0 {
		return ""
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(b)
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
