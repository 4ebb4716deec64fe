package magpie

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
)

// bodyPart describes one section of a test multipart body.
type bodyPart struct {
	name     string
	filename string
	headers  []HeaderPair
	content  string
}

// buildBody assembles a well-formed multipart/form-data body:
// head:   --<boundary>CRLF
// middle: CRLF--<boundary>CRLF
// close:  CRLF--<boundary>--CRLF
func buildBody(boundary string, parts ...bodyPart) []byte {
	var b bytes.Buffer
	for _, part := range parts {
		b.WriteString("--" + boundary + "\r\n")
		disposition := `form-data; name="` + part.name + `"`
		if part.filename != "" {
			disposition += `; filename="` + part.filename + `"`
		}
		b.WriteString("Content-Disposition: " + disposition + "\r\n")
		for _, h := range part.headers {
			b.WriteString(h.Key + ": " + h.Value + "\r\n")
		}
		b.WriteString("\r\n")
		b.WriteString(part.content)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + boundary + "--\r\n")
	return b.Bytes()
}

// chunkReader returns at most size bytes per Read call.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// noReadStream fails the test if the parser touches the stream.
type noReadStream struct {
	t *testing.T
}

func (s *noReadStream) Read(p []byte) (int, error) {
	s.t.Fatal("parser read from the stream before validating the boundary")
	return 0, io.EOF
}

func newTestMultipartParser(t *testing.T, config ParserConfig) *MultipartParser {
	t.Helper()
	parser, err := NewMultipartParser(config)
	if err != nil {
		t.Fatalf("NewMultipartParser failed: %v", err)
	}
	return parser
}

func TestMultipartParserRoundTrip(t *testing.T) {
	parts := []bodyPart{
		{name: "first", content: "value one"},
		{name: "file1", filename: "a.txt", headers: []HeaderPair{{Key: "Content-Type", Value: "text/plain"}}, content: "file content A"},
		{name: "second", content: "value two"},
		{name: "first", content: "value three"},
		{name: "file2", filename: "b.bin", headers: []HeaderPair{{Key: "Content-Type", Value: "application/octet-stream"}}, content: "\x00\x01\x02 binary \xff"},
	}
	body := buildBody("boundary42", parts...)

	parser := newTestMultipartParser(t, DefaultParserConfig())
	fields, files, err := parser.Parse(bytes.NewReader(body), "boundary42", int64(len(body)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// fields come back in original order with duplicates preserved
	var gotFields [][2]string
	for _, p := range fields.Pairs() {
		gotFields = append(gotFields, [2]string{p.Key, p.Value})
	}
	wantFields := [][2]string{{"first", "value one"}, {"second", "value two"}, {"first", "value three"}}
	if !slices.Equal(gotFields, wantFields) {
		t.Errorf("fields = %v, want %v", gotFields, wantFields)
	}

	// files preserve name, filename and content
	wantFiles := map[string]struct {
		filename string
		content  string
	}{
		"file1": {"a.txt", "file content A"},
		"file2": {"b.bin", "\x00\x01\x02 binary \xff"},
	}
	if files.Len() != len(wantFiles) {
		t.Fatalf("files.Len() = %d, want %d", files.Len(), len(wantFiles))
	}
	for name, want := range wantFiles {
		upload, ok := files.Get(name)
		if !ok {
			t.Fatalf("missing file %q", name)
		}
		if upload.Filename != want.filename {
			t.Errorf("file %q filename = %q, want %q", name, upload.Filename, want.filename)
		}
		content, err := io.ReadAll(upload)
		if err != nil {
			t.Fatalf("read file %q: %v", name, err)
		}
		if string(content) != want.content {
			t.Errorf("file %q content = %q, want %q", name, content, want.content)
		}
		upload.Close()
	}
}

func TestMultipartParserChunkSizeIndependence(t *testing.T) {
	parts := []bodyPart{
		{name: "a", content: "alpha\r\nbeta"},
		{name: "up", filename: "x.txt", content: strings.Repeat("0123456789", 500)},
		{name: "a", content: "gamma"},
	}
	body := buildBody("chunky", parts...)

	parse := func(r io.Reader) (*MultiDict[string], string) {
		parser := newTestMultipartParser(t, DefaultParserConfig())
		fields, files, err := parser.Parse(r, "chunky", int64(len(body)))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		upload, ok := files.Get("up")
		if !ok {
			t.Fatal("missing upload")
		}
		content, err := io.ReadAll(upload)
		if err != nil {
			t.Fatalf("read upload: %v", err)
		}
		upload.Close()
		return fields, string(content)
	}

	refFields, refContent := parse(bytes.NewReader(body))

	for _, size := range []int{1, 7, 64 * 1024} {
		fields, content := parse(&chunkReader{data: bytes.Clone(body), size: size})
		if !slices.Equal(fields.Pairs(), refFields.Pairs()) {
			t.Errorf("chunk size %d: fields %v != %v", size, fields.Pairs(), refFields.Pairs())
		}
		if content != refContent {
			t.Errorf("chunk size %d: file content differs", size)
		}
	}
}

func TestMultipartParserBoundaryCRLFExactness(t *testing.T) {
	body := buildBody("B", bodyPart{name: "f", content: "hello"})
	parser := newTestMultipartParser(t, DefaultParserConfig())
	fields, _, err := parser.Parse(bytes.NewReader(body), "B", int64(len(body)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v, _ := fields.Get("f"); v != "hello" {
		t.Errorf("value = %q, want %q with no trailing CRLF", v, "hello")
	}
}

func TestMultipartParserDuplicateFieldNames(t *testing.T) {
	body := buildBody("B",
		bodyPart{name: "tag", content: "a"},
		bodyPart{name: "tag", content: "b"},
	)
	parser := newTestMultipartParser(t, DefaultParserConfig())
	fields, _, err := parser.Parse(bytes.NewReader(body), "B", int64(len(body)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := fields.GetAll("tag"); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("GetAll(tag) = %v, want [a b]", got)
	}
	if v, _ := fields.Get("tag"); v != "a" {
		t.Errorf("Get(tag) = %q, want a", v)
	}
}

func TestMultipartParserDegenerateBody(t *testing.T) {
	body := []byte("--B--\r\n")
	parser := newTestMultipartParser(t, DefaultParserConfig())
	fields, files, err := parser.Parse(bytes.NewReader(body), "B", int64(len(body)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fields.Len() != 0 || files.Len() != 0 {
		t.Errorf("degenerate body yielded %d fields, %d files", fields.Len(), files.Len())
	}
}

func TestMultipartParserOversizedField(t *testing.T) {
	config := DefaultParserConfig()
	config.MaxFormMemorySize = 16
	body := buildBody("B", bodyPart{name: "f", content: strings.Repeat("x", 64)})

	parser := newTestMultipartParser(t, config)
	fields, files, err := parser.Parse(bytes.NewReader(body), "B", int64(len(body)))
	if !errors.Is(err, ErrRequestEntityTooLarge) {
		t.Fatalf("err = %v, want ErrRequestEntityTooLarge", err)
	}
	if fields != nil || files != nil {
		t.Error("partial results returned alongside the error")
	}
}

func TestMultipartParserOversizedAcrossFields(t *testing.T) {
	// the in-memory guard is cumulative over all form fields of a parse
	config := DefaultParserConfig()
	config.MaxFormMemorySize = 100
	body := buildBody("B",
		bodyPart{name: "a", content: strings.Repeat("x", 60)},
		bodyPart{name: "b", content: strings.Repeat("y", 60)},
	)

	parser := newTestMultipartParser(t, config)
	_, _, err := parser.Parse(bytes.NewReader(body), "B", int64(len(body)))
	if !errors.Is(err, ErrRequestEntityTooLarge) {
		t.Errorf("err = %v, want ErrRequestEntityTooLarge", err)
	}
}

func TestMultipartParserInvalidBoundary(t *testing.T) {
	tests := []struct {
		name     string
		boundary string
	}{
		{name: "empty", boundary: ""},
		{name: "trailing space", boundary: "abc "},
		{name: "non-printable", boundary: "ab\x01c"},
		{name: "too long", boundary: strings.Repeat("a", 250)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := newTestMultipartParser(t, DefaultParserConfig())
			// the stream must not be touched when validation fails
			_, _, err := parser.Parse(&noReadStream{t: t}, tt.boundary, 0)
			if !errors.Is(err, ErrInvalidBoundary) {
				t.Errorf("err = %v, want ErrInvalidBoundary", err)
			}
		})
	}
}

func TestMultipartParserUnexpectedEOF(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty stream", body: ""},
		{name: "truncated mid headers", body: "--B\r\nContent-Disposition: form-data; name=\"f\"\r\n"},
		{name: "truncated mid body", body: "--B\r\nContent-Disposition: form-data; name=\"f\"\r\n\r\npartial content"},
		{name: "missing terminal boundary", body: "--B\r\nContent-Disposition: form-data; name=\"f\"\r\n\r\nv\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := newTestMultipartParser(t, DefaultParserConfig())
			_, _, err := parser.Parse(strings.NewReader(tt.body), "B", int64(len(tt.body)))
			if !errors.Is(err, ErrUnexpectedEOF) {
				t.Errorf("err = %v, want ErrUnexpectedEOF", err)
			}
		})
	}
}

func TestMultipartParserPartCharset(t *testing.T) {
	// é in latin-1
	body := buildBody("B", bodyPart{
		name:    "f",
		headers: []HeaderPair{{Key: "Content-Type", Value: "text/plain; charset=iso-8859-1"}},
		content: "caf\xe9",
	})
	parser := newTestMultipartParser(t, DefaultParserConfig())
	fields, _, err := parser.Parse(bytes.NewReader(body), "B", int64(len(body)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v, _ := fields.Get("f"); v != "café" {
		t.Errorf("value = %q, want café", v)
	}
}

func TestMultipartParserWindowsFilename(t *testing.T) {
	body := buildBody("B", bodyPart{
		name:     "up",
		filename: `C:\\fakepath\\photo.jpg`,
		content:  "x",
	})
	parser := newTestMultipartParser(t, DefaultParserConfig())
	_, files, err := parser.Parse(bytes.NewReader(body), "B", int64(len(body)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	upload, ok := files.Get("up")
	if !ok {
		t.Fatal("missing upload")
	}
	defer upload.Close()
	if upload.Filename != "photo.jpg" {
		t.Errorf("Filename = %q, want photo.jpg", upload.Filename)
	}
}

func TestMultipartParserDrainsEpilogue(t *testing.T) {
	body := buildBody("B", bodyPart{name: "f", content: "v"})
	body = append(body, []byte("epilogue junk the parser must consume\r\n")...)

	stream := NewLimitedStream(bytes.NewReader(body), int64(len(body)))
	parser := newTestMultipartParser(t, DefaultParserConfig())
	if _, _, err := parser.Parse(stream, "B", int64(len(body))); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := stream.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d after Parse, want 0", got)
	}
}

func TestMultipartParserClosesSinkOnError(t *testing.T) {
	// a part body that declares base64 but is not decodable aborts the
	// parse after the file sink was created
	body := "--B\r\n" +
		"Content-Disposition: form-data; name=\"up\"; filename=\"f.bin\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"*** definitely not base64 ***\r\n" +
		"--B--\r\n"

	sink := &trackingSink{}
	config := DefaultParserConfig()
	config.StreamFactory = func(total int64, filename, contentType string, length int64) (File, error) {
		return sink, nil
	}

	parser := newTestMultipartParser(t, config)
	_, _, err := parser.Parse(strings.NewReader(body), "B", int64(len(body)))
	if !errors.Is(err, ErrTransferDecodeFailed) {
		t.Fatalf("err = %v, want ErrTransferDecodeFailed", err)
	}
	if !sink.closed {
		t.Error("file sink left open after fatal error")
	}
}

func TestMultipartParserStreamFactoryInputs(t *testing.T) {
	body := buildBody("B", bodyPart{
		name:     "up",
		filename: "doc.pdf",
		headers: []HeaderPair{
			{Key: "Content-Type", Value: "application/pdf"},
			{Key: "Content-Length", Value: "123"},
		},
		content: "pdf bytes",
	})

	var gotFilename, gotContentType string
	var gotTotal, gotLength int64
	config := DefaultParserConfig()
	config.StreamFactory = func(total int64, filename, contentType string, length int64) (File, error) {
		gotTotal, gotFilename, gotContentType, gotLength = total, filename, contentType, length
		return &trackingSink{}, nil
	}

	parser := newTestMultipartParser(t, config)
	if _, _, err := parser.Parse(bytes.NewReader(body), "B", int64(len(body))); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if gotTotal != int64(len(body)) {
		t.Errorf("total = %d, want %d", gotTotal, len(body))
	}
	if gotFilename != "doc.pdf" || gotContentType != "application/pdf" || gotLength != 123 {
		t.Errorf("factory inputs = %q, %q, %d", gotFilename, gotContentType, gotLength)
	}
}

func TestNewMultipartParserRejectsBadBufferSize(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "not a multiple of four", size: 1026},
		{name: "smaller than 1 KiB", size: 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultParserConfig()
			config.BufferSize = tt.size
			if _, err := NewMultipartParser(config); err == nil {
				t.Errorf("buffer size %d accepted", tt.size)
			}
		})
	}
}

// trackingSink is an in-memory File that records whether it was closed.
type trackingSink struct {
	buf    []byte
	off    int64
	closed bool
}

func (s *trackingSink) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *trackingSink) Read(p []byte) (int, error) {
	if s.off >= int64(len(s.buf)) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[s.off:])
	s.off += int64(n)
	return n, nil
}

func (s *trackingSink) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.off = offset
	case io.SeekCurrent:
		s.off += offset
	case io.SeekEnd:
		s.off = int64(len(s.buf)) + offset
	}
	return s.off, nil
}

func (s *trackingSink) Close() error {
	s.closed = true
	return nil
}
