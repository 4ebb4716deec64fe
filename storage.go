package magpie

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

// File is the contract for a part content sink. The parser writes the
// part's decoded bytes, seeks back to the start once the part ends, and
// hands the sink to the caller for read-back. Close releases whatever the
// sink holds; for the default factory that removes the spilled temp file.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// StreamFactory produces the sink for one file upload part. It receives
// the declared total content length of the request, the client-supplied
// filename, the part's content type, and the part's own Content-Length
// header when one was sent (0 otherwise).
type StreamFactory func(totalContentLength int64, filename, contentType string, contentLength int64) (File, error)

// spoolThreshold is the number of bytes a default sink keeps in memory
// before spilling to a temp file.
const spoolThreshold = 500 * 1024

// DefaultStreamFactory returns a spooled sink: uploads up to 500 KiB stay
// in memory, larger ones spill to a temp file.
func DefaultStreamFactory(totalContentLength int64, filename, contentType string, contentLength int64) (File, error) {
	return &spooledFile{threshold: spoolThreshold}, nil
}

// spooledFile buffers in memory until threshold is exceeded, then moves
// everything to a ULID-named temp file. ULIDs are sortable and unique, so
// concurrent uploads never collide and abandoned spills are easy to spot
// by age.
type spooledFile struct {
	threshold int
	buf       []byte
	off       int64
	file      *os.File
	path      string
}

func (s *spooledFile) Write(p []byte) (int, error) {
	if s.file == nil {
		if len(s.buf)+len(p) <= s.threshold {
			s.buf = append(s.buf, p...)
			return len(p), nil
		}
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	return s.file.Write(p)
}

func (s *spooledFile) spill() error {
	path := filepath.Join(os.TempDir(), "magpie-upload-"+ulid.Make().String())
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("form: create upload spool: %w", err)
	}
	if _, err := file.Write(s.buf); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("form: write upload spool: %w", err)
	}
	s.file = file
	s.path = path
	s.buf = nil
	return nil
}

func (s *spooledFile) Read(p []byte) (int, error) {
	if s.file != nil {
		return s.file.Read(p)
	}
	if s.off >= int64(len(s.buf)) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[s.off:])
	s.off += int64(n)
	return n, nil
}

func (s *spooledFile) Seek(offset int64, whence int) (int64, error) {
	if s.file != nil {
		return s.file.Seek(offset, whence)
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.off + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("form: seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("form: seek: negative position")
	}
	s.off = abs
	return abs, nil
}

func (s *spooledFile) Close() error {
	s.buf = nil
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	if rmErr := os.Remove(s.path); err == nil {
		err = rmErr
	}
	s.file = nil
	return err
}

// FileUpload is one uploaded file: the client filename, the form field it
// was submitted under, the part headers, and the finished content sink
// positioned at the start. Reading, seeking and closing go straight to the
// underlying sink.
type FileUpload struct {
	FieldName   string
	Filename    string
	ContentType string
	Headers     *Headers

	content File
}

// NewFileUpload wraps a finished sink. The sink must already be positioned
// where reading should begin.
func NewFileUpload(fieldName, filename, contentType string, headers *Headers, content File) *FileUpload {
	return &FileUpload{
		FieldName:   fieldName,
		Filename:    filename,
		ContentType: contentType,
		Headers:     headers,
		content:     content,
	}
}

func (f *FileUpload) Read(p []byte) (int, error) {
	return f.content.Read(p)
}

func (f *FileUpload) Seek(offset int64, whence int) (int64, error) {
	return f.content.Seek(offset, whence)
}

// Close releases the underlying sink.
func (f *FileUpload) Close() error {
	return f.content.Close()
}

// Save copies the remaining upload content to w.
func (f *FileUpload) Save(w io.Writer) (int64, error) {
	return io.Copy(w, f.content)
}

// fixWindowsFilename strips the directory prefix from Windows-absolute
// client filenames. Old Internet Explorer versions transmit the full local
// path of an uploaded file.
func fixWindowsFilename(filename string) string {
	if (len(filename) >= 3 && filename[1:3] == `:\`) || strings.HasPrefix(filename, `\\`) {
		if i := strings.LastIndexByte(filename, '\\'); i >= 0 {
			return filename[i+1:]
		}
	}
	return filename
}
