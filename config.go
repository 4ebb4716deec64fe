package magpie

import (
	"fmt"
	"log/slog"
)

// ParserConfig contains configuration options shared by the form-data
// dispatcher and the multipart parser.
type ParserConfig struct {
	// Charset is the default character set used to decode form field
	// values when a part does not declare its own charset parameter.
	// Default: "utf-8"
	Charset string

	// BufferSize is the block size for reading the input stream. It must
	// be a multiple of 4 so base64 bodies can be decoded chunk-aligned,
	// and at least 1 KiB so long header lines cannot thrash the splitter.
	// Default: 64 KiB
	BufferSize int

	// MaxFormMemorySize is the ceiling, in bytes, for form field values
	// accumulated in memory across one parse. Exceeding it fails the
	// parse with ErrRequestEntityTooLarge (0 = unlimited).
	MaxFormMemorySize int64

	// MaxContentLength rejects requests whose declared content length
	// exceeds it with ErrRequestEntityTooLarge before any byte is read
	// (0 = unlimited). Enforced by FormDataParser.
	MaxContentLength int64

	// StreamFactory produces the sink for each file upload part.
	// Default: DefaultStreamFactory (spooled temp files)
	StreamFactory StreamFactory

	// Silent makes FormDataParser swallow parse errors and return empty
	// results instead. The parsers themselves always propagate.
	Silent bool

	// Logger is the structured logger used to report swallowed errors.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultParserConfig returns a ParserConfig with sensible defaults.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		Charset:       "utf-8",
		BufferSize:    64 * 1024,
		StreamFactory: DefaultStreamFactory,
		Silent:        true,
		Logger:        slog.Default(),
	}
}

// withDefaults fills unset fields and validates the buffer size.
func (c ParserConfig) withDefaults() (ParserConfig, error) {
	if c.Charset == "" {
		c.Charset = "utf-8"
	}
	if c.BufferSize == 0 {
		c.BufferSize = 64 * 1024
	}
	if c.BufferSize%4 != 0 {
		return c, fmt.Errorf("form: buffer size %d is not a multiple of 4", c.BufferSize)
	}
	if c.BufferSize < 1024 {
		return c, fmt.Errorf("form: buffer size %d is smaller than 1 KiB", c.BufferSize)
	}
	if c.StreamFactory == nil {
		c.StreamFactory = DefaultStreamFactory
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}
