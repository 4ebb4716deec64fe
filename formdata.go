package magpie

import (
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
)

// BodyParser consumes an entity body of one known mimetype and produces
// the form fields and file uploads it carries. Implemented by
// MultipartParser and URLEncodedParser; selected by a pure function of
// the mimetype string.
type BodyParser interface {
	ParseBody(stream io.Reader, contentLength int64, options map[string]string) (*MultiDict[string], *MultiDict[*FileUpload], error)
}

// FormDataParser dispatches an entity body to the parser matching its
// content type. Call Parse only for methods that carry a body (POST, PUT,
// PATCH).
//
//	parser, err := magpie.NewFormDataParser(magpie.DefaultParserConfig())
//	fields, files, err := parser.Parse(body, mimetype, contentLength, options)
type FormDataParser struct {
	config ParserConfig
}

// NewFormDataParser returns a dispatcher for the given configuration.
func NewFormDataParser(config ParserConfig) (*FormDataParser, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	return &FormDataParser{config: config}, nil
}

// bodyParser returns the parser responsible for mimetype, or nil when the
// body is not form data and should be left untouched for the caller.
func (p *FormDataParser) bodyParser(mimetype string) BodyParser {
	switch mimetype {
	case "multipart/form-data":
		parser, err := NewMultipartParser(p.config)
		if err != nil {
			return nil
		}
		return parser
	case "application/x-www-form-urlencoded", "application/x-url-encoded":
		return &URLEncodedParser{config: p.config}
	}
	return nil
}

// Parse decodes the body in stream according to mimetype and the
// content-type options (the multipart boundary lives there). Unknown
// mimetypes yield two empty dicts and leave the stream unread. For known
// mimetypes the stream is exhausted before Parse returns, success or not,
// so the transport is positioned after this request's body.
//
// With Silent set, parse errors are logged at debug level and swallowed
// into empty results; the content length ceiling is enforced either way.
func (p *FormDataParser) Parse(stream io.Reader, mimetype string, contentLength int64, options map[string]string) (*MultiDict[string], *MultiDict[*FileUpload], error) {
	if p.config.MaxContentLength > 0 && contentLength > p.config.MaxContentLength {
		return nil, nil, ErrRequestEntityTooLarge
	}

	parser := p.bodyParser(mimetype)
	if parser == nil {
		return NewMultiDict[string](), NewMultiDict[*FileUpload](), nil
	}

	fields, files, err := parser.ParseBody(stream, contentLength, options)
	exhaust(stream)
	if err != nil {
		if !p.config.Silent {
			return nil, nil, err
		}
		p.config.Logger.Debug("form: swallowed parse error", "mimetype", mimetype, "error", err)
		return NewMultiDict[string](), NewMultiDict[*FileUpload](), nil
	}
	return fields, files, nil
}

// ParseContentType splits a Content-Type header into its lowercase
// mimetype and parameter map. Malformed headers yield an empty mimetype
// and no parameters.
func ParseContentType(value string) (string, map[string]string) {
	mimetype, params, err := mime.ParseMediaType(value)
	if err != nil {
		return "", nil
	}
	return mimetype, params
}

// URLEncodedParser decodes application/x-www-form-urlencoded bodies into
// an ordered field dict. The whole body is held in memory, so the form
// memory ceiling applies to the declared content length up front.
type URLEncodedParser struct {
	config ParserConfig
}

// NewURLEncodedParser returns a parser for the given configuration.
func NewURLEncodedParser(config ParserConfig) (*URLEncodedParser, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	return &URLEncodedParser{config: config}, nil
}

// ParseBody implements BodyParser. The files dict is always empty.
func (p *URLEncodedParser) ParseBody(stream io.Reader, contentLength int64, options map[string]string) (*MultiDict[string], *MultiDict[*FileUpload], error) {
	if p.config.MaxFormMemorySize > 0 && contentLength > p.config.MaxFormMemorySize {
		return nil, nil, ErrRequestEntityTooLarge
	}

	var reader io.Reader = stream
	if p.config.MaxFormMemorySize > 0 {
		reader = io.LimitReader(stream, p.config.MaxFormMemorySize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("form: read: %w", err)
	}
	if p.config.MaxFormMemorySize > 0 && int64(len(body)) > p.config.MaxFormMemorySize {
		return nil, nil, ErrRequestEntityTooLarge
	}

	fields := NewMultiDict[string]()
	for _, pair := range strings.Split(string(body), "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			continue
		}
		fields.Add(key, value)
	}
	return fields, NewMultiDict[*FileUpload](), nil
}
