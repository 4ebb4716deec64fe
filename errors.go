package magpie

import "errors"

var (
	ErrInvalidBoundary       = errors.New("form: invalid multipart boundary")
	ErrExpectedBoundary      = errors.New("form: expected boundary at start of multipart data")
	ErrUnexpectedEOF         = errors.New("form: unexpected end of multipart stream")
	ErrMissingDisposition    = errors.New("form: part is missing Content-Disposition header")
	ErrInvalidHeaderValue    = errors.New("form: header value must not contain newline characters")
	ErrTransferDecodeFailed  = errors.New("form: could not decode transfer-encoded chunk")
	ErrRequestEntityTooLarge = errors.New("form: request entity too large")
)
