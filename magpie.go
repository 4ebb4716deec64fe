// Magpie is a streaming HTTP form-data parsing toolkit for Go.
//
// It translates entity bodies into structured form fields and file
// uploads without ever materializing the whole body in memory, tolerating
// arbitrary chunking, transfer encodings and the malformed input real
// clients produce.
//
// # Parsing form data
//
// Dispatch on the request's content type:
//
//	mimetype, options := magpie.ParseContentType(r.Header.Get("Content-Type"))
//
//	parser, err := magpie.NewFormDataParser(magpie.DefaultParserConfig())
//	fields, files, err := parser.Parse(
//	    magpie.NewLimitedStream(r.Body, r.ContentLength),
//	    mimetype, r.ContentLength, options,
//	)
//
// Or drive the multipart parser directly when the boundary is known:
//
//	parser, err := magpie.NewMultipartParser(magpie.DefaultParserConfig())
//	fields, files, err := parser.Parse(body, boundary, contentLength)
//
// Fields and files come back as insertion-ordered multi-value dicts, so
// repeated field names survive in the order the client sent them:
//
//	for _, tag := range fields.GetAll("tag") {
//	    ...
//	}
//
// # File uploads
//
// Uploaded files stream into sinks produced by the configured
// StreamFactory. The default factory spools small uploads in memory and
// spills large ones to temp files:
//
//	upload, _ := files.Get("avatar")
//	defer upload.Close()
//	upload.Save(dst)
//
// # Serialization
//
// Parsed headers and field dicts round-trip through JSON and MessagePack:
//
//	data, err := headers.ToMessagePack()
//	headers, err = magpie.HeadersFromMessagePack(data)
//
// # Errors
//
// All parse failures are sentinel errors (ErrInvalidBoundary,
// ErrUnexpectedEOF, ErrRequestEntityTooLarge, ...) testable with
// errors.Is. A fatal error aborts the parse immediately; partially
// written upload sinks are closed before the error propagates.
package magpie
