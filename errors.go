package goobj

import "errors"

var (
	// ErrMeshNotFound is returned when a mesh or group ID does not exist.
	ErrMeshNotFound = errors.New("goobj: mesh not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("goobj: unsupported mesh format")

	// ErrParsingFailed is returned when mesh parsing fails. The parser's
	// own error stays in the chain.
	ErrParsingFailed = errors.New("goobj: parsing failed")

	// ErrStoreClosed is returned when operating on a closed engine.
	ErrStoreClosed = errors.New("goobj: store is closed")

	// ErrNoResults is returned when a similarity search finds nothing.
	ErrNoResults = errors.New("goobj: no results found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goobj: invalid configuration")
)
