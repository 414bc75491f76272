package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedNumber is returned when a numeric token does not parse.
	ErrMalformedNumber = errors.New("parser: malformed number")

	// ErrMissingToken is returned when a line has fewer fields than its
	// keyword requires.
	ErrMissingToken = errors.New("parser: missing token")

	// ErrIndexOutOfRange is returned when a face corner references an
	// attribute that does not exist.
	ErrIndexOutOfRange = errors.New("parser: index out of range")

	// ErrUnsupportedFormat is returned by the registry for unknown formats
	// or parse methods.
	ErrUnsupportedFormat = errors.New("parser: unsupported format")
)

// ParseError is a fatal input error. Start and End are the byte offsets
// of the offending line, exclusive of its terminator.
type ParseError struct {
	Kind  error // one of ErrMalformedNumber, ErrMissingToken, ErrIndexOutOfRange
	Start int
	End   int
	Token string // offending token, empty when it is missing
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%v at bytes %d-%d", e.Kind, e.Start, e.End)
	}
	return fmt.Sprintf("%v at bytes %d-%d: %q", e.Kind, e.Start, e.End, e.Token)
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

func lineError(kind error, s LineSpan, tok []byte) *ParseError {
	return &ParseError{Kind: kind, Start: s.Start, End: s.End, Token: string(tok)}
}
