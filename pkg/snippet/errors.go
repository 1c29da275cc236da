package snippet

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a snippet could not be imported
type ErrorKind string

const (
	// KindInvalidYAML means the input is not well-formed YAML
	KindInvalidYAML ErrorKind = "invalid_yaml"
	// KindUnrecognizedStructure means the designer blocks are missing or a marker is malformed
	KindUnrecognizedStructure ErrorKind = "unrecognized_display_structure"
	// KindNoPagesFound means the designer blocks were found but declare no pages
	KindNoPagesFound ErrorKind = "no_pages_found"
)

// Message returns user-facing guidance for the error kind
func (k ErrorKind) Message() string {
	switch k {
	case KindInvalidYAML:
		return "Snippet is not valid YAML. Fix the syntax and resubmit."
	case KindUnrecognizedStructure:
		return "Snippet does not match the expected designer pattern. " +
			"Ensure it contains the designer page select and a compatible display lambda."
	case KindNoPagesFound:
		return "Snippet matches the designer pattern but declares no pages."
	default:
		return "Snippet import failed."
	}
}

// Sentinels for errors.Is checks against a *ParseError
var (
	ErrInvalidYAML           = &ParseError{Kind: KindInvalidYAML}
	ErrUnrecognizedStructure = &ParseError{Kind: KindUnrecognizedStructure}
	ErrNoPagesFound          = &ParseError{Kind: KindNoPagesFound}
)

// ParseError is the only error type returned by Parse
type ParseError struct {
	Kind ErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is matches any *ParseError of the same kind
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the error kind from an error returned by Parse
func KindOf(err error) (ErrorKind, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

func invalidYAML(err error) error {
	return &ParseError{Kind: KindInvalidYAML, Err: err}
}

func unrecognized(format string, args ...interface{}) error {
	return &ParseError{Kind: KindUnrecognizedStructure, Err: fmt.Errorf(format, args...)}
}

func noPages() error {
	return &ParseError{Kind: KindNoPagesFound, Err: errors.New("declarative page list is empty")}
}
