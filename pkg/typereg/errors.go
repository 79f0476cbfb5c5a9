package typereg

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTypeExists is returned when registering a name that is already taken without overwrite.
	ErrTypeExists = errors.New("type already registered")
	// ErrUnknownType is returned by strict resolution of an unregistered name.
	ErrUnknownType = errors.New("unknown type")
	// ErrDataParsing is the sentinel wrapped by *ParsingError.
	ErrDataParsing = errors.New("data parsing failed")
	// ErrDataSerialization is the sentinel wrapped by *SerializationError.
	ErrDataSerialization = errors.New("data serialization failed")
)

// ParsingError reports an exported payload that could not be turned back into a value.
// The flags record which parts of the lookup succeeded.
type ParsingError struct {
	TypeName      string
	TypeResolved  bool
	ImporterFound bool
	Value         any
	Cause         error
}

// Error implements the error interface.
func (e *ParsingError) Error() string {
	var missing []string
	if e.TypeName == "" {
		missing = append(missing, "type name")
	}
	if !e.TypeResolved {
		missing = append(missing, "type")
	}
	msg := fmt.Sprintf("cannot import %q", e.TypeName)
	if len(missing) > 0 {
		msg += ": unresolved " + strings.Join(missing, ", ")
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes ErrDataParsing and the underlying cause to errors.Is and errors.As.
func (e *ParsingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrDataParsing}
	}
	return []error{ErrDataParsing, e.Cause}
}

// SerializationError reports a value whose type has neither an exporter nor a generic encoding.
type SerializationError struct {
	TypeName string
	Reason   string
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("cannot export value of type %s: %s", e.TypeName, e.Reason)
}

// Unwrap returns ErrDataSerialization so callers can use errors.Is.
func (e *SerializationError) Unwrap() error { return ErrDataSerialization }
