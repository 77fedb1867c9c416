package manifest

import "fmt"

// ParseError describes a structurally invalid manifest.
type ParseError struct {
	Message string
	// Subject is the path or archive name at fault, if any.
	Subject string
	Err     error
}

func (e *ParseError) Error() string {
	msg := "manifest: " + e.Message
	if e.Subject != "" {
		msg += fmt.Sprintf(" (%s)", e.Subject)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
