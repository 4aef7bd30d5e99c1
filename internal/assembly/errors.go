package assembly

import (
	"errors"
	"fmt"
)

// ErrNoImages is returned when Assemble is called without inputs.
var ErrNoImages = errors.New("no images provided")

// Kind classifies why an item could not be converted.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindUnsupported Kind = "unsupported"
	KindCorrupt     Kind = "corrupt"
)

// ItemError names the input that stopped an assembly.
type ItemError struct {
	Name  string
	Kind  Kind
	Cause error
}

func (e *ItemError) Error() string {
	var msg string
	switch e.Kind {
	case KindNotFound:
		msg = fmt.Sprintf("image not found: %s", e.Name)
	case KindUnsupported:
		msg = fmt.Sprintf("unsupported image format: %s", e.Name)
	default:
		msg = fmt.Sprintf("failed to process image: %s", e.Name)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ItemError) Unwrap() error {
	return e.Cause
}
