package external

import (
	"errors"
	"fmt"
)

var (
	ErrToolFailed  = errors.New("external downloader failed")
	ErrUnsupported = errors.New("playlist not supported by external downloader")
	ErrGaveUp      = errors.New("giving up after fragment retries")
)

// ExitError reports a non-zero exit of an external tool.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.Code, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	return ErrToolFailed
}
