package fragment

import (
	"errors"
	"fmt"
)

var (
	ErrFetchFatal    = errors.New("fragment fetch failed with an unretryable error")
	ErrMissing       = errors.New("fragment unavailable after exhausting retries")
	ErrKeyFetch      = errors.New("failed to fetch decryption key")
	ErrInvalidKey    = errors.New("decryption key must be 16 bytes")
	ErrCiphertext    = errors.New("ciphertext is not a multiple of the AES block size")
	ErrArtifactWrite = errors.New("failed to write fragment artifact")
)

// Error attaches a fragment index to a failure.
type Error struct {
	Index int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fragment %d: %v", e.Index, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err annotated with the fragment index, or nil.
func Wrap(index int, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Index: index, Err: err}
}
