package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ByteRange is a sub-range of a resource. End is exclusive.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// Header renders the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

// FetchOptions holds per-request options.
type FetchOptions struct {
	Headers map[string]string
	Range   *ByteRange
}

// Metadata describes a fetched resource.
type Metadata struct {
	URL         string
	Size        int64
	ContentType string
	Filetime    time.Time
}

// Fetcher retrieves a single resource in full. Implementations own their
// retry budget for connection-level failures and surface HTTP status
// failures as errors implementing StatusCoder.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) ([]byte, *Metadata, error)
	Supports(url string) bool
}

// StatusCoder is implemented by errors that carry an HTTP response status.
type StatusCoder interface {
	StatusCode() int
}

// HTTPStatus reports the response status carried by err, if any.
func HTTPStatus(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return sc.StatusCode(), true
	}

	return 0, false
}
