package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func TestByteRangeHeader(t *testing.T) {
	r := ByteRange{Start: 2000, End: 3000}
	assert.Equal(t, "bytes=2000-2999", r.Header())
	assert.Equal(t, int64(1000), r.Len())
}

func TestHTTPStatus(t *testing.T) {
	code, ok := HTTPStatus(fmt.Errorf("fragment 3: %w", statusErr(404)))
	assert.True(t, ok)
	assert.Equal(t, 404, code)

	_, ok = HTTPStatus(errors.New("connection reset"))
	assert.False(t, ok)

	_, ok = HTTPStatus(statusErr(0))
	assert.False(t, ok)
}
