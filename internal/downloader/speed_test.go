package downloader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpeedCalculatorWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewSpeedCalculator(5)
	s.now = func() time.Time { return now }

	assert.Zero(t, s.GetSpeed())

	s.AddBytes(1000)
	now = now.Add(2 * time.Second)
	s.AddBytes(1000)
	assert.Equal(t, int64(1000), s.GetSpeed())

	now = now.Add(10 * time.Second)
	assert.Zero(t, s.GetSpeed())
}

func TestEstimateTotal(t *testing.T) {
	assert.Equal(t, int64(1000), estimateTotal(0, 100, 0, 10))
	assert.Equal(t, int64(1000), estimateTotal(400, 100, 4, 10))
	assert.Zero(t, estimateTotal(100, 100, 1, 0))
}
