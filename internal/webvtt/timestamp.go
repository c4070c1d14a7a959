package webvtt

import (
	"fmt"
	"strconv"

	"github.com/dlclark/regexp2"
)

// Ticks per second of the MPEG-TS presentation clock.
const ClockRate = 90000

// MPEGTSRollover is the modulus at which the 33-bit MPEG-TS clock wraps.
const MPEGTSRollover int64 = 1 << 33

// parseTimestamp converts a timestamp match into 90 kHz ticks.
func parseTimestamp(m *regexp2.Match) int64 {
	group := func(n int) int64 {
		g := m.GroupByNumber(n)
		if g == nil || len(g.Captures) == 0 {
			return 0
		}
		v, _ := strconv.ParseInt(g.String(), 10, 64)
		return v
	}

	ms := group(1)*3600000 + group(2)*60000 + group(3)*1000 + group(4)

	return 90 * ms
}

// FormatTimestamp renders 90 kHz ticks as HH:MM:SS.mmm, rounding to the
// nearest millisecond.
func FormatTimestamp(ts int64) string {
	msec := floorDiv(ts+45, 90)
	secs, msec := msec/1000, msec%1000
	mins, secs := secs/60, secs%60
	hrs, mins := mins/60, mins%60

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hrs, mins, secs, msec)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
