package webvtt

import (
	"strconv"
	"strings"
)

// Block is one parsed section of a WebVTT document.
type Block interface {
	WriteInto(sb *strings.Builder)
}

// Magic is the WEBVTT signature line with its optional X-TIMESTAMP-MAP.
type Magic struct {
	Extra  string
	Local  *int64
	MPEGTS *int64
}

func (m *Magic) WriteInto(sb *strings.Builder) {
	sb.WriteString("WEBVTT")
	sb.WriteString(m.Extra)
	sb.WriteString("\n")

	local, mpegts := deref(m.Local), deref(m.MPEGTS)
	if local != 0 || mpegts != 0 {
		sb.WriteString("X-TIMESTAMP-MAP=LOCAL:")
		sb.WriteString(FormatTimestamp(local))
		sb.WriteString(",MPEGTS:")
		sb.WriteString(strconv.FormatInt(mpegts, 10))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
}

// HeaderBlock is a STYLE or REGION block, kept verbatim.
type HeaderBlock struct {
	Raw string
}

func (h *HeaderBlock) WriteInto(sb *strings.Builder) {
	sb.WriteString(h.Raw)
}

// CommentBlock is a NOTE block, kept verbatim.
type CommentBlock struct {
	Raw string
}

func (c *CommentBlock) WriteInto(sb *strings.Builder) {
	sb.WriteString(c.Raw)
}

// Cue is a timed text cue. Start and End are 90 kHz ticks; the payload is
// not interpreted.
type Cue struct {
	ID       *string `json:"id"`
	Start    int64   `json:"start"`
	End      int64   `json:"end"`
	Text     string  `json:"text"`
	Settings *string `json:"settings"`
}

func (c *Cue) WriteInto(sb *strings.Builder) {
	if c.ID != nil {
		sb.WriteString(*c.ID)
		sb.WriteString("\n")
	}

	sb.WriteString(FormatTimestamp(c.Start))
	sb.WriteString(" --> ")
	sb.WriteString(FormatTimestamp(c.End))

	if c.Settings != nil {
		sb.WriteString(" ")
		sb.WriteString(*c.Settings)
	}

	sb.WriteString("\n")
	sb.WriteString(c.Text)
	sb.WriteString("\n")
}

// Equal reports whether two cues are identical in every field.
func (c *Cue) Equal(o *Cue) bool {
	return c.Start == o.Start && c.End == o.End && c.Text == o.Text &&
		equalPtr(c.ID, o.ID) && equalPtr(c.Settings, o.Settings)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
