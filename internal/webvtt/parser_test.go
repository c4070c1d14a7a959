package webvtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(blocks []Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		b.WriteInto(&sb)
	}
	return sb.String()
}

func TestParseFragment(t *testing.T) {
	doc := "WEBVTT\n" +
		"X-TIMESTAMP-MAP=LOCAL:00:00:00.000,MPEGTS:900000\n" +
		"\n" +
		"STYLE\n" +
		"::cue { color: yellow }\n" +
		"\n" +
		"NOTE a comment\n" +
		"\n" +
		"cue-1\n" +
		"00:00:01.000 --> 00:00:02.500 align:start\n" +
		"Hello\n" +
		"world\n" +
		"\n" +
		"01:00:03.000 --> 01:00:04.000\n" +
		"Bye\n"

	blocks, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, blocks, 5)

	magic, ok := blocks[0].(*Magic)
	require.True(t, ok)
	require.NotNil(t, magic.MPEGTS)
	require.NotNil(t, magic.Local)
	assert.Equal(t, int64(900000), *magic.MPEGTS)
	assert.Equal(t, int64(0), *magic.Local)

	_, ok = blocks[1].(*HeaderBlock)
	assert.True(t, ok)
	_, ok = blocks[2].(*CommentBlock)
	assert.True(t, ok)

	cue, ok := blocks[3].(*Cue)
	require.True(t, ok)
	require.NotNil(t, cue.ID)
	assert.Equal(t, "cue-1", *cue.ID)
	assert.Equal(t, int64(90*1000), cue.Start)
	assert.Equal(t, int64(90*2500), cue.End)
	require.NotNil(t, cue.Settings)
	assert.Equal(t, "align:start", *cue.Settings)
	assert.Equal(t, "Hello\nworld\n", cue.Text)

	last := blocks[4].(*Cue)
	assert.Nil(t, last.ID)
	assert.Equal(t, int64(90*3603000), last.Start)
	assert.Equal(t, "Bye\n", last.Text)
}

func TestRoundTrip(t *testing.T) {
	doc := "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHi\n\n"
	blocks, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHi\n\n", render(blocks))
}

func TestMagicVariants(t *testing.T) {
	t.Run("bom and extra text", func(t *testing.T) {
		blocks, err := Parse([]byte("\ufeffWEBVTT - captions\n\n"))
		require.NoError(t, err)
		magic := blocks[0].(*Magic)
		assert.Equal(t, " - captions", magic.Extra)
		assert.Nil(t, magic.MPEGTS)
	})

	t.Run("mpegts before local", func(t *testing.T) {
		blocks, err := Parse([]byte("WEBVTT\nX-TIMESTAMP-MAP=MPEGTS:181083,LOCAL:00:00:00.000\n\n"))
		require.NoError(t, err)
		magic := blocks[0].(*Magic)
		assert.Equal(t, int64(181083), *magic.MPEGTS)
	})

	t.Run("writes timestamp map", func(t *testing.T) {
		local, mpegts := int64(90*1000), int64(900000)
		var sb strings.Builder
		(&Magic{Local: &local, MPEGTS: &mpegts}).WriteInto(&sb)
		assert.Equal(t, "WEBVTT\nX-TIMESTAMP-MAP=LOCAL:00:00:01.000,MPEGTS:900000\n\n", sb.String())
	})
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"not a webvtt file",
		"WEBVTT\nX-TIMESTAMP-MAP=BOGUS\n\n",
		"WEBVTT\n\nthis is not a cue\nstill not\n",
	}

	for _, doc := range tests {
		_, err := Parse([]byte(doc))
		assert.True(t, errors.Is(err, ErrParse), "doc %q: %v", doc, err)
	}
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00.000", FormatTimestamp(0))
	assert.Equal(t, "00:00:01.000", FormatTimestamp(90000))
	assert.Equal(t, "00:00:00.001", FormatTimestamp(45))
	assert.Equal(t, "00:00:00.000", FormatTimestamp(44))
	assert.Equal(t, "26:30:00.000", FormatTimestamp(90*(26*3600+30*60)*1000))
}

func TestCueEqual(t *testing.T) {
	id := "a"
	a := &Cue{ID: &id, Start: 1, End: 2, Text: "x"}
	b := &Cue{ID: &id, Start: 1, End: 2, Text: "x"}
	c := &Cue{Start: 1, End: 2, Text: "x"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
