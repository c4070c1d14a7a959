package manifest

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

const baseURL = "https://cdn.example.com/video/index.m3u8"

func parse(t *testing.T, text string, opts Options) *Playlist {
	t.Helper()
	if opts.BaseURL == "" {
		opts.BaseURL = baseURL
	}
	pl, err := NewParser(Capabilities{CanDecrypt: true}).Parse(text, opts)
	require.NoError(t, err)
	return pl
}

func TestParseBasic(t *testing.T) {
	text := `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXTINF:6.0,
seg100.ts
#EXTINF:6.0,
https://other.example.com/seg101.ts
#EXTINF:6.0,
/abs/seg102.ts
#EXT-X-ENDLIST
`
	pl := parse(t, text, Options{})

	require.Len(t, pl.Fragments, 3)
	assert.Equal(t, 3, pl.TotalFragments)
	assert.Equal(t, 0, pl.AdFragments)

	assert.Equal(t, "https://cdn.example.com/video/seg100.ts", pl.Fragments[0].URL)
	assert.Equal(t, "https://other.example.com/seg101.ts", pl.Fragments[1].URL)
	assert.Equal(t, "https://cdn.example.com/abs/seg102.ts", pl.Fragments[2].URL)

	for i, f := range pl.Fragments {
		assert.Equal(t, i+1, f.Index)
		assert.Equal(t, uint64(100+i), f.MediaSequence)
		assert.Nil(t, f.ByteRange)
		assert.False(t, f.Decrypt.Encrypted())
	}
}

func TestParseByteRangeContinuation(t *testing.T) {
	text := `#EXTM3U
#EXT-X-BYTERANGE: 1000@2000
#EXTINF:4,
media.mp4
#EXT-X-BYTERANGE:500
#EXTINF:4,
media.mp4
#EXTINF:4,
other.mp4
`
	pl := parse(t, text, Options{})

	require.Len(t, pl.Fragments, 3)
	assert.Equal(t, &protocol.ByteRange{Start: 2000, End: 3000}, pl.Fragments[0].ByteRange)
	assert.Equal(t, &protocol.ByteRange{Start: 3000, End: 3500}, pl.Fragments[1].ByteRange)
	assert.Nil(t, pl.Fragments[2].ByteRange)
	assert.True(t, pl.HasByteRange)
}

func TestParseKeys(t *testing.T) {
	text := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:7
#EXT-X-KEY:METHOD=AES-128,URI="keys/k1.bin",IV=0x1f
#EXTINF:4,
a.ts
#EXTINF:4,
b.ts
#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example.com/k2"
#EXTINF:4,
c.ts
#EXT-X-KEY:METHOD=NONE
#EXTINF:4,
d.ts
`
	pl := parse(t, text, Options{})
	require.Len(t, pl.Fragments, 4)
	assert.True(t, pl.Encrypted)

	a, b, c, d := pl.Fragments[0], pl.Fragments[1], pl.Fragments[2], pl.Fragments[3]

	assert.Equal(t, fragment.MethodAES128, a.Decrypt.Method)
	assert.Equal(t, "https://cdn.example.com/video/keys/k1.bin", a.Decrypt.URI)
	assert.Equal(t, append(make([]byte, 15), 0x1f), a.Decrypt.IV)
	assert.Same(t, a.Decrypt, b.Decrypt)

	assert.Equal(t, "https://keys.example.com/k2", c.Decrypt.URI)
	assert.Nil(t, c.Decrypt.IV)
	assert.Equal(t, uint64(9), c.MediaSequence)

	assert.False(t, d.Decrypt.Encrypted())
}

func TestParseKeyOverrides(t *testing.T) {
	text := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="k1"
#EXTINF:4,
a.ts?x=1
`
	key := []byte("0123456789abcdef")
	pl := parse(t, text, Options{
		KeyURL:     "https://auth.example.com/key",
		Key:        key,
		ExtraQuery: url.Values{"token": {"abc"}},
	})

	f := pl.Fragments[0]
	assert.Equal(t, "https://auth.example.com/key", f.Decrypt.URI)
	assert.Equal(t, key, f.Decrypt.Key())
	assert.Equal(t, "https://cdn.example.com/video/a.ts?token=abc&x=1", f.URL)
}

func TestParseKeyOverrideWithoutURI(t *testing.T) {
	text := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128\n#EXTINF:4,\na.ts\n"
	pl := parse(t, text, Options{KeyURL: "https://auth.example.com/key"})

	assert.Equal(t, "https://auth.example.com/key", pl.Fragments[0].Decrypt.URI)
}

func TestParseExtraQueryOnKey(t *testing.T) {
	text := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="k1"
#EXTINF:4,
a.ts
`
	pl := parse(t, text, Options{ExtraQuery: url.Values{"hdnts": {"sig"}}})
	assert.Equal(t, "https://cdn.example.com/video/k1?hdnts=sig", pl.Fragments[0].Decrypt.URI)
}

func TestParseInitSegment(t *testing.T) {
	text := `#EXTM3U
#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"
#EXTINF:4,
seg1.m4s
#EXTINF:4,
seg2.m4s
`
	pl := parse(t, text, Options{})
	require.Len(t, pl.Fragments, 3)

	init := pl.Fragments[0]
	assert.True(t, init.Init)
	assert.True(t, init.Critical)
	assert.Equal(t, 1, init.Index)
	assert.Equal(t, &protocol.ByteRange{Start: 0, End: 720}, init.ByteRange)
	assert.Nil(t, pl.Fragments[1].ByteRange)
	assert.Equal(t, 3, pl.Fragments[2].Index)
}

func TestParseInitSegmentMisplaced(t *testing.T) {
	text := `#EXTM3U
#EXTINF:4,
seg1.m4s
#EXT-X-MAP:URI="init.mp4"
#EXTINF:4,
seg2.m4s
`
	_, err := NewParser(Capabilities{}).Parse(text, Options{BaseURL: baseURL})
	assert.True(t, errors.Is(err, ErrInitSegmentMisplaced))
}

func TestParseAdSegments(t *testing.T) {
	text := `#EXTM3U
#EXTINF:4,
main1.ts
#UPLYNK-SEGMENT:abc,00000000,ad
#EXTINF:4,
ad1.ts
#EXTINF:4,
ad2.ts
#UPLYNK-SEGMENT:abc,00000001,segment
#EXTINF:4,
main2.ts
#ANVATO-SEGMENT-INFO: type=ad
#EXTINF:4,
ad3.ts
#ANVATO-SEGMENT-INFO: type=master
#EXTINF:4,
main3.ts
`
	pl := parse(t, text, Options{})

	require.Len(t, pl.Fragments, 3)
	assert.Equal(t, 3, pl.TotalFragments)
	assert.Equal(t, 3, pl.AdFragments)
	assert.Equal(t, "https://cdn.example.com/video/main2.ts", pl.Fragments[1].URL)
	assert.Equal(t, 2, pl.Fragments[1].Index)
	assert.Equal(t, uint64(3), pl.Fragments[1].MediaSequence)
}

func TestParseFormatIndex(t *testing.T) {
	text := `#EXTM3U
#EXTINF:4,
angle0-1.ts
#EXT-X-DISCONTINUITY
#EXTINF:4,
angle1-1.ts
#EXTINF:4,
angle1-2.ts
#EXT-X-DISCONTINUITY
#EXTINF:4,
angle2-1.ts
`
	pl := parse(t, text, Options{FormatIndex: 1})

	require.Len(t, pl.Fragments, 2)
	assert.Equal(t, "https://cdn.example.com/video/angle1-1.ts", pl.Fragments[0].URL)
	assert.Equal(t, 1, pl.Fragments[0].Index)
	assert.Equal(t, "https://cdn.example.com/video/angle1-2.ts", pl.Fragments[1].URL)

	all := parse(t, text, Options{})
	assert.Len(t, all.Fragments, 4)
}

func TestParseTestMode(t *testing.T) {
	text := "#EXTM3U\n#EXTINF:4,\na.ts\n#EXTINF:4,\nb.ts\n"
	pl := parse(t, text, Options{Test: true})

	require.Len(t, pl.Fragments, 1)
	assert.Equal(t, 1, pl.TotalFragments)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{name: "no fragments", text: "#EXTM3U\n#EXT-X-ENDLIST\n", want: ErrNoFragments},
		{name: "bad byte range", text: "#EXTM3U\n#EXT-X-BYTERANGE:abc\nseg.ts\n", want: ErrMalformed},
		{name: "bad media sequence", text: "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:x\nseg.ts\n", want: ErrMalformed},
		{name: "bad iv", text: "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\",IV=0xzz\nseg.ts\n", want: ErrMalformed},
		{name: "key without uri", text: "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,IV=0x01\nseg.ts\n", want: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(Capabilities{CanDecrypt: true}).Parse(tt.text, Options{BaseURL: baseURL})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestParseIV(t *testing.T) {
	iv, err := parseIV("0x000102030405060708090A0B0C0D0E0F")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, iv)

	_, err = parseIV("0x" + "00112233445566778899aabbccddeeff00")
	assert.Error(t, err)
}

func TestParseAttributes(t *testing.T) {
	attrs := parseAttributes(`METHOD=AES-128,URI="https://k.example.com/key?a=1,b=2",IV=0x01`)
	assert.Equal(t, "AES-128", attrs["METHOD"])
	assert.Equal(t, "https://k.example.com/key?a=1,b=2", attrs["URI"])
	assert.Equal(t, "0x01", attrs["IV"])
}
