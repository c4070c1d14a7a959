package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	const (
		plain     = "#EXTM3U\n#EXTINF:4,\na.ts\n#EXT-X-ENDLIST\n"
		aes       = "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\"\n#EXTINF:4,\na.ts\n"
		aesRanges = "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\"\n#EXT-X-BYTERANGE:10@0\na.ts\n"
		drm       = "#EXTM3U\n#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"skd://k\"\n#EXTINF:4,\na.ts\n"
	)

	tests := []struct {
		name string
		caps Capabilities
		text string
		live bool
		want []string
	}{
		{name: "plain vod", caps: Capabilities{}, text: plain},
		{name: "live without native live", caps: Capabilities{}, text: plain, live: true, want: []string{ReasonLive}},
		{name: "live with native live", caps: Capabilities{NativeLive: true}, text: plain, live: true},
		{name: "aes without decryption", caps: Capabilities{}, text: aes, want: []string{ReasonNoDecryption}},
		{name: "aes with decryption", caps: Capabilities{CanDecrypt: true}, text: aes},
		{name: "aes with byte ranges", caps: Capabilities{CanDecrypt: true}, text: aesRanges, want: []string{ReasonEncryptedByteRange}},
		{name: "drm", caps: Capabilities{CanDecrypt: true}, text: drm, want: []string{ReasonDRM}},
		{name: "drm allowed", caps: Capabilities{CanDecrypt: true, AllowUnplayable: true}, text: drm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(tt.caps)
			assert.Equal(t, tt.want, p.Check(tt.text, tt.live))
			assert.Equal(t, len(tt.want) == 0, p.Supports(tt.text, tt.live))
		})
	}
}

func TestSupportsWithDecryption(t *testing.T) {
	p := NewParser(Capabilities{})
	aes := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\"\n#EXTINF:4,\na.ts\n"

	assert.False(t, p.Supports(aes, false))
	assert.True(t, p.SupportsWithDecryption(aes, false))
	assert.False(t, p.Capabilities().CanDecrypt)
}

func TestInspect(t *testing.T) {
	t.Run("vod", func(t *testing.T) {
		info, err := Inspect("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:5\n#EXTINF:6.0,\na.ts\n#EXTINF:6.0,\nb.ts\n#EXT-X-ENDLIST\n")
		require.NoError(t, err)
		assert.False(t, info.Live)
		assert.Equal(t, uint64(5), info.MediaSequence)
		assert.Equal(t, 2, info.Segments)
	})

	t.Run("live", func(t *testing.T) {
		info, err := Inspect("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\na.ts\n")
		require.NoError(t, err)
		assert.True(t, info.Live)
	})

	t.Run("master", func(t *testing.T) {
		_, err := Inspect("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=640x360\nlow.m3u8\n")
		assert.True(t, errors.Is(err, ErrMasterPlaylist))
	})
}
