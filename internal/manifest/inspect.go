package manifest

import (
	"strings"

	"github.com/grafov/m3u8"

	"github.com/NamanBalaji/hlsdl/internal/logger"
)

// Info is what a structural decode reveals about a playlist before the
// fragment scan.
type Info struct {
	Live           bool
	TargetDuration float64
	MediaSequence  uint64
	Segments       int
}

// Inspect decodes text as an HLS playlist. Master playlists are rejected
// since variant selection happens before this point. When the decoder
// cannot make sense of the text, liveness falls back to the presence of
// #EXT-X-ENDLIST.
func Inspect(text string) (*Info, error) {
	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		logger.Debugf("Structural playlist decode failed, using line heuristics: %v", err)
		return &Info{Live: !strings.Contains(text, "#EXT-X-ENDLIST")}, nil
	}

	if listType == m3u8.MASTER {
		return nil, ErrMasterPlaylist
	}

	media, ok := pl.(*m3u8.MediaPlaylist)
	if !ok {
		return &Info{Live: !strings.Contains(text, "#EXT-X-ENDLIST")}, nil
	}

	return &Info{
		Live:           !media.Closed && media.MediaType != m3u8.VOD,
		TargetDuration: media.TargetDuration,
		MediaSequence:  media.SeqNo,
		Segments:       int(media.Count()),
	}, nil
}
