package assembler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/internal/webvtt"
)

// Packer turns a fetched fragment into the bytes appended to the output.
// Pack is called once per fragment in index order.
type Packer interface {
	Pack(index int, data []byte) ([]byte, error)
	// State returns the carry-over state to persist for resuming.
	State() (map[string]json.RawMessage, error)
}

// RawPacker appends fragments unchanged.
type RawPacker struct{}

func (RawPacker) Pack(_ int, data []byte) ([]byte, error) {
	return data, nil
}

func (RawPacker) State() (map[string]json.RawMessage, error) {
	return nil, nil
}

// Extra state keys used by the WebVTT packer.
const (
	stateMPEGTSAdjust = "webvtt_mpegts_adjust"
	stateMPEGTSLast   = "webvtt_mpegts_last"
	stateMPEGTS       = "webvtt_mpegts"
	stateLocal        = "webvtt_local"
	stateDedupWindow  = "webvtt_dedup_window"
)

// WebVTTPacker merges WebVTT fragments into one document. It rebases cue
// times onto the first fragment's clock, tracks 33-bit MPEG-TS rollover and
// drops cues repeated across fragment boundaries.
type WebVTTPacker struct {
	mpegtsAdjust int64
	mpegtsLast   int64
	baseMPEGTS   int64
	baseLocal    int64
	window       []webvtt.Cue
}

// NewWebVTTPacker restores a packer from persisted state, which may be nil.
func NewWebVTTPacker(state map[string]json.RawMessage) (*WebVTTPacker, error) {
	p := &WebVTTPacker{}

	fields := []struct {
		key string
		dst any
	}{
		{stateMPEGTSAdjust, &p.mpegtsAdjust},
		{stateMPEGTSLast, &p.mpegtsLast},
		{stateMPEGTS, &p.baseMPEGTS},
		{stateLocal, &p.baseLocal},
		{stateDedupWindow, &p.window},
	}

	for _, f := range fields {
		raw, ok := state[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return nil, fmt.Errorf("invalid %s state: %w", f.key, err)
		}
	}

	return p, nil
}

func (p *WebVTTPacker) Pack(index int, data []byte) ([]byte, error) {
	blocks, err := webvtt.Parse(data)
	if err != nil {
		return nil, err
	}

	var (
		out    strings.Builder
		adjust int64
	)

	for _, block := range blocks {
		switch b := block.(type) {
		case *webvtt.Cue:
			b.Start += adjust
			b.End += adjust
			if p.duplicate(b) {
				continue
			}
			p.window = append(p.window, *b)

		case *webvtt.Magic:
			var mpegts int64
			if b.MPEGTS != nil {
				mpegts = *b.MPEGTS
			}
			mpegts += p.mpegtsAdjust * webvtt.MPEGTSRollover
			if mpegts < p.mpegtsLast {
				p.mpegtsAdjust++
				mpegts += webvtt.MPEGTSRollover
			}
			p.mpegtsLast = mpegts
			b.MPEGTS = &mpegts

			if index == 1 {
				p.baseMPEGTS = mpegts
				if b.Local != nil {
					p.baseLocal = *b.Local
				} else {
					p.baseLocal = 0
				}
			} else {
				if b.Local != nil {
					adjust = (mpegts - p.baseMPEGTS) - (*b.Local - p.baseLocal)
				}
				continue
			}

		case *webvtt.HeaderBlock:
			if index != 1 {
				logger.Warnf("Discarding a header block found in fragment %d; subtitles may display incorrectly", index)
				continue
			}
		}

		block.WriteInto(&out)
	}

	return []byte(out.String()), nil
}

// duplicate prunes cues that ended before c starts and reports whether an
// identical cue is still in the window.
func (p *WebVTTPacker) duplicate(c *webvtt.Cue) bool {
	kept := p.window[:0]
	found := false

	for i := range p.window {
		w := p.window[i]
		if found {
			kept = append(kept, w)
			continue
		}
		if w.Equal(c) {
			found = true
			kept = append(kept, w)
			continue
		}
		if w.End >= c.Start {
			kept = append(kept, w)
		}
	}

	p.window = kept

	return found
}

func (p *WebVTTPacker) State() (map[string]json.RawMessage, error) {
	state := make(map[string]json.RawMessage, 5)

	values := map[string]any{
		stateMPEGTSAdjust: p.mpegtsAdjust,
		stateMPEGTSLast:   p.mpegtsLast,
		stateMPEGTS:       p.baseMPEGTS,
		stateLocal:        p.baseLocal,
		stateDedupWindow:  p.window,
	}

	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		state[k] = raw
	}

	return state, nil
}
