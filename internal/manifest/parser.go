package manifest

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

// Capabilities describes what the native downloader can handle in this process.
type Capabilities struct {
	CanDecrypt      bool
	AllowUnplayable bool
	NativeLive      bool
}

// Options controls how a media playlist is turned into fragments.
type Options struct {
	BaseURL string
	// FormatIndex selects the sub-stream following the Nth discontinuity.
	// Zero disables selection.
	FormatIndex int
	ExtraQuery  url.Values
	// KeyURL replaces every key URI when set.
	KeyURL string
	// Key is used for every AES-128 scope instead of fetching one.
	Key  []byte
	Test bool
}

// Playlist is the parsed fragment list plus stream level facts.
type Playlist struct {
	Fragments      []*fragment.Fragment
	TotalFragments int
	AdFragments    int
	HasByteRange   bool
	Encrypted      bool
}

// Parser turns media playlist text into fragments.
type Parser struct {
	caps Capabilities
}

func NewParser(caps Capabilities) *Parser {
	return &Parser{caps: caps}
}

// Capabilities returns the capabilities the parser was created with.
func (p *Parser) Capabilities() Capabilities {
	return p.caps
}

// scanState is the running state of one forward scan. Directives mutate it,
// URI lines snapshot it into a fragment.
type scanState struct {
	decrypt       *fragment.DecryptInfo
	byteRange     *protocol.ByteRange
	lastRangeEnd  int64
	mediaSequence uint64
	discontinuity int
	adActive      bool
	index         int
}

func (s *scanState) selected(formatIndex int) bool {
	return formatIndex == 0 || s.discontinuity == formatIndex
}

// Parse scans text once and returns the fragments to download in order.
func (p *Parser) Parse(text string, opts Options) (*Playlist, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}

	st := &scanState{decrypt: fragment.NewDecryptInfo(fragment.MethodNone, "", nil)}
	pl := &Playlist{}

	for lineNo, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "#") {
			if err := p.mediaLine(st, pl, base, line, opts); err != nil {
				return nil, err
			}
			continue
		}

		var derr error
		switch {
		case strings.HasPrefix(line, "#EXT-X-MAP"):
			derr = p.mapLine(st, pl, base, line, opts)
		case strings.HasPrefix(line, "#EXT-X-KEY"):
			derr = p.keyLine(st, pl, base, line, opts)
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE"):
			seq, err := strconv.ParseUint(directiveValue(line), 10, 64)
			if err != nil {
				derr = fmt.Errorf("%w: media sequence: %v", ErrMalformed, err)
				break
			}
			st.mediaSequence = seq
		case strings.HasPrefix(line, "#EXT-X-BYTERANGE"):
			br, err := parseByteRange(directiveValue(line), st.lastRangeEnd)
			if err != nil {
				derr = err
				break
			}
			st.byteRange = br
			st.lastRangeEnd = br.End
		case isAdStart(line):
			st.adActive = true
		case isAdEnd(line):
			st.adActive = false
		case line == "#EXT-X-DISCONTINUITY":
			st.discontinuity++
		}

		if derr != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, derr)
		}
	}

	if opts.Test && len(pl.Fragments) > 1 {
		pl.Fragments = pl.Fragments[:1]
	}

	if len(pl.Fragments) == 0 {
		return nil, ErrNoFragments
	}

	pl.TotalFragments = len(pl.Fragments)
	logger.Debugf("Parsed %d fragments (%d ad) from %s", pl.TotalFragments, pl.AdFragments, opts.BaseURL)

	return pl, nil
}

func (p *Parser) mediaLine(st *scanState, pl *Playlist, base *url.URL, line string, opts Options) error {
	seq := st.mediaSequence
	st.mediaSequence++
	br := st.byteRange
	st.byteRange = nil

	if !st.selected(opts.FormatIndex) {
		return nil
	}

	if st.adActive {
		pl.AdFragments++
		return nil
	}

	fragURL, err := resolveURL(base, line, opts.ExtraQuery)
	if err != nil {
		return fmt.Errorf("%w: fragment url %q: %v", ErrMalformed, line, err)
	}

	st.index++
	pl.Fragments = append(pl.Fragments, &fragment.Fragment{
		Index:         st.index,
		URL:           fragURL,
		ByteRange:     br,
		Decrypt:       st.decrypt,
		MediaSequence: seq,
	})

	if br != nil {
		pl.HasByteRange = true
	}

	return nil
}

func (p *Parser) mapLine(st *scanState, pl *Playlist, base *url.URL, line string, opts Options) error {
	if !st.selected(opts.FormatIndex) {
		return nil
	}

	if st.index > 0 {
		return ErrInitSegmentMisplaced
	}

	attrs := parseAttributes(directiveValue(line))
	if attrs["URI"] == "" {
		return fmt.Errorf("%w: EXT-X-MAP without URI", ErrMalformed)
	}

	fragURL, err := resolveURL(base, attrs["URI"], opts.ExtraQuery)
	if err != nil {
		return fmt.Errorf("%w: init url: %v", ErrMalformed, err)
	}

	var br *protocol.ByteRange
	if v, ok := attrs["BYTERANGE"]; ok {
		if br, err = parseByteRange(v, 0); err != nil {
			return err
		}
		pl.HasByteRange = true
	}

	st.index++
	pl.Fragments = append(pl.Fragments, &fragment.Fragment{
		Index:         st.index,
		URL:           fragURL,
		ByteRange:     br,
		Decrypt:       st.decrypt,
		MediaSequence: st.mediaSequence,
		Init:          true,
		Critical:      true,
	})

	logger.Debugf("Init fragment %s", fragURL)

	return nil
}

func (p *Parser) keyLine(st *scanState, pl *Playlist, base *url.URL, line string, opts Options) error {
	attrs := parseAttributes(directiveValue(line))
	method := fragment.Method(attrs["METHOD"])

	if method != fragment.MethodAES128 {
		st.decrypt = fragment.NewDecryptInfo(method, attrs["URI"], nil)
		return nil
	}

	var iv []byte
	if v, ok := attrs["IV"]; ok {
		parsed, err := parseIV(v)
		if err != nil {
			return err
		}
		iv = parsed
	}

	keyURL := opts.KeyURL
	if keyURL == "" {
		if attrs["URI"] == "" {
			return fmt.Errorf("%w: AES-128 key without URI", ErrMalformed)
		}
		var err error
		if keyURL, err = resolveURL(base, attrs["URI"], opts.ExtraQuery); err != nil {
			return fmt.Errorf("%w: key url: %v", ErrMalformed, err)
		}
	}

	info := fragment.NewDecryptInfo(fragment.MethodAES128, keyURL, iv)
	if opts.Key != nil {
		info.SetKey(opts.Key)
	}

	if st.decrypt.URI != keyURL {
		logger.Debugf("New key scope %s", keyURL)
	}

	st.decrypt = info
	pl.Encrypted = true

	return nil
}

// directiveValue returns what follows the first colon of a directive line.
func directiveValue(line string) string {
	if i := strings.IndexByte(line, ':'); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}

	return ""
}

// parseByteRange parses "len@offset" or "len", in which case the range
// continues from prevEnd.
func parseByteRange(s string, prevEnd int64) (*protocol.ByteRange, error) {
	lenStr, offStr, hasOffset := strings.Cut(strings.TrimSpace(s), "@")

	n, err := strconv.ParseInt(strings.TrimSpace(lenStr), 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: byte range %q", ErrMalformed, s)
	}

	start := prevEnd
	if hasOffset {
		if start, err = strconv.ParseInt(strings.TrimSpace(offStr), 10, 64); err != nil || start < 0 {
			return nil, fmt.Errorf("%w: byte range %q", ErrMalformed, s)
		}
	}

	return &protocol.ByteRange{Start: start, End: start + n}, nil
}

// parseIV decodes a hexadecimal IV, left padding it with zeros to 16 bytes.
func parseIV(s string) ([]byte, error) {
	h := s
	if strings.HasPrefix(h, "0x") || strings.HasPrefix(h, "0X") {
		h = h[2:]
	}

	if len(h) > 32 {
		return nil, fmt.Errorf("%w: IV %q longer than 16 bytes", ErrMalformed, s)
	}

	iv, err := hex.DecodeString(strings.Repeat("0", 32-len(h)) + h)
	if err != nil {
		return nil, fmt.Errorf("%w: IV %q: %v", ErrMalformed, s, err)
	}

	return iv, nil
}

func isAdStart(line string) bool {
	return strings.HasPrefix(line, "#ANVATO-SEGMENT-INFO") && strings.Contains(line, "type=ad") ||
		strings.HasPrefix(line, "#UPLYNK-SEGMENT") && strings.HasSuffix(line, ",ad")
}

func isAdEnd(line string) bool {
	return strings.HasPrefix(line, "#ANVATO-SEGMENT-INFO") && strings.Contains(line, "type=master") ||
		strings.HasPrefix(line, "#UPLYNK-SEGMENT") && strings.HasSuffix(line, ",segment")
}
