package webvtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

var ErrParse = errors.New("webvtt parse error")

const (
	nl       = `(?:\r\n|[\r\n])`
	lineBody = `(?:(?!-->)[^\r\n])+`
)

var (
	timestampRe = mustCompile(`^(?:([0-9]{2,}):)?([0-9]{2}):([0-9]{2})\.([0-9]{3})?`)
	newlineRe   = mustCompile(`^` + nl)
	blankRe     = mustCompile(`^` + nl + `+`)
	magicRe     = mustCompile(`^\uFEFF?WEBVTT([ \t][^\r\n]*)?` + nl)
	mpegtsRe    = mustCompile(`^MPEGTS:([0-9]+)`)
	styleRe     = mustCompile(`^STYLE[ \t]*` + nl + `(` + lineBody + nl + `)*` + nl)
	regionRe    = mustCompile(`^REGION[ \t]*` + nl + `(` + lineBody + nl + `)*` + nl)
	commentRe   = mustCompile(`^NOTE(?:\r\n|[ \t\r\n])(` + lineBody + nl + `)*` + nl)
	cueIDRe     = mustCompile(`^(` + lineBody + `)` + nl)
	arrowRe     = mustCompile(`^[ \t]+-->[ \t]+`)
	settingsRe  = mustCompile(`^[ \t]+(` + lineBody + `)`)
	payloadRe   = mustCompile(`^[^\r\n]+` + nl + `?`)
)

func mustCompile(expr string) *regexp2.Regexp {
	return regexp2.MustCompile(expr, regexp2.None)
}

// parser walks a rune slice, anchoring every match at the current position.
type parser struct {
	data []rune
	pos  int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.data)
}

func (p *parser) match(re *regexp2.Regexp) *regexp2.Match {
	m, err := re.FindRunesMatch(p.data[p.pos:])
	if err != nil || m == nil {
		return nil
	}
	return m
}

func (p *parser) consume(re *regexp2.Regexp) *regexp2.Match {
	m := p.match(re)
	if m != nil {
		p.pos += m.Length
	}
	return m
}

func (p *parser) consumeLiteral(s string) bool {
	n := utf8.RuneCountInString(s)
	if p.pos+n > len(p.data) || string(p.data[p.pos:p.pos+n]) != s {
		return false
	}
	p.pos += n
	return true
}

func (p *parser) errorf() error {
	end := min(p.pos+20, len(p.data))
	return fmt.Errorf("%w at position %d (near %q)", ErrParse, p.pos, string(p.data[p.pos:end]))
}

// Parse splits one WebVTT document into blocks. The first block is always
// the *Magic signature. Header blocks may only precede the first cue.
func Parse(data []byte) ([]Block, error) {
	p := &parser{data: []rune(string(data))}

	magic, err := parseMagic(p)
	if err != nil {
		return nil, err
	}

	blocks := []Block{magic}

	for !p.eof() {
		if p.consume(blankRe) != nil {
			continue
		}
		if m := p.consume(regionRe); m != nil {
			blocks = append(blocks, &HeaderBlock{Raw: m.String()})
			continue
		}
		if m := p.consume(styleRe); m != nil {
			blocks = append(blocks, &HeaderBlock{Raw: m.String()})
			continue
		}
		if m := p.consume(commentRe); m != nil {
			blocks = append(blocks, &CommentBlock{Raw: m.String()})
			continue
		}
		break
	}

	for !p.eof() {
		if p.consume(blankRe) != nil {
			continue
		}
		if m := p.consume(commentRe); m != nil {
			blocks = append(blocks, &CommentBlock{Raw: m.String()})
			continue
		}
		if cue := parseCue(p); cue != nil {
			blocks = append(blocks, cue)
			continue
		}
		return nil, p.errorf()
	}

	return blocks, nil
}

func parseMagic(p *parser) (*Magic, error) {
	m := p.consume(magicRe)
	if m == nil {
		return nil, p.errorf()
	}

	magic := &Magic{}
	if g := m.GroupByNumber(1); g != nil && len(g.Captures) > 0 {
		magic.Extra = g.String()
	}

	if p.consumeLiteral("X-TIMESTAMP-MAP=") {
		if err := parseTimestampMap(p, magic); err != nil {
			return nil, err
		}
	}

	if p.consume(newlineRe) == nil {
		return nil, p.errorf()
	}

	return magic, nil
}

func parseTimestampMap(p *parser, magic *Magic) error {
	for {
		if p.consumeLiteral("LOCAL:") {
			m := p.consume(timestampRe)
			if m == nil {
				return p.errorf()
			}
			local := parseTimestamp(m)
			magic.Local = &local
		} else if m := p.consume(mpegtsRe); m != nil {
			v, err := strconv.ParseInt(m.GroupByNumber(1).String(), 10, 64)
			if err != nil {
				return p.errorf()
			}
			magic.MPEGTS = &v
		} else {
			return p.errorf()
		}

		if p.consumeLiteral(",") {
			continue
		}
		if p.consume(newlineRe) != nil {
			return nil
		}
		return p.errorf()
	}
}

// parseCue returns nil and leaves the position untouched if no cue starts here.
func parseCue(p *parser) *Cue {
	start := p.pos
	fail := func() *Cue {
		p.pos = start
		return nil
	}

	cue := &Cue{}
	if m := p.consume(cueIDRe); m != nil {
		id := m.GroupByNumber(1).String()
		cue.ID = &id
	}

	m0 := p.consume(timestampRe)
	if m0 == nil {
		return fail()
	}
	if p.consume(arrowRe) == nil {
		return fail()
	}
	m1 := p.consume(timestampRe)
	if m1 == nil {
		return fail()
	}
	if m := p.consume(settingsRe); m != nil {
		settings := m.GroupByNumber(1).String()
		cue.Settings = &settings
	}
	if p.consume(newlineRe) == nil {
		return fail()
	}

	cue.Start = parseTimestamp(m0)
	cue.End = parseTimestamp(m1)

	var text strings.Builder
	for {
		m := p.consume(payloadRe)
		if m == nil {
			break
		}
		text.WriteString(m.String())
	}
	cue.Text = text.String()

	return cue
}
