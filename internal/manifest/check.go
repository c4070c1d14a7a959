package manifest

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// Reasons the native downloader refuses a manifest.
const (
	ReasonLive               = "live stream"
	ReasonNoDecryption       = "AES-128 encryption without decryption support"
	ReasonEncryptedByteRange = "AES-128 encryption combined with byte ranges"
	ReasonDRM                = "key method other than NONE or AES-128"
)

var drmKeyRe = regexp2.MustCompile(`#EXT-X-KEY:METHOD=(?!NONE|AES-128)`, regexp2.None)

// Check returns why the manifest cannot be downloaded natively. An empty
// result means it can.
func (p *Parser) Check(text string, live bool) []string {
	return check(text, live, p.caps)
}

// Supports reports whether the manifest can be downloaded natively.
func (p *Parser) Supports(text string, live bool) bool {
	return len(p.Check(text, live)) == 0
}

// SupportsWithDecryption reports whether the manifest would be supported if
// decryption were available.
func (p *Parser) SupportsWithDecryption(text string, live bool) bool {
	caps := p.caps
	caps.CanDecrypt = true
	return len(check(text, live, caps)) == 0
}

func check(text string, live bool, caps Capabilities) []string {
	var reasons []string

	if live && !caps.NativeLive {
		reasons = append(reasons, ReasonLive)
	}

	aes := strings.Contains(text, "#EXT-X-KEY:METHOD=AES-128")
	if aes && !caps.CanDecrypt {
		reasons = append(reasons, ReasonNoDecryption)
	}

	if aes && strings.Contains(text, "#EXT-X-BYTERANGE") {
		reasons = append(reasons, ReasonEncryptedByteRange)
	}

	if !caps.AllowUnplayable {
		if found, err := drmKeyRe.MatchString(text); err == nil && found {
			reasons = append(reasons, ReasonDRM)
		}
	}

	return reasons
}
