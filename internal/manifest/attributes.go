package manifest

import (
	"net/url"
	"regexp"
	"strings"
)

var attributeRe = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]+"|[^",]+)(?:,|$)`)

// parseAttributes splits an attribute list such as
// METHOD=AES-128,URI="key.bin",IV=0x1f into a map with quotes removed.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attributeRe.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = strings.Trim(m[2], `"`)
	}

	return attrs
}

var absoluteURLRe = regexp.MustCompile(`^https?://`)

// resolveURL makes ref absolute against base and merges extra into its query.
func resolveURL(base *url.URL, ref string, extra url.Values) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}

	if !absoluteURLRe.MatchString(ref) && base != nil {
		u = base.ResolveReference(u)
	}

	if len(extra) == 0 {
		return u.String(), nil
	}

	q := u.Query()
	for k, v := range extra {
		q[k] = v
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
