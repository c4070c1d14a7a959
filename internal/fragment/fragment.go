package fragment

import (
	"fmt"
	"sync"

	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

// Method is the encryption method declared by #EXT-X-KEY.
type Method string

const (
	MethodNone   Method = "NONE"
	MethodAES128 Method = "AES-128"
)

// DecryptInfo is the encryption scope a fragment was parsed under. One value
// is shared by every fragment between two key directives, so the lazily
// fetched key is filled in once per scope.
type DecryptInfo struct {
	Method Method
	URI    string
	IV     []byte // nil means derive from the media sequence

	mu  sync.Mutex
	key []byte
}

// NewDecryptInfo returns a decrypt scope for method.
func NewDecryptInfo(method Method, uri string, iv []byte) *DecryptInfo {
	return &DecryptInfo{Method: method, URI: uri, IV: iv}
}

// Encrypted reports whether fragments in this scope need decrypting.
func (d *DecryptInfo) Encrypted() bool {
	return d != nil && d.Method == MethodAES128
}

// Key returns the key bytes if they have been resolved.
func (d *DecryptInfo) Key() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.key
}

// SetKey stores the resolved key bytes for this scope.
func (d *DecryptInfo) SetKey(key []byte) {
	d.mu.Lock()
	d.key = key
	d.mu.Unlock()
}

// Fragment is one segment to fetch. It is created by the manifest parser and
// not modified afterwards.
type Fragment struct {
	Index         int // 1-based position in the output
	URL           string
	ByteRange     *protocol.ByteRange
	Decrypt       *DecryptInfo
	MediaSequence uint64
	Init          bool // initialization segment from #EXT-X-MAP
	Critical      bool // loss aborts the download regardless of skip policy
}

// Skippable reports whether the loss of this fragment may be tolerated.
// The first fragment of the stream and critical fragments never are.
func (f *Fragment) Skippable() bool {
	return f.Index > 1 && !f.Critical
}

// ArtifactName returns the on-disk name of this fragment's temp artifact.
func ArtifactName(tmpFilename string, index int) string {
	return fmt.Sprintf("%s-Frag%d", tmpFilename, index)
}

func (f *Fragment) String() string {
	return fmt.Sprintf("fragment %d (%s)", f.Index, f.URL)
}
