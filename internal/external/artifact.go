package external

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/NamanBalaji/hlsdl/internal/assembler"
	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

// Decrypter turns a fragment's fetched bytes into plaintext.
type Decrypter interface {
	Plaintext(ctx context.Context, frag *fragment.Fragment, data []byte) ([]byte, error)
}

// ArtifactFetcher serves fragments from files an external tool already
// downloaded, so they can be merged in order by the coordinator.
type ArtifactFetcher struct {
	tmp       string
	decrypter Decrypter
}

func NewArtifactFetcher(tmp string, d Decrypter) *ArtifactFetcher {
	return &ArtifactFetcher{tmp: tmp, decrypter: d}
}

// Fetch reads the artifact for frag. A missing file is fragment.ErrMissing.
func (a *ArtifactFetcher) Fetch(ctx context.Context, frag *fragment.Fragment) ([]byte, *protocol.Metadata, error) {
	data, err := assembler.ReadArtifact(a.tmp, frag.Index)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", fragment.ErrMissing, fragment.ArtifactName(a.tmp, frag.Index))
		}
		return nil, nil, fmt.Errorf("%w: %v", fragment.ErrFetchFatal, err)
	}

	if a.decrypter != nil {
		if data, err = a.decrypter.Plaintext(ctx, frag, data); err != nil {
			return nil, nil, err
		}
	}

	return data, &protocol.Metadata{URL: frag.URL, Size: int64(len(data))}, nil
}
