package fetcher

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/internal/metrics"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

// Options configures a Fetcher for one run.
type Options struct {
	Headers map[string]string
	// Test skips decryption so the fetched ciphertext can be checked as is.
	Test bool
}

// Fetcher downloads fragments through a protocol.Fetcher and decrypts
// AES-128 ones.
type Fetcher struct {
	client  protocol.Fetcher
	keys    *KeyCache
	headers map[string]string
	test    bool
}

// New returns a Fetcher with its own key cache. Create one per download run.
func New(client protocol.Fetcher, opts Options, rec *metrics.Recorder) *Fetcher {
	return &Fetcher{
		client:  client,
		keys:    NewKeyCache(client, opts.Headers, rec),
		headers: opts.Headers,
		test:    opts.Test,
	}
}

// Keys exposes the run's key cache.
func (f *Fetcher) Keys() *KeyCache {
	return f.keys
}

// Fetch downloads frag and returns its plaintext.
func (f *Fetcher) Fetch(ctx context.Context, frag *fragment.Fragment) ([]byte, *protocol.Metadata, error) {
	data, meta, err := f.client.Fetch(ctx, frag.URL, protocol.FetchOptions{
		Headers: f.headers,
		Range:   frag.ByteRange,
	})
	if err != nil {
		return nil, nil, err
	}

	plain, err := f.Plaintext(ctx, frag, data)
	if err != nil {
		return nil, nil, err
	}

	return plain, meta, nil
}

// Plaintext decrypts data fetched for frag, loading the key on first use.
// Unencrypted fragments are returned unchanged.
func (f *Fetcher) Plaintext(ctx context.Context, frag *fragment.Fragment, data []byte) ([]byte, error) {
	if !frag.Decrypt.Encrypted() || f.test {
		return data, nil
	}

	key := frag.Decrypt.Key()
	if key == nil {
		var err error
		if key, err = f.keys.Get(ctx, frag.Decrypt.URI); err != nil {
			return nil, err
		}
		frag.Decrypt.SetKey(key)
	}

	iv := frag.Decrypt.IV
	if iv == nil {
		iv = SequenceIV(frag.MediaSequence)
	}

	return Decrypt(data, key, iv)
}

// SequenceIV derives the default IV: eight zero bytes followed by the
// big-endian media sequence number.
func SequenceIV(seq uint64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], seq)
	return iv
}

// Decrypt applies AES-128-CBC and strips PKCS#7 padding when it is well formed.
func Decrypt(data, key, iv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fragment.ErrInvalidKey
	}

	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", fragment.ErrCiphertext, len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	return unpad(out), nil
}

func unpad(b []byte) []byte {
	if len(b) == 0 {
		return b
	}

	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return b
	}

	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return b
	}

	return b[:len(b)-n]
}
