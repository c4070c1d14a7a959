package fetcher

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

type fakeClient struct {
	mu        sync.Mutex
	resources map[string][]byte
	calls     map[string]int
	err       error
}

func newFakeClient(resources map[string][]byte) *fakeClient {
	return &fakeClient{resources: resources, calls: make(map[string]int)}
}

func (c *fakeClient) Fetch(_ context.Context, url string, opts protocol.FetchOptions) ([]byte, *protocol.Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[url]++

	if c.err != nil {
		return nil, nil, c.err
	}

	data, ok := c.resources[url]
	if !ok {
		return nil, nil, errors.New("not found")
	}

	if opts.Range != nil {
		data = data[opts.Range.Start:opts.Range.End]
	}

	return data, &protocol.Metadata{URL: url, Size: int64(len(data))}, nil
}

func (c *fakeClient) Supports(string) bool { return true }

func encrypt(t *testing.T, plain, key, iv []byte) []byte {
	t.Helper()
	n := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(n)}, n)...)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

var testKey = []byte("0123456789abcdef")

func TestFetchPlain(t *testing.T) {
	client := newFakeClient(map[string][]byte{"https://cdn/a.ts": []byte("0123456789")})
	f := New(client, Options{}, nil)

	data, meta, err := f.Fetch(t.Context(), &fragment.Fragment{
		Index:     1,
		URL:       "https://cdn/a.ts",
		ByteRange: &protocol.ByteRange{Start: 2, End: 5},
		Decrypt:   fragment.NewDecryptInfo(fragment.MethodNone, "", nil),
	})

	require.NoError(t, err)
	assert.Equal(t, "234", string(data))
	assert.Equal(t, int64(3), meta.Size)
}

func TestFetchDecryptRoundTrip(t *testing.T) {
	plain := []byte("transport stream payload that spans several AES blocks")
	explicitIV := []byte("fedcba9876543210")

	tests := []struct {
		name  string
		iv    []byte
		seq   uint64
		encIV []byte
	}{
		{name: "explicit iv", iv: explicitIV, seq: 42, encIV: explicitIV},
		{name: "sequence iv", iv: nil, seq: 42, encIV: SequenceIV(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(map[string][]byte{
				"https://cdn/key":  testKey,
				"https://cdn/a.ts": encrypt(t, plain, testKey, tt.encIV),
			})
			f := New(client, Options{}, nil)

			data, _, err := f.Fetch(t.Context(), &fragment.Fragment{
				Index:         1,
				URL:           "https://cdn/a.ts",
				Decrypt:       fragment.NewDecryptInfo(fragment.MethodAES128, "https://cdn/key", tt.iv),
				MediaSequence: tt.seq,
			})

			require.NoError(t, err)
			assert.Equal(t, plain, data)
		})
	}
}

func TestFetchTestModeSkipsDecryption(t *testing.T) {
	cipherText := encrypt(t, []byte("payload"), testKey, SequenceIV(0))
	client := newFakeClient(map[string][]byte{"https://cdn/a.ts": cipherText})
	f := New(client, Options{Test: true}, nil)

	data, _, err := f.Fetch(t.Context(), &fragment.Fragment{
		Index:   1,
		URL:     "https://cdn/a.ts",
		Decrypt: fragment.NewDecryptInfo(fragment.MethodAES128, "https://cdn/key", nil),
	})

	require.NoError(t, err)
	assert.Equal(t, cipherText, data)
	assert.Zero(t, client.calls["https://cdn/key"])
}

func TestKeyCacheReusesKeyByURI(t *testing.T) {
	client := newFakeClient(map[string][]byte{
		"https://cdn/k1": testKey,
		"https://cdn/k2": []byte("fedcba9876543210"),
	})
	f := New(client, Options{}, nil)

	for i, uri := range []string{"https://cdn/k1", "https://cdn/k1", "https://cdn/k2", "https://cdn/k1"} {
		url := "https://cdn/seg.ts"
		key := client.resources[uri]
		client.resources[url] = encrypt(t, []byte("x"), key, SequenceIV(uint64(i)))

		// Each directive produces a fresh scope, so only the cache prevents refetching.
		_, _, err := f.Fetch(t.Context(), &fragment.Fragment{
			Index:         i + 1,
			URL:           url,
			Decrypt:       fragment.NewDecryptInfo(fragment.MethodAES128, uri, nil),
			MediaSequence: uint64(i),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, client.calls["https://cdn/k1"])
	assert.Equal(t, 1, client.calls["https://cdn/k2"])
	assert.Equal(t, 2, f.Keys().Len())
}

func TestKeyFetchErrors(t *testing.T) {
	t.Run("fetch failure", func(t *testing.T) {
		client := newFakeClient(map[string][]byte{"https://cdn/a.ts": make([]byte, 16)})
		f := New(client, Options{}, nil)

		_, _, err := f.Fetch(t.Context(), &fragment.Fragment{
			Index:   1,
			URL:     "https://cdn/a.ts",
			Decrypt: fragment.NewDecryptInfo(fragment.MethodAES128, "https://cdn/missing", nil),
		})
		assert.True(t, errors.Is(err, fragment.ErrKeyFetch))
	})

	t.Run("wrong key length", func(t *testing.T) {
		client := newFakeClient(map[string][]byte{
			"https://cdn/a.ts": make([]byte, 16),
			"https://cdn/key":  []byte("short"),
		})
		f := New(client, Options{}, nil)

		_, _, err := f.Fetch(t.Context(), &fragment.Fragment{
			Index:   1,
			URL:     "https://cdn/a.ts",
			Decrypt: fragment.NewDecryptInfo(fragment.MethodAES128, "https://cdn/key", nil),
		})
		assert.True(t, errors.Is(err, fragment.ErrInvalidKey))
	})
}

func TestDecrypt(t *testing.T) {
	t.Run("rejects partial blocks", func(t *testing.T) {
		_, err := Decrypt(make([]byte, 17), testKey, SequenceIV(0))
		assert.True(t, errors.Is(err, fragment.ErrCiphertext))
	})

	t.Run("keeps invalid padding", func(t *testing.T) {
		raw := bytes.Repeat([]byte{'a'}, 16)
		block, err := aes.NewCipher(testKey)
		require.NoError(t, err)
		enc := make([]byte, 16)
		cipher.NewCBCEncrypter(block, SequenceIV(0)).CryptBlocks(enc, raw)

		out, err := Decrypt(enc, testKey, SequenceIV(0))
		require.NoError(t, err)
		assert.Equal(t, raw, out)
	})
}

func TestSequenceIV(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x02}, SequenceIV(0x0102))
}
