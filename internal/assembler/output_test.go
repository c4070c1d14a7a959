package assembler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputAppendAndFinalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.ts")

	out, err := Open(path, false)
	require.NoError(t, err)
	assert.Equal(t, path+".part", out.TempPath())

	require.NoError(t, out.Append([]byte("abc")))
	require.NoError(t, out.Append([]byte("def")))
	assert.Equal(t, int64(6), out.Written())
	assert.Equal(t, int64(6), PartialSize(path))

	mtime := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, out.Finalize(mtime))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime()))

	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestOutputResumeAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.ts")
	require.NoError(t, os.WriteFile(path+".part", []byte("abc"), 0o644))

	out, err := Open(path, true)
	require.NoError(t, err)
	require.NoError(t, out.Append([]byte("def")))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path + ".part")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestOutputRestartTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.ts")
	require.NoError(t, os.WriteFile(path+".part", []byte("stale"), 0o644))

	out, err := Open(path, false)
	require.NoError(t, err)
	require.NoError(t, out.Append([]byte("new")))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path + ".part")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestStdoutOutput(t *testing.T) {
	out, err := Open(Stdout, false)
	require.NoError(t, err)
	assert.True(t, out.IsStdout())
	assert.Equal(t, Stdout, TempPath(Stdout))
	assert.Zero(t, PartialSize(Stdout))
	assert.NoError(t, out.Finalize(time.Time{}))
}

func TestArtifacts(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "video.ts.part")

	require.NoError(t, WriteArtifact(tmp, 3, []byte("frag3")))
	data, err := ReadArtifact(tmp, 3)
	require.NoError(t, err)
	assert.Equal(t, "frag3", string(data))

	require.NoError(t, RemoveArtifact(tmp, 3))
	_, err = os.Stat(tmp + "-Frag3")
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, RemoveArtifact(tmp, 3))
}
