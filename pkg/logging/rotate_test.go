package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agentcall.log")
	rf, err := NewRotatingFile(path, WithMaxSize(100), WithMaxBackups(2))
	require.NoError(t, err)
	defer rf.Close()

	n, err := rf.Write([]byte("dispatch started\n"))
	require.NoError(t, err)
	assert.Equal(t, 17, n)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dispatch started\n", string(content))
}

func TestRotatingFileKeepsBackups(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agentcall.log")
	rf, err := NewRotatingFile(path, WithMaxSize(20), WithMaxBackups(2))
	require.NoError(t, err)
	defer rf.Close()

	for _, c := range "abcd" {
		_, err := rf.Write([]byte(strings.Repeat(string(c), 15)))
		require.NoError(t, err)
	}

	read := func(p string) string {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, strings.Repeat("d", 15), read(path))
	assert.Equal(t, strings.Repeat("c", 15), read(path+".1"))
	assert.Equal(t, strings.Repeat("b", 15), read(path+".2"))
	assert.NoFileExists(t, path+".3")
}

func TestRotatingFileWithoutBackups(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agentcall.log")
	rf, err := NewRotatingFile(path, WithMaxSize(10), WithMaxBackups(0))
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("12345678"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("abcdefgh"))
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(content))
	assert.NoFileExists(t, path+".1")
}

func TestRotatingFileOversizedWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agentcall.log")
	rf, err := NewRotatingFile(path, WithMaxSize(4))
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("longer than the limit"))
	require.NoError(t, err)
	assert.NoFileExists(t, path+".1")
}

func TestRotatingFileAppendsAndCreatesDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "agentcall.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o600))

	rf, err := NewRotatingFile(path)
	require.NoError(t, err)
	_, err = rf.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, rf.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\nnew\n", string(content))

	_, err = rf.Write([]byte("late"))
	require.ErrorIs(t, err, os.ErrClosed)
	require.NoError(t, rf.Close())
}

func TestNewHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, err := NewHandler(&buf, FormatJSON, slog.LevelInfo)
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Debug("hidden")
	logger.Info("dispatched", "calls", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatched", line["msg"])
	assert.InDelta(t, 2, line["calls"], 0)

	_, err = NewHandler(&buf, "xml", slog.LevelInfo)
	require.ErrorContains(t, err, `unknown log format "xml"`)
}
