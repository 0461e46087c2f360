package tool

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"net/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinOrchestrator(t *testing.T, root string) *Orchestrator {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinConfig{Root: root}))
	return NewOrchestrator(r, 0)
}

func TestBuiltinCurrentTime(t *testing.T) {
	o := builtinOrchestrator(t, t.TempDir())

	inv := o.Invoke(context.Background(), "current_time", map[string]any{"format": "unix"}, nil)
	require.True(t, inv.Success, inv.Error)
	secs, err := strconv.ParseInt(inv.Output, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), secs, 5)

	inv = o.Invoke(context.Background(), "current_time", nil, nil)
	require.True(t, inv.Success, inv.Error)
	_, err = time.Parse(time.RFC3339, inv.Output)
	assert.NoError(t, err)
}

func TestBuiltinFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	o := builtinOrchestrator(t, root)

	inv := o.Invoke(context.Background(), "write_file", map[string]any{
		"path":    "notes/hello.txt",
		"content": "hello world",
	}, nil)
	require.True(t, inv.Success, inv.Error)

	inv = o.Invoke(context.Background(), "read_file", map[string]any{"path": "notes/hello.txt"}, nil)
	require.True(t, inv.Success, inv.Error)
	assert.Equal(t, "hello world", inv.Output)

	inv = o.Invoke(context.Background(), "list_dir", map[string]any{"path": "notes"}, nil)
	require.True(t, inv.Success, inv.Error)
	assert.Contains(t, inv.Output, "hello.txt")
}

func TestBuiltinFileToolsRejectEscape(t *testing.T) {
	o := builtinOrchestrator(t, t.TempDir())

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		inv := o.Invoke(context.Background(), "read_file", map[string]any{"path": path}, nil)
		assert.False(t, inv.Success, path)
	}

	inv := o.Invoke(context.Background(), "search_files", map[string]any{"pattern": "../*"}, nil)
	assert.False(t, inv.Success)
	assert.Contains(t, inv.Error, "escape")
}

func TestBuiltinSearchFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644))

	o := builtinOrchestrator(t, root)
	inv := o.Invoke(context.Background(), "search_files", map[string]any{"pattern": "*.go"}, nil)
	require.True(t, inv.Success, inv.Error)
	assert.Equal(t, "a.go", inv.Output)
}

func TestBuiltinCalculate(t *testing.T) {
	o := builtinOrchestrator(t, t.TempDir())

	inv := o.Invoke(context.Background(), "calculate", map[string]any{"expression": "2+2"}, nil)
	require.True(t, inv.Success, inv.Error)
	assert.Equal(t, "4", inv.Output)

	inv = o.Invoke(context.Background(), "calculate", map[string]any{"expression": "1/0"}, nil)
	assert.False(t, inv.Success)
}

func TestBuiltinFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><script>var x=1;</script></head><body><p>visible   text</p></body></html>`))
	}))
	defer srv.Close()

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinConfig{Root: t.TempDir(), HTTPClient: srv.Client()}))
	o := NewOrchestrator(r, 0)

	inv := o.Invoke(context.Background(), "fetch_page", map[string]any{"url": srv.URL}, nil)
	require.True(t, inv.Success, inv.Error)
	assert.Contains(t, inv.Output, "visible text")
	assert.NotContains(t, inv.Output, "var x")

	inv = o.Invoke(context.Background(), "fetch_page", map[string]any{"url": "ftp://example.com"}, nil)
	assert.False(t, inv.Success)
}
