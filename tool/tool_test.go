package tool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name, category string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		Category:    category,
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", "test")))

	got, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", got.Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&Tool{}))
	assert.Error(t, r.Register(nil))
}

func TestRegistryReplaceKeepsStats(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", "v1")))
	r.recordInvocation("echo", true, time.Millisecond)

	require.NoError(t, r.Register(echoTool("echo", "v2")))

	got, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Category)

	stats, ok := r.StatsFor("echo")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Calls)
	assert.Equal(t, uint64(1), stats.Successes)

	// Replacement must not duplicate the registration order entry.
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestRegistryListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, r.Register(echoTool(name, "test")))
	}
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, r.Names())

	tools := r.List()
	require.Len(t, tools, 3)
	assert.Equal(t, "zulu", tools[0].Name)
	assert.Equal(t, "mike", tools[2].Name)
}

func TestRegistryListCategory(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("a", "files")))
	require.NoError(t, r.Register(echoTool("b", "net")))
	require.NoError(t, r.Register(echoTool("c", "files")))

	files := r.ListCategory("files")
	require.Len(t, files, 2)
	assert.Equal(t, "a", files[0].Name)
	assert.Equal(t, "c", files[1].Name)

	assert.Empty(t, r.ListCategory("unknown"))
	assert.Len(t, r.ListCategory(""), 3)
}

func TestRegistryUnregisterAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", "test")))
	r.Unregister("missing")
	r.Unregister("echo")
	r.Unregister("echo")
	assert.Empty(t, r.Names())
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", "test")))

	assert.NoError(t, r.validate("echo", map[string]any{"text": "hi"}))
	assert.Error(t, r.validate("echo", map[string]any{}), "missing required arg")
	assert.Error(t, r.validate("echo", map[string]any{"text": 42}), "wrong type")
	assert.Error(t, r.validate("missing", nil))
}

func TestRegistryStatsConcurrent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", "test")))

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(fail bool) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				r.recordInvocation("echo", !fail, time.Microsecond)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	stats, ok := r.StatsFor("echo")
	require.True(t, ok)
	assert.Equal(t, uint64(workers*perWorker), stats.Calls)
	assert.Equal(t, stats.Calls, stats.Successes+stats.Failures)
}

func TestToJSONSchemaShape(t *testing.T) {
	tl := &Tool{
		Name:        "lookup",
		Description: "looks things up",
		Parameters: []Parameter{
			{Name: "key", Type: "string", Description: "lookup key", Required: true},
			{Name: "mode", Type: "string", Description: "lookup mode", Enum: []string{"fast", "slow"}},
		},
	}

	schema := tl.ToJSONSchema()
	assert.Equal(t, "function", schema["type"])

	fn := schema["function"].(map[string]any)
	assert.Equal(t, "lookup", fn["name"])

	params := fn["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"key"}, params["required"])

	props := params["properties"].(map[string]any)
	mode := props["mode"].(map[string]any)
	assert.Len(t, mode["enum"], 2)
}
