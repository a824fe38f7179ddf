package extensionbridge_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/extensionbridge"
	"github.com/conversant-ai/agentcore/telemetry"
)

// echoHostScript is a minimal extension host: for every line of JSON it
// reads on stdin, it writes back one line acknowledging the request id with
// ok:true and, for "init", a single fake extension.
const echoHostScript = `
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  if printf '%s' "$line" | grep -q '"type":"init"'; then
    printf '{"id":%s,"ok":true,"extensions":[{"name":"demo","version":"1.0"}]}\n' "$id"
  else
    printf '{"id":%s,"ok":true,"result":{"echoed":true}}\n' "$id"
  fi
done
`

func startEchoBridge(t *testing.T) *extensionbridge.Bridge {
	t.Helper()
	b, err := extensionbridge.Start(context.Background(), "sh", []string{"-c", echoHostScript}, telemetry.NewNoopBundle())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBridgeInitReturnsExtensions(t *testing.T) {
	b := startEchoBridge(t)
	extensions, errs, err := b.Init([]string{"demo"})
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, extensions, 1)
	assert.Equal(t, "demo", extensions[0].Name)
}

func TestBridgeEmitRoundTrips(t *testing.T) {
	b := startEchoBridge(t)
	_, _, err := b.Init(nil)
	require.NoError(t, err)

	result, err := b.Emit(extensionbridge.HookEvent{Type: "tool_call"}, extensionbridge.Context{Cwd: "/tmp"})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, true, decoded["echoed"])
}

func TestBridgeInvokeToolEmptyResultSentinel(t *testing.T) {
	// A host that returns ok:true with no "result" field at all triggers the
	// empty-result sentinel (spec §8 boundary case), exercised here against
	// a host script distinct from the shared echo host.
	b, err := extensionbridge.Start(context.Background(), "sh", []string{"-c", `
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  printf '{"id":%s,"ok":true}\n' "$id"
done
`}, telemetry.NewNoopBundle())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	result, err := b.InvokeTool("search", "call_1", json.RawMessage(`{}`), extensionbridge.Context{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"output":"(empty)"}`, string(result))
}

func TestBridgeCloseKillsChild(t *testing.T) {
	b := startEchoBridge(t)
	assert.NoError(t, b.Close())
}
