package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func serveMCP(t *testing.T, reqBody, respBody string) (*observer.ObservedLogs, string) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respBody))
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp/project-1", bytes.NewBufferString(reqBody))
	MCPRequestLogger(zap.New(core))(handler).ServeHTTP(httptest.NewRecorder(), req)
	return logs, seen
}

func TestMCPRequestLogger(t *testing.T) {
	t.Run("successful tool call", func(t *testing.T) {
		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_rules","arguments":{"sop_id":"abc","status":"pending"}}}`
		logs, seen := serveMCP(t, reqBody, `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"[]"}]}}`)

		assert.Equal(t, reqBody, seen, "the MCP server must receive the full body")
		require.Equal(t, 2, logs.Len())

		request := logs.All()[0]
		assert.Equal(t, "MCP request", request.Message)
		assert.Equal(t, "tools/call", request.ContextMap()["method"])
		assert.Equal(t, "list_rules", request.ContextMap()["tool"])

		response := logs.All()[1]
		assert.Equal(t, "MCP response success", response.Message)
		assert.NotNil(t, response.ContextMap()["duration"])
	})

	t.Run("json-rpc error", func(t *testing.T) {
		logs, _ := serveMCP(t,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"scan_conflicts"}}`,
			`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"database unavailable"}}`)

		require.Equal(t, 2, logs.Len())
		response := logs.All()[1]
		assert.Equal(t, "MCP response error", response.Message)
		assert.Equal(t, int64(-32603), response.ContextMap()["error_code"])
		assert.Equal(t, "database unavailable", response.ContextMap()["error_message"])
	})

	t.Run("tool-level error result", func(t *testing.T) {
		logs, _ := serveMCP(t,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"resolve_conflict"}}`,
			`{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[{"type":"text","text":"{\"code\":\"conflict_not_found\"}"}]}}`)

		require.Equal(t, 2, logs.Len())
		assert.Equal(t, "MCP tool error", logs.All()[1].Message)
	})

	t.Run("redacts sensitive arguments", func(t *testing.T) {
		logs, _ := serveMCP(t,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"x","arguments":{"api_token":"s3cr3t"}}}`,
			`{"jsonrpc":"2.0","id":1,"result":{}}`)

		args, ok := logs.All()[0].ContextMap()["arguments"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "[REDACTED]", args["api_token"])
	})

	t.Run("non-json body still reaches the server", func(t *testing.T) {
		logs, seen := serveMCP(t, "not json", "also not json")
		assert.Equal(t, "not json", seen)
		assert.Equal(t, 1, logs.FilterMessage("MCP request").Len())
		assert.Equal(t, 0, logs.FilterMessage("MCP response success").Len())
	})

	t.Run("nil logger passes through", func(t *testing.T) {
		called := false
		handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
		MCPRequestLogger(nil)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp/p", nil))
		assert.True(t, called)
	})
}
