package executors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendis/dataflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpExecutor() *HTTPRequestExecutor {
	return NewHTTPRequestExecutor(HTTPConfig{})
}

func TestHTTPRequest_JSONArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Custom", "test-value")
		w.Write([]byte(`[{"id": 1, "name": "Ana"}, {"id": 2, "name": "Ben"}]`))
	}))
	defer srv.Close()

	res := execute(t, httpExecutor(), newContext(nil, map[string]any{"url": srv.URL}))

	assert.Equal(t, []string{"id", "name"}, res.Output.Columns)
	assert.Equal(t, [][]any{{1.0, "Ana"}, {2.0, "Ben"}}, res.Output.Rows)

	info, ok := res.Artifact.(*HTTPResponseInfo)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, info.StatusCode)
	assert.Equal(t, "test-value", info.Headers["X-Custom"])
	assert.Contains(t, info.ContentType, "application/json")
}

func TestHTTPRequest_DataPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"meta": {"total": 2}, "data": {"items": [{"v": 10}, {"v": 20}]}}`))
	}))
	defer srv.Close()

	res := execute(t, httpExecutor(), newContext(nil, map[string]any{
		"url":      srv.URL,
		"dataPath": ".data.items",
	}))
	assert.Equal(t, []string{"v"}, res.Output.Columns)
	assert.Equal(t, [][]any{{10.0}, {20.0}}, res.Output.Rows)
}

func TestHTTPRequest_CSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("city,temp\nOslo,17.5\n"))
	}))
	defer srv.Close()

	res := execute(t, httpExecutor(), newContext(nil, map[string]any{"url": srv.URL}))
	assert.Equal(t, [][]any{{"Oslo", 17.5}}, res.Output.Rows)
}

func TestHTTPRequest_POSTWithHeadersAndAuth(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	res := execute(t, httpExecutor(), newContext(nil, map[string]any{
		"url":     srv.URL,
		"method":  "post",
		"headers": map[string]any{"X-Trace": "yes"},
		"auth":    map[string]any{"type": "bearer", "token": "tok"},
		"body":    map[string]any{"query": "sales"},
	}))
	assert.Equal(t, "sales", received["query"])
	assert.Equal(t, []string{"result"}, res.Output.Columns)
}

func TestHTTPRequest_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := httpExecutor().Execute(context.Background(), newContext(nil, map[string]any{"url": srv.URL}))
	require.Error(t, err)
	var dfErr *schema.DataflowError
	require.ErrorAs(t, err, &dfErr)
	assert.Equal(t, schema.ErrCodeExecution, dfErr.Code)
	assert.Equal(t, http.StatusNotFound, dfErr.Details["status_code"])

	res := execute(t, httpExecutor(), newContext(nil, map[string]any{"url": srv.URL, "failOnErrorStatus": false}))
	assert.Equal(t, []string{"server returned 404"}, res.Warnings)
}

func TestHTTPRequest_OversizedBodyFails(t *testing.T) {
	var csv strings.Builder
	csv.WriteString("id,name\n")
	for i := 0; i < 100; i++ {
		csv.WriteString("1,aaaaaaaaaa\n")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(csv.String()))
	}))
	defer srv.Close()

	ex := NewHTTPRequestExecutor(HTTPConfig{MaxResponseBody: 200})
	res, err := ex.Execute(context.Background(), newContext(nil, map[string]any{"url": srv.URL}))
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.ErrorCode(err))
	assert.Contains(t, err.Error(), "response exceeds 200 bytes")

	// A body exactly at the limit still decodes.
	exact := NewHTTPRequestExecutor(HTTPConfig{MaxResponseBody: int64(csv.Len())})
	ok := execute(t, exact, newContext(nil, map[string]any{"url": srv.URL}))
	assert.Len(t, ok.Output.Rows, 100)
}

func TestHTTPRequest_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := httpExecutor().Execute(context.Background(), newContext(nil, map[string]any{
		"url":     srv.URL,
		"timeout": 50,
	}))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTimeout, schema.ErrorCode(err))
}

func TestHTTPRequest_CircuitOpensPerHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ex := NewHTTPRequestExecutor(HTTPConfig{
		Breakers: NewHostBreakers(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}),
	})
	ec := newContext(nil, map[string]any{"url": srv.URL})

	for i := 0; i < 2; i++ {
		_, err := ex.Execute(context.Background(), ec)
		assert.Equal(t, schema.ErrCodeExecution, schema.ErrorCode(err))
	}

	_, err := ex.Execute(context.Background(), ec)
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.ErrorCode(err))
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the server")
}

func TestHTTPRequest_Validation(t *testing.T) {
	ex := httpExecutor()

	res := ex.Validate(newContext(nil, map[string]any{}))
	assert.Equal(t, []string{"URL is required"}, res.ErrorMessages())

	res = ex.Validate(newContext(nil, map[string]any{"url": "ftp://example.com/data"}))
	assert.Equal(t, []string{`Invalid URL "ftp://example.com/data"`}, res.ErrorMessages())

	res = ex.Validate(newContext(nil, map[string]any{
		"url":      "https://example.com",
		"method":   "TRACE",
		"timeout":  "soon",
		"dataPath": ".items[",
	}))
	assert.Len(t, res.Errors, 3)
}

type staticSecrets map[string]string

func (s staticSecrets) Resolve(_ context.Context, key string) ([]byte, error) {
	v, ok := s[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return []byte(v), nil
}

func TestHTTPRequest_SecretReferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "tenant-9", r.Header.Get("X-Tenant"))
		assert.Equal(t, "k-1", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"ok": true}]`))
	}))
	defer srv.Close()

	ex := NewHTTPRequestExecutor(HTTPConfig{Secrets: staticSecrets{
		"TOKEN": "s3cret", "TENANT": "tenant-9", "KEY": "k-1",
	}})
	config := map[string]any{
		"url":     srv.URL + "/rows?key=${{secrets.KEY}}",
		"headers": map[string]any{"X-Tenant": "${{ secrets.TENANT }}"},
		"auth":    map[string]any{"type": "bearer", "token": "${{secrets.TOKEN}}"},
	}
	res := execute(t, ex, newContext(nil, config))
	assert.Equal(t, [][]any{{true}}, res.Output.Rows)
	assert.Equal(t, "${{secrets.TOKEN}}", config["auth"].(map[string]any)["token"], "node config must stay unexpanded")

	_, err := httpExecutor().Execute(context.Background(), newContext(nil, config))
	assert.Equal(t, schema.ErrCodeVault, schema.ErrorCode(err))

	res2 := ex.Validate(newContext(nil, map[string]any{"url": "${{secrets.URL}}"}))
	assert.Len(t, res2.Errors, 1)
}
