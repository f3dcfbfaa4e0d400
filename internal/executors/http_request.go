package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/dataflow/internal/expressions"
	"github.com/rendis/dataflow/internal/secrets"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// HTTPConfig configures the http_request executor.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Breakers guards remote hosts. Nil disables circuit breaking.
	Breakers *HostBreakers
	// Client overrides the HTTP client, mostly for tests.
	Client *http.Client
	// Secrets resolves ${{secrets.KEY}} in url, headers and auth.
	Secrets secrets.Resolver
	Logger  *slog.Logger
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

const httpRequestConfigSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string"},
    "method": {"type": "string", "enum": ["GET","POST","PUT","PATCH","DELETE"], "default": "GET"},
    "headers": {"type": "object", "additionalProperties": {"type": ["string","number","boolean"]}},
    "body": {},
    "timeout": {"type": ["integer","string"]},
    "dataPath": {"type": "string"},
    "failOnErrorStatus": {"type": "boolean", "default": true},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["bearer","basic","api_key"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "headerName": {"type": "string"},
        "headerValue": {"type": "string"}
      }
    }
  },
  "required": ["url"]
}`

// HTTPResponseInfo describes the response a node fetched. It is attached to
// the result as its artifact.
type HTTPResponseInfo struct {
	StatusCode  int               `json:"status_code"`
	Status      string            `json:"status"`
	Headers     map[string]string `json:"headers"`
	ContentType string            `json:"content_type"`
	DurationMs  int64             `json:"duration_ms"`
}

// HTTPRequestExecutor loads a dataset from a remote endpoint.
type HTTPRequestExecutor struct {
	config HTTPConfig
	jq     *expressions.GoJQEngine
}

// NewHTTPRequestExecutor creates a new http_request executor.
func NewHTTPRequestExecutor(cfg HTTPConfig) *HTTPRequestExecutor {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPRequestExecutor{config: cfg, jq: expressions.NewGoJQEngine()}
}

func (e *HTTPRequestExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "http_request",
		Name:         "HTTP Request",
		Category:     CategoryInput,
		Description:  "Fetch JSON or CSV from an HTTP endpoint and load it as a dataset.",
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(httpRequestConfigSchema),
	}
}

func (e *HTTPRequestExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	rawURL := stringParam(ec.Config, "url", "")
	if rawURL == "" {
		result.AddError("config.url", schema.ErrCodeValidation, "URL is required")
	} else if secrets.HasRefs(rawURL) {
		if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
			result.AddError("config.url", schema.ErrCodeValidation, fmt.Sprintf("Invalid URL %q", rawURL))
		}
	} else if u, err := url.ParseRequestURI(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result.AddError("config.url", schema.ErrCodeValidation, fmt.Sprintf("Invalid URL %q", rawURL))
	}

	method := strings.ToUpper(stringParam(ec.Config, "method", http.MethodGet))
	if !httpMethods[method] {
		result.AddError("config.method", schema.ErrCodeValidation, fmt.Sprintf("Unsupported HTTP method %q", method))
	}

	if _, err := e.timeout(ec.Config); err != nil {
		result.AddError("config.timeout", schema.ErrCodeValidation, err.Error())
	}

	if path := stringParam(ec.Config, "dataPath", ""); path != "" {
		if err := e.jq.Compile(path); err != nil {
			result.AddError("config.dataPath", schema.ErrCodeValidation, fmt.Sprintf("Invalid data path: %v", err))
		}
	}
	return result
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}

	rawURL := stringParam(ec.Config, "url", "")
	config, err := e.expandSecrets(ctx, ec.Config)
	if err != nil {
		if de, ok := err.(*schema.DataflowError); ok {
			return nil, de.WithNode(ec.NodeID)
		}
		return nil, err
	}
	u, err := url.Parse(stringParam(config, "url", ""))
	if err != nil || u.Host == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "Invalid URL %q after secret expansion", rawURL).WithNode(ec.NodeID)
	}
	host := u.Host

	if e.config.Breakers != nil {
		if err := e.config.Breakers.Allow(host); err != nil {
			if de, ok := err.(*schema.DataflowError); ok {
				return nil, de.WithNode(ec.NodeID)
			}
			return nil, err
		}
	}

	timeout, _ := e.timeout(ec.Config)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := e.buildRequest(reqCtx, config, u.String())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to create request").
			WithNode(ec.NodeID).WithCause(err)
	}

	start := time.Now()
	resp, err := e.config.Client.Do(req)
	duration := time.Since(start)
	if err != nil {
		e.recordFailure(host)
		code := schema.ErrCodeExecution
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			code = schema.ErrCodeTimeout
		}
		return nil, schema.NewErrorf(code, "request failed: %v", err).
			WithNode(ec.NodeID).WithCause(err).
			WithDetails(map[string]any{"url": rawURL})
	}
	defer resp.Body.Close()

	// One byte past the limit tells a full body apart from a cut one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBody+1))
	if err != nil {
		e.recordFailure(host)
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to read response body").
			WithNode(ec.NodeID).WithCause(err)
	}
	if int64(len(body)) > e.config.MaxResponseBody {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "response exceeds %d bytes", e.config.MaxResponseBody).
			WithNode(ec.NodeID).
			WithDetails(map[string]any{"url": rawURL, "max_bytes": e.config.MaxResponseBody})
	}

	if resp.StatusCode >= 500 {
		e.recordFailure(host)
	} else if e.config.Breakers != nil {
		e.config.Breakers.RecordSuccess(host)
	}

	info := &HTTPResponseInfo{
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		Headers:     make(map[string]string, len(resp.Header)),
		ContentType: resp.Header.Get("Content-Type"),
		DurationMs:  duration.Milliseconds(),
	}
	for k := range resp.Header {
		info.Headers[k] = resp.Header.Get(k)
	}

	if resp.StatusCode >= 400 && boolParam(ec.Config, "failOnErrorStatus", true) {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "server returned %d", resp.StatusCode).
			WithNode(ec.NodeID).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "url": rawURL})
	}

	var warnings []string
	if resp.StatusCode >= 400 {
		warnings = append(warnings, fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	out, err := e.decode(ctx, ec.Config, info.ContentType, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "failed to decode response: %v", err).
			WithNode(ec.NodeID).WithCause(err)
	}

	return &Result{Success: true, Output: out, Artifact: info, Warnings: warnings}, nil
}

func (e *HTTPRequestExecutor) buildRequest(ctx context.Context, config map[string]any, rawURL string) (*http.Request, error) {
	method := strings.ToUpper(stringParam(config, "method", http.MethodGet))

	var bodyReader io.Reader
	var contentType string
	if rawBody, ok := config["body"]; ok && rawBody != nil && method != http.MethodGet {
		if s, isString := rawBody.(string); isString {
			bodyReader = strings.NewReader(s)
			contentType = "text/plain"
		} else {
			b, err := json.Marshal(rawBody)
			if err != nil {
				return nil, fmt.Errorf("marshal body as JSON: %w", err)
			}
			bodyReader = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.5")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range stringMapParam(config, "headers") {
		req.Header.Set(k, v)
	}

	if auth, ok := config["auth"].(map[string]any); ok {
		switch stringParam(auth, "type", "") {
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
		case "basic":
			req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
		case "api_key":
			if name := stringParam(auth, "headerName", ""); name != "" {
				req.Header.Set(name, stringParam(auth, "headerValue", ""))
			}
		}
	}
	return req, nil
}

// expandSecrets returns a copy of config with secret references in url,
// headers and auth replaced. Error details keep the unexpanded URL.
func (e *HTTPRequestExecutor) expandSecrets(ctx context.Context, config map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}

	var err error
	if out["url"], err = secrets.Expand(ctx, e.config.Secrets, stringParam(config, "url", "")); err != nil {
		return nil, err
	}

	if headers := stringMapParam(config, "headers"); len(headers) > 0 {
		expanded := make(map[string]any, len(headers))
		for k, v := range headers {
			if expanded[k], err = secrets.Expand(ctx, e.config.Secrets, v); err != nil {
				return nil, err
			}
		}
		out["headers"] = expanded
	}

	if auth, ok := config["auth"].(map[string]any); ok {
		expanded := make(map[string]any, len(auth))
		for k, v := range auth {
			if s, isString := v.(string); isString {
				if v, err = secrets.Expand(ctx, e.config.Secrets, s); err != nil {
					return nil, err
				}
			}
			expanded[k] = v
		}
		out["auth"] = expanded
	}
	return out, nil
}

// decode turns a response body into a dataset. JSON is located with dataPath
// and coerced; CSV is parsed with a header row; other text becomes a single
// result cell.
func (e *HTTPRequestExecutor) decode(ctx context.Context, config map[string]any, contentType string, body []byte) (*dataset.Dataset, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return dataset.New([]string{dataset.ResultColumn}, [][]any{}), nil
	}

	switch {
	case strings.Contains(contentType, "json") || (contentType == "" && (trimmed[0] == '{' || trimmed[0] == '[')):
		v, err := dataset.ParseJSON(body)
		if err != nil {
			return nil, err
		}
		path := stringParam(config, "dataPath", "")
		if path == "" {
			return dataset.FromValue(v), nil
		}
		results, err := e.jq.Run(ctx, path, v)
		if err != nil {
			return nil, err
		}
		for i, r := range results {
			results[i] = expressions.Normalize(r)
		}
		if len(results) == 1 {
			return dataset.FromValue(results[0]), nil
		}
		return dataset.FromValue(results), nil

	case strings.Contains(contentType, "text/csv"):
		return parseDelimited(trimmed, ',', true, true)
	case strings.Contains(contentType, "tab-separated-values"):
		return parseDelimited(trimmed, '\t', true, true)
	}

	return dataset.New([]string{dataset.ResultColumn}, [][]any{{string(body)}}), nil
}

// timeout reads the timeout config as milliseconds or a duration string.
func (e *HTTPRequestExecutor) timeout(config map[string]any) (time.Duration, error) {
	v, ok := config["timeout"]
	if !ok || v == nil {
		return e.config.DefaultTimeout, nil
	}
	if s, isString := v.(string); isString {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("Invalid timeout %q", s)
		}
		if d <= 0 {
			return 0, fmt.Errorf("Timeout must be positive")
		}
		return d, nil
	}
	ms := intParam(config, "timeout", 0)
	if ms <= 0 {
		return 0, fmt.Errorf("Timeout must be a positive number of milliseconds")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (e *HTTPRequestExecutor) recordFailure(host string) {
	if e.config.Breakers == nil {
		return
	}
	if state := e.config.Breakers.RecordFailure(host); state == CircuitOpen {
		e.config.Logger.Warn("circuit open for host", "host", host)
	}
}
