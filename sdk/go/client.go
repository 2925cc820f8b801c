// Package gatekeeper is a thin Go SDK for the API Similarity Gatekeeper's
// admission API.
//
// Design goals:
//   - stdlib-only HTTP
//   - consistent headers (tenant, request id)
//   - bounded IO for safety
//   - consistent error envelope decoding (pkg/errors)
//
// This SDK intentionally does not assume any endpoints beyond the
// gatekeeper's own admin surface (check/index/remove/healthz).
package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
)

const (
	DefaultTenantHeader  = "X-Tenant-Id"
	DefaultRequestHeader = "X-Request-Id"

	DefaultMaxRequestBytes  = int64(4 * 1024 * 1024) // 4 MiB
	DefaultMaxResponseBytes = int64(8 * 1024 * 1024)  // 8 MiB
	DefaultTimeout          = 15 * time.Second
)

// Client is a thin HTTP client wrapper with safe defaults.
type Client struct {
	BaseURL string

	// Default headers/policy
	TenantHeader  string
	RequestHeader string

	// Default tenant to use when ctx does not provide tenant_id.
	// If empty, no tenant header is set unless ctx has tenant_id.
	DefaultTenant string

	// Optional static headers applied to every request.
	StaticHeaders map[string]string

	// HTTP client; if nil, a safe default client is used.
	HTTP *http.Client

	// Safety bounds
	MaxRequestBytes  int64
	MaxResponseBytes int64
}

// NewClient constructs a client with safe defaults.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSpace(baseURL)
	return &Client{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		TenantHeader:     DefaultTenantHeader,
		RequestHeader:    DefaultRequestHeader,
		HTTP:             &http.Client{Timeout: DefaultTimeout},
		MaxRequestBytes:  DefaultMaxRequestBytes,
		MaxResponseBytes: DefaultMaxResponseBytes,
		StaticHeaders:    map[string]string{},
	}
}

// RequestOption mutates an outgoing request configuration.
type RequestOption func(*requestCfg)

type requestCfg struct {
	tenantID  string
	requestID string
	headers   map[string]string
}

// WithTenant forces a tenant header value for this request.
func WithTenant(tenant string) RequestOption {
	return func(c *requestCfg) { c.tenantID = strings.TrimSpace(tenant) }
}

// WithRequestID forces a request id header for this request.
func WithRequestID(reqID string) RequestOption {
	return func(c *requestCfg) { c.requestID = strings.TrimSpace(reqID) }
}

// WithHeader sets an extra header for this request.
func WithHeader(k, v string) RequestOption {
	return func(c *requestCfg) {
		if c.headers == nil {
			c.headers = map[string]string{}
		}
		c.headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
}

// CheckResult mirrors the gatekeeper's check_for_duplicates wire contract.
// Kept as a loosely typed map-friendly struct here so the SDK does not need
// to track the service's DTO package; fields match the server's JSON tags.
type CheckResult struct {
	IsDuplicate     bool             `json:"is_duplicate"`
	HighConfidence  bool             `json:"high_confidence"`
	ConflictReports []ConflictReport `json:"conflict_reports"`
	QueryAPIUUID    string           `json:"query_api_uuid"`
	Organization    string           `json:"organization"`
	Threshold       float64          `json:"threshold"`
	Message         string           `json:"message"`
}

// ConflictReport describes one candidate match in a CheckResult.
type ConflictReport struct {
	MatchedAPIUUID  string  `json:"matchedApiUuid"`
	SimilarityScore float64 `json:"similarityScore"`
	Message         string  `json:"message"`
	Recommendation  string  `json:"recommendation"`
}

// SignatureResult mirrors the gatekeeper's index_api wire contract.
type SignatureResult struct {
	APIUUID          string `json:"apiUuid"`
	Organization     string `json:"organization"`
	SignatureBase64  string `json:"signatureBase64"`
	NumHashFunctions int    `json:"numHashFunctions"`
	FeatureCount     int    `json:"featureCount"`
	ShingleCount     int    `json:"shingleCount"`
}

// Check calls POST /v0/tenants/{tenant}/apis/{id}:check with the given spec
// and threshold (0 lets the server fall back to its configured default).
func (c *Client) Check(ctx context.Context, tenant, apiID string, spec json.RawMessage, threshold float64, opts ...RequestOption) (CheckResult, error) {
	var out CheckResult
	path := fmt.Sprintf("/v0/tenants/%s/apis/%s:check", tenant, apiID)
	body := struct {
		Spec      json.RawMessage `json:"spec"`
		Threshold float64         `json:"threshold"`
	}{Spec: spec, Threshold: threshold}
	err := c.DoJSON(ctx, http.MethodPost, path, body, &out, opts...)
	return out, err
}

// Index calls POST /v0/tenants/{tenant}/apis/{id} to admit and index a spec.
func (c *Client) Index(ctx context.Context, tenant, apiID string, spec json.RawMessage, opts ...RequestOption) (SignatureResult, error) {
	var out SignatureResult
	path := fmt.Sprintf("/v0/tenants/%s/apis/%s", tenant, apiID)
	raw, err := c.doRaw(ctx, http.MethodPost, path, spec, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("gatekeeper sdk: decode response json: %w", err)
	}
	return out, nil
}

// Remove calls DELETE /v0/tenants/{tenant}/apis/{id}.
func (c *Client) Remove(ctx context.Context, tenant, apiID string, opts ...RequestOption) error {
	path := fmt.Sprintf("/v0/tenants/%s/apis/%s", tenant, apiID)
	_, err := c.doRaw(ctx, http.MethodDelete, path, nil, opts...)
	return err
}

// Healthz calls GET /v0/healthz and returns the raw body (bounded) for
// display/debug. It does not assume a specific response schema.
func (c *Client) Healthz(ctx context.Context, opts ...RequestOption) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, "/v0/healthz", nil, opts...)
}

// DoJSON performs an HTTP request with an optional JSON body and optionally
// decodes a JSON response into out.
//   - If out is nil, the response body is discarded (still bounded).
//   - If the response is non-2xx, attempts to parse the gatekeeper error
//     envelope and returns *APIError.
func (c *Client) DoJSON(ctx context.Context, method, path string, body any, out any, opts ...RequestOption) error {
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := c.doRaw(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("gatekeeper sdk: decode response json: %w", err)
	}
	return nil
}

// ---- errors ----

// APIError is returned for non-2xx responses when an error envelope is
// present (or synthesized).
type APIError struct {
	Status    int
	Code      gkerrors.Code
	Message   string
	Retryable bool
	Kind      string
	RawBody   []byte // bounded
}

func (e *APIError) Error() string {
	code := string(e.Code)
	if code == "" {
		code = "unknown"
	}
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("gatekeeper api error: status=%d code=%s retryable=%t msg=%s", e.Status, code, e.Retryable, msg)
}

// ---- internal request execution ----

func (c *Client) doRaw(ctx context.Context, method, path string, body any, opts ...RequestOption) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c == nil {
		return nil, errors.New("gatekeeper sdk: nil client")
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: DefaultTimeout}
	}
	if c.TenantHeader == "" {
		c.TenantHeader = DefaultTenantHeader
	}
	if c.RequestHeader == "" {
		c.RequestHeader = DefaultRequestHeader
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}

	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gatekeeper sdk: base url required")
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return nil, errors.New("gatekeeper sdk: method required")
	}

	// path join without assuming url.URL parsing, to keep it simple and deterministic.
	p := strings.TrimSpace(path)
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	url := base + p

	cfg := requestCfg{}
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}

	// Derive tenant/request id from ctx if not explicitly set.
	if cfg.tenantID == "" {
		if v := ctx.Value(ctxKeyTenantID); v != nil {
			if s, ok := v.(string); ok {
				cfg.tenantID = strings.TrimSpace(s)
			}
		}
		if cfg.tenantID == "" {
			cfg.tenantID = strings.TrimSpace(c.DefaultTenant)
		}
	}
	if cfg.requestID == "" {
		if v := ctx.Value(ctxKeyRequestID); v != nil {
			if s, ok := v.(string); ok {
				cfg.requestID = strings.TrimSpace(s)
			}
		}
	}

	var reqBody io.Reader
	if body != nil && method != http.MethodGet && method != http.MethodHead {
		var b []byte
		var err error
		if raw, ok := body.(json.RawMessage); ok {
			b = raw
		} else {
			b, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("gatekeeper sdk: encode request json: %w", err)
			}
		}
		if int64(len(b)) > c.MaxRequestBytes {
			return nil, fmt.Errorf("gatekeeper sdk: request body too large (%d>%d)", len(b), c.MaxRequestBytes)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.StaticHeaders {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		req.Header.Set(k, strings.TrimSpace(v))
	}
	for k, v := range cfg.headers {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		req.Header.Set(k, strings.TrimSpace(v))
	}

	if cfg.tenantID != "" && c.TenantHeader != "" {
		req.Header.Set(c.TenantHeader, cfg.tenantID)
	}
	if cfg.requestID != "" && c.RequestHeader != "" {
		req.Header.Set(c.RequestHeader, cfg.requestID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	lr := io.LimitReader(resp.Body, c.MaxResponseBytes+1)
	raw, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > c.MaxResponseBytes {
		return nil, fmt.Errorf("gatekeeper sdk: response body too large (%d>%d)", len(raw), c.MaxResponseBytes)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return raw, nil
	}

	return nil, parseErrorEnvelope(resp.StatusCode, raw)
}

type ctxKey string

const (
	ctxKeyTenantID  ctxKey = "tenant_id"
	ctxKeyRequestID ctxKey = "request_id"
)

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
		Kind      string `json:"kind"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func parseErrorEnvelope(status int, raw []byte) *APIError {
	out := &APIError{
		Status:    status,
		Code:      gkerrors.Internal,
		Message:   "request failed",
		Retryable: true,
		Kind:      "server",
		RawBody:   raw,
	}

	var env errorEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return out
	}

	if env.Error.Code != "" {
		out.Code = gkerrors.Code(env.Error.Code)
		if meta, ok := gkerrors.Meta(out.Code); ok {
			out.Retryable = meta.Retryable
			out.Kind = meta.Kind
		}
	}
	if env.Error.Message != "" {
		out.Message = env.Error.Message
	}
	if env.Error.Kind != "" {
		out.Kind = env.Error.Kind
	}
	if !gkerrors.Known(out.Code) {
		out.Code = gkerrors.Internal
		out.Retryable = true
		out.Kind = "server"
	}
	return out
}
