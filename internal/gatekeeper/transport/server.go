// Package transport exposes the Signature Service over HTTP: an admission
// API for checking/indexing/removing APIs, health and metrics endpoints,
// and a websocket stream for operators watching index activity live.
package transport

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/audit"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/report"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/service"
	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
	"github.com/chartly-platform/gatekeeper/pkg/telemetry"
)

// reportRenderers maps the ?format= query value on handleCheck to a
// Renderer. "json" is intentionally absent: the default response path
// writes compact JSON directly (writeJSON) rather than going through
// JSONRenderer's indented output, to keep the two response shapes stable
// for callers that don't ask for an alternate format.
var reportRenderers = map[string]report.Renderer{
	"csv": report.CSVRenderer{},
}

// maxSpecBytes caps how much of a request body readBody reads (4 MiB).
// Longer bodies are truncated by the read, not rejected.
const maxSpecBytes = 4 << 20

// Server wires the Signature Service to an HTTP router.
type Server struct {
	svc              *service.Service
	logger           *telemetry.Logger
	health           func() telemetry.HealthSnapshot
	hub              *streamHub
	defaultThreshold float64
	ledger           *audit.Ledger
}

// NewServer constructs a Server. healthFn may be nil (health endpoint then
// reports only that the process is up).
func NewServer(svc *service.Service, logger *telemetry.Logger, healthFn func() telemetry.HealthSnapshot) *Server {
	if logger == nil {
		logger = telemetry.Nop
	}
	return &Server{svc: svc, logger: logger, health: healthFn, hub: newStreamHub(), defaultThreshold: service.DefaultThreshold}
}

// SetDefaultThreshold overrides the similarity threshold used by
// handleCheck when a request omits one (e.g. from the loaded ruleset).
func (s *Server) SetDefaultThreshold(t float64) {
	if t > 0 {
		s.defaultThreshold = t
	}
}

// SetAuditLedger attaches an audit ledger; when set, every check/index/
// remove call records a decision entry. Optional — a nil ledger (the
// default) disables auditing entirely.
func (s *Server) SetAuditLedger(l *audit.Ledger) {
	s.ledger = l
}

// Router builds the gorilla/mux router for the admin API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v0/tenants/{tenant}/apis/{id}:check", s.handleCheck).Methods(http.MethodPost)
	r.HandleFunc("/v0/tenants/{tenant}/apis/{id}", s.handleIndex).Methods(http.MethodPost)
	r.HandleFunc("/v0/tenants/{tenant}/apis/{id}", s.handleRemove).Methods(http.MethodDelete)
	r.HandleFunc("/v0/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/v0/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/v0/stream", s.handleStream).Methods(http.MethodGet)

	return withRequestLogging(s.logger, r)
}

type checkRequest struct {
	Spec      json.RawMessage `json:"spec"`
	Threshold float64         `json:"threshold"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenant, id := vars["tenant"], vars["id"]

	var in checkRequest
	if err := decodeJSONStrict(r, &in); err != nil {
		writeError(w, fmt.Errorf("%w: %v", gkerrors.InvalidInput, err))
		return
	}

	threshold := in.Threshold
	if threshold <= 0 {
		threshold = s.defaultThreshold
	}

	res, err := s.svc.CheckForDuplicates(r.Context(), in.Spec, id, tenant, threshold)
	if err != nil {
		s.audit(tenant, id, "check", "error", 0, "", map[string]string{"error": err.Error()})
		writeError(w, err)
		return
	}
	outcome := "accepted"
	var score float64
	var matchedWith string
	if res.IsDuplicate {
		outcome = "flagged"
	}
	if len(res.ConflictReports) > 0 {
		score = res.ConflictReports[0].SimilarityScore
		matchedWith = res.ConflictReports[0].MatchedAPIUUID
	}
	s.audit(tenant, id, "check", outcome, score, matchedWith, nil)

	if format := r.URL.Query().Get("format"); format != "" {
		if rdr, ok := reportRenderers[format]; ok {
			rendered, err := rdr.Render(res)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Content-Type", rdr.ContentType())
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(rendered)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenant, id := vars["tenant"], vars["id"]

	spec, err := readBody(r)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", gkerrors.InvalidInput, err))
		return
	}

	dto, err := s.svc.IndexAPI(r.Context(), spec, id, tenant)
	if err != nil {
		s.audit(tenant, id, "index", "error", 0, "", map[string]string{"error": err.Error()})
		writeError(w, err)
		return
	}
	s.audit(tenant, id, "index", "accepted", 0, "", nil)
	s.hub.broadcast(streamEvent{Event: "indexed", APIID: id, Tenant: tenant, At: time.Now().UTC()})
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenant, id := vars["tenant"], vars["id"]

	if err := s.svc.RemoveAPI(r.Context(), id, tenant); err != nil {
		s.audit(tenant, id, "remove", "error", 0, "", map[string]string{"error": err.Error()})
		writeError(w, err)
		return
	}
	s.audit(tenant, id, "remove", "accepted", 0, "", nil)
	s.hub.broadcast(streamEvent{Event: "removed", APIID: id, Tenant: tenant, At: time.Now().UTC()})
	w.WriteHeader(http.StatusNoContent)
}

// audit records a decision in the attached ledger, if any. Best-effort: a
// ledger write failure is logged, never surfaced to the HTTP caller.
func (s *Server) audit(tenant, apiID, action, outcome string, similarity float64, matchedWith string, detail map[string]string) {
	if s.ledger == nil {
		return
	}
	entry := audit.Entry{
		Tenant:      tenant,
		EventID:     newEventID(),
		APIID:       apiID,
		Action:      action,
		Outcome:     outcome,
		Similarity:  similarity,
		MatchedWith: matchedWith,
		Detail:      detail,
	}
	if _, err := s.ledger.Append(entry); err != nil {
		s.logger.Warn(context.Background(), "transport: audit append failed", map[string]any{"error": err.Error()})
	}
}

func newEventID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("ev-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "up", "index_size": s.svc.GetIndexSize()})
		return
	}
	snap := s.health()
	status := http.StatusOK
	if snap.Overall != telemetry.StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"index_size": s.svc.GetIndexSize()})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxSpecBytes+1))
}

func decodeJSONStrict(r *http.Request, v any) error {
	b, err := readBody(r)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := gkerrors.Internal
	for _, c := range gkerrors.List() {
		if errors.Is(err, c) {
			code = c
			break
		}
	}
	env := gkerrors.NewEnvelope(code, err.Error(), "", "", nil)
	gkerrors.WriteHTTP(w, gkerrors.HTTPStatusFor(code), env)
}

// traceHeader/spanHeader let a caller supply its own correlation IDs (e.g.
// a gateway upstream of this service); when absent, fresh ones are minted
// so every request is still traceable end to end in the logs.
const (
	traceHeader = "X-Trace-Id"
	spanHeader  = "X-Span-Id"
)

func withRequestLogging(logger *telemetry.Logger, next http.Handler) *mux.Router {
	wrapped := mux.NewRouter()
	wrapped.PathPrefix("/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := telemetry.SpanContext{
			TraceID: firstNonEmpty(r.Header.Get(traceHeader), newEventID()),
			SpanID:  newEventID(),
			Sampled: true,
		}
		ctx := telemetry.ContextWithSpanContext(r.Context(), sc)
		w.Header().Set(traceHeader, sc.TraceID)
		w.Header().Set(spanHeader, sc.SpanID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		logger.Info(ctx, "transport: request handled", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"trace_id":    sc.TraceID,
			"span_id":     sc.SpanID,
		})
	}))
	return wrapped
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying ResponseWriter so handlers that need a
// raw connection (the websocket upgrade in handleStream) still work when
// wrapped by withRequestLogging. Without this, embedding only promotes
// http.ResponseWriter's methods and *statusRecorder fails the
// http.Hijacker type assertion gorilla/websocket's Upgrader relies on.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("transport: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// Flush forwards to the underlying ResponseWriter when it supports
// streaming flushes (e.g. chunked responses); a no-op otherwise.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
