package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/audit"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/service"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/sigstore"
)

const petSpec1 = `{"info":{"title":"Petstore","version":"1.0"},"paths":{"/pets":{"get":{}}}}`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc, err := service.New(service.DefaultConfig(), sigstore.NewMemStore())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return NewServer(svc, nil, nil)
}

func TestHandleIndexThenCheckReportsDuplicate(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/v0/tenants/acme/apis/A", strings.NewReader(petSpec1))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("index: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := bytes.NewBufferString(`{"spec":` + mustMarshalSpec(t) + `,"threshold":0.9}`)
	checkReq := httptest.NewRequest(http.MethodPost, "/v0/tenants/acme/apis/B:check", body)
	checkRec := httptest.NewRecorder()
	r.ServeHTTP(checkRec, checkReq)
	if checkRec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d: %s", checkRec.Code, checkRec.Body.String())
	}
	if !strings.Contains(checkRec.Body.String(), `"is_duplicate":true`) {
		t.Fatalf("expected duplicate result, got %s", checkRec.Body.String())
	}
}

func TestHandleCheckRejectsMalformedJSON(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/v0/tenants/acme/apis/B:check", strings.NewReader(`{"spec":`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRemoveThenHealthz(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	idxReq := httptest.NewRequest(http.MethodPost, "/v0/tenants/acme/apis/A", strings.NewReader(petSpec1))
	idxRec := httptest.NewRecorder()
	r.ServeHTTP(idxRec, idxReq)
	if idxRec.Code != http.StatusOK {
		t.Fatalf("index: expected 200, got %d", idxRec.Code)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/v0/tenants/acme/apis/A", nil)
	delRec := httptest.NewRecorder()
	r.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d", delRec.Code)
	}

	healthReq := httptest.NewRequest(http.MethodGet, "/v0/healthz", nil)
	healthRec := httptest.NewRecorder()
	r.ServeHTTP(healthRec, healthReq)
	if healthRec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d: %s", healthRec.Code, healthRec.Body.String())
	}
}

func TestIndexAndCheckRecordAuditEntries(t *testing.T) {
	s := newTestServer(t)
	ledger := audit.New(0)
	s.SetAuditLedger(ledger)
	r := s.Router()

	idxReq := httptest.NewRequest(http.MethodPost, "/v0/tenants/acme/apis/A", strings.NewReader(petSpec1))
	idxRec := httptest.NewRecorder()
	r.ServeHTTP(idxRec, idxReq)
	if idxRec.Code != http.StatusOK {
		t.Fatalf("index: expected 200, got %d", idxRec.Code)
	}

	body := bytes.NewBufferString(`{"spec":` + petSpec1 + `}`)
	checkReq := httptest.NewRequest(http.MethodPost, "/v0/tenants/acme/apis/B:check", body)
	checkRec := httptest.NewRecorder()
	r.ServeHTTP(checkRec, checkReq)
	if checkRec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d: %s", checkRec.Code, checkRec.Body.String())
	}

	entries := ledger.List("acme", 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Action != "index" || entries[1].Action != "check" {
		t.Fatalf("unexpected audit actions: %+v", entries)
	}
	if entries[1].Outcome != "flagged" {
		t.Fatalf("expected check against identical spec to be flagged, got %q", entries[1].Outcome)
	}
}

func TestHandleCheckCSVFormatRendersReport(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	idxReq := httptest.NewRequest(http.MethodPost, "/v0/tenants/acme/apis/A", strings.NewReader(petSpec1))
	idxRec := httptest.NewRecorder()
	r.ServeHTTP(idxRec, idxReq)
	if idxRec.Code != http.StatusOK {
		t.Fatalf("index: expected 200, got %d", idxRec.Code)
	}

	body := bytes.NewBufferString(`{"spec":` + petSpec1 + `}`)
	checkReq := httptest.NewRequest(http.MethodPost, "/v0/tenants/acme/apis/B:check?format=csv", body)
	checkRec := httptest.NewRecorder()
	r.ServeHTTP(checkRec, checkReq)
	if checkRec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d: %s", checkRec.Code, checkRec.Body.String())
	}
	if ct := checkRec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv content type, got %q", ct)
	}
	if !strings.Contains(checkRec.Body.String(), "record_type,matched_api_uuid") {
		t.Fatalf("expected csv header row, got %s", checkRec.Body.String())
	}
	if !strings.Contains(checkRec.Body.String(), "conflict,A,") {
		t.Fatalf("expected conflict row for matched api A, got %s", checkRec.Body.String())
	}
}

func TestRequestLoggingPropagatesTraceID(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/v0/healthz", nil)
	req.Header.Set(traceHeader, "trace-fixed-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get(traceHeader); got != "trace-fixed-123" {
		t.Fatalf("expected incoming trace id echoed back, got %q", got)
	}
	if got := rec.Header().Get(spanHeader); got == "" {
		t.Fatal("expected a minted span id header")
	}
}

func TestRequestLoggingMintsTraceIDWhenAbsent(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/v0/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get(traceHeader); got == "" {
		t.Fatal("expected a minted trace id header when none was supplied")
	}
}

func mustMarshalSpec(t *testing.T) string {
	t.Helper()
	// petSpec1 is already valid JSON; embed it as a raw json.RawMessage value.
	return petSpec1
}
