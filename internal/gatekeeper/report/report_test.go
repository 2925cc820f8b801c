package report

import (
	"strings"
	"testing"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/service"
)

func sampleResult() service.DedupResult {
	return service.DedupResult{
		IsDuplicate:    true,
		HighConfidence: true,
		ConflictReports: []service.ConflictReport{
			{MatchedAPIUUID: "A", SimilarityScore: 0.99, Message: "m", Recommendation: "r"},
		},
		QueryAPIUUID: "B",
		Organization: "t",
		Threshold:    0.95,
		Message:      "1 near-duplicate API found",
	}
}

func TestJSONRendererIncludesFields(t *testing.T) {
	b, err := JSONRenderer{}.Render(sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "matchedApiUuid") {
		t.Fatalf("expected matchedApiUuid field in output, got %s", b)
	}
}

func TestCSVRendererEmitsSummaryAndConflictRows(t *testing.T) {
	b, err := CSVRenderer{}.Render(sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + summary + 1 conflict row, got %d lines: %v", len(lines), lines)
	}
}

func TestCSVRendererRejectsMissingQueryID(t *testing.T) {
	res := sampleResult()
	res.QueryAPIUUID = ""
	if _, err := CSVRenderer{}.Render(res); err == nil {
		t.Fatal("expected error for missing query_api_uuid")
	}
}
