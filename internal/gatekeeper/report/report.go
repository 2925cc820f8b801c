// Package report renders a DedupResult as an operator-facing artifact:
// JSON for machine consumption, CSV for a flat audit trail.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/service"
)

// Renderer renders a DedupResult into a named content type.
type Renderer interface {
	Name() string
	ContentType() string
	Render(res service.DedupResult) ([]byte, error)
}

// ErrRender wraps rendering failures from any Renderer implementation.
var ErrRender = fmt.Errorf("report: render failed")

// JSONRenderer emits the DedupResult as indented JSON.
type JSONRenderer struct {
	Indent string // default two spaces
}

func (JSONRenderer) Name() string        { return "json" }
func (JSONRenderer) ContentType() string { return "application/json" }

func (jr JSONRenderer) Render(res service.DedupResult) ([]byte, error) {
	indent := jr.Indent
	if strings.TrimSpace(indent) == "" {
		indent = "  "
	}
	b, err := json.MarshalIndent(res, "", indent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return b, nil
}

// CSVRenderer emits one row per conflict report, with a leading summary
// row, so the output opens sensibly in a spreadsheet.
type CSVRenderer struct{}

func (CSVRenderer) Name() string        { return "csv" }
func (CSVRenderer) ContentType() string { return "text/csv" }

func (CSVRenderer) Render(res service.DedupResult) ([]byte, error) {
	if strings.TrimSpace(res.QueryAPIUUID) == "" {
		return nil, fmt.Errorf("%w: query_api_uuid missing", ErrRender)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"record_type", "matched_api_uuid", "similarity_score", "message", "recommendation"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	summary := fmt.Sprintf("is_duplicate=%t high_confidence=%t threshold=%s org=%s",
		res.IsDuplicate, res.HighConfidence, strconv.FormatFloat(res.Threshold, 'f', 4, 64), res.Organization)
	if err := w.Write([]string{"summary", res.QueryAPIUUID, "", summary, res.Message}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	for _, c := range res.ConflictReports {
		row := []string{
			"conflict",
			c.MatchedAPIUUID,
			strconv.FormatFloat(c.SimilarityScore, 'f', 4, 64),
			c.Message,
			c.Recommendation,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRender, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

var (
	_ Renderer = JSONRenderer{}
	_ Renderer = CSVRenderer{}
)
