package appraisal

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/tabular"
)

// Report formats served by the run report endpoint.
const (
	FormatJSON            = "json"
	FormatCSV             = "csv"
	FormatScoresCSV       = "scores_csv"
	FormatExplanationsCSV = "explanations_csv"
)

var reportFormats = map[string]string{
	FormatJSON:            "application/json",
	FormatCSV:             "text/csv",
	FormatScoresCSV:       "text/csv",
	FormatExplanationsCSV: "text/csv",
}

// ValidFormat reports whether the report format is supported.
func ValidFormat(format string) bool {
	_, ok := reportFormats[format]
	return ok
}

// ContentType returns the MIME type for a report format.
func ContentType(format string) string {
	if ct, ok := reportFormats[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

// jsonReport is the full-run JSON report body.
type jsonReport struct {
	Run       *domain.Run       `json:"run"`
	Decisions []domain.Decision `json:"decisions"`
}

// RenderReport renders a completed run in the requested format.
func RenderReport(run *domain.Run, decisions []domain.Decision, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(jsonReport{Run: run, Decisions: decisions}, "", "  ")
	case FormatCSV:
		var buf bytes.Buffer
		if err := tabular.EncodeDecisions(&buf, decisions); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatScoresCSV:
		return renderScoresCSV(decisions)
	case FormatExplanationsCSV:
		return renderExplanationsCSV(decisions)
	default:
		return nil, fmt.Errorf("%w: unknown report format %q", domain.ErrValidation, format)
	}
}

func renderScoresCSV(decisions []domain.Decision) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write([]string{"application_id", "score", "decision"}); err != nil {
		return nil, err
	}
	for _, d := range decisions {
		row := []string{
			d.ApplicationID,
			strconv.FormatFloat(d.Score, 'f', -1, 64),
			d.Decision,
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}

	cw.Flush()
	return buf.Bytes(), cw.Error()
}

func renderExplanationsCSV(decisions []domain.Decision) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write([]string{"application_id", "decision", "failed_rules"}); err != nil {
		return nil, err
	}
	for _, d := range decisions {
		failed := d.FailedRules()
		sort.Strings(failed)
		row := []string{
			d.ApplicationID,
			d.Decision,
			strings.Join(failed, ";"),
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}

	cw.Flush()
	return buf.Bytes(), cw.Error()
}
