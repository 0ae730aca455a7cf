// Package tabular encodes and decodes record batches and decision sets
// as CSV, the interchange format between the service, the scoring agent,
// and operator uploads.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/opencredit/kestrel/internal/domain"
)

// DecodeBatch reads a CSV stream into a batch. The header row supplies
// the column order; duplicated header names keep the last occurrence.
// Cell values parse as float64 when numeric, bool for true/false, string
// otherwise. Empty cells are omitted from the record.
func DecodeBatch(r io.Reader) (*domain.Batch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty csv input", domain.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %v", domain.ErrValidation, err)
	}

	batch := domain.NewBatch(header...)
	batch.DedupeColumns()

	// With duplicated headers the last column of a name wins, matching
	// the batch's dedupe semantics.
	lastIdx := make(map[string]int, len(header))
	for i, name := range header {
		lastIdx[name] = i
	}

	row := 1
	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv row %d: %v", domain.ErrValidation, row, err)
		}
		if len(cells) != len(header) {
			return nil, fmt.Errorf("%w: csv row %d: %d cells, header has %d",
				domain.ErrValidation, row, len(cells), len(header))
		}

		rec := make(domain.Record, len(header))
		for i, name := range header {
			if lastIdx[name] != i {
				continue
			}
			if cells[i] == "" {
				continue
			}
			rec[name] = parseCell(cells[i])
		}
		batch.Records = append(batch.Records, rec)
		row++
	}

	return batch, nil
}

// EncodeBatch writes the batch as CSV in column order. Missing values
// encode as empty cells.
func EncodeBatch(w io.Writer, batch *domain.Batch) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(batch.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	cells := make([]string, len(batch.Columns))
	for _, rec := range batch.Records {
		for i, col := range batch.Columns {
			cells[i] = formatCell(rec[col])
		}
		if err := cw.Write(cells); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Decision CSV columns.
var decisionColumns = []string{"application_id", "decision", "score", "rule_reasons"}

// EncodeDecisions writes an appraisal's decisions as CSV with the
// per-rule breakdown embedded as a JSON object in the rule_reasons cell.
func EncodeDecisions(w io.Writer, decisions []domain.Decision) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(decisionColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, d := range decisions {
		reasons, err := json.Marshal(d.Reasons)
		if err != nil {
			return fmt.Errorf("marshal rule reasons: %w", err)
		}
		row := []string{
			d.ApplicationID,
			d.Decision,
			strconv.FormatFloat(d.Score, 'f', -1, 64),
			string(reasons),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// DecodeDecisions reads a decision CSV produced by EncodeDecisions or by
// the scoring agent. Unknown extra columns are ignored.
func DecodeDecisions(r io.Reader) ([]domain.Decision, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %v", domain.ErrValidation, err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, required := range []string{"application_id", "decision"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("%w: decision csv missing column %q", domain.ErrValidation, required)
		}
	}

	var out []domain.Decision
	row := 1
	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv row %d: %v", domain.ErrValidation, row, err)
		}

		d := domain.Decision{
			ApplicationID: cell(cells, idx, "application_id"),
			Decision:      cell(cells, idx, "decision"),
		}
		if s := cell(cells, idx, "score"); s != "" {
			score, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: csv row %d: bad score %q", domain.ErrValidation, row, s)
			}
			d.Score = score
		}
		if rr := cell(cells, idx, "rule_reasons"); rr != "" {
			if err := json.Unmarshal([]byte(rr), &d.Reasons); err != nil {
				return nil, fmt.Errorf("%w: csv row %d: bad rule_reasons: %v", domain.ErrValidation, row, err)
			}
		}
		out = append(out, d)
		row++
	}

	return out, nil
}

func cell(cells []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(cells) {
		return ""
	}
	return cells[i]
}

func parseCell(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func formatCell(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprint(n)
	}
}
