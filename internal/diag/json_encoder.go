package diag

import (
	"encoding/json"
	"fmt"

	"github.com/bmb-lang/bmbc/internal/schema"
	"github.com/bmb-lang/bmbc/internal/sid"
)

// ToJSON renders a single Report after validating its schema
// identifier against the registry. Compact output goes through the
// sorted-key schema marshaller so two runs produce byte-identical
// text.
func (r *Report) ToJSON(indent bool) (string, error) {
	if !schema.Known(r.Schema) {
		return "", fmt.Errorf("unknown diagnostic schema %q", r.Schema)
	}
	if indent {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := schema.MarshalDeterministic(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// record is the wire shape of one diagnostic in the machine format:
// `{ file, span_start, span_end, severity, category, message,
// notes[], counterexample? }`, extended with the schema identifier
// and the stable id.
type record struct {
	Schema         string          `json:"schema"`
	SID            sid.SID         `json:"sid"`
	File           string          `json:"file"`
	SpanStart      int             `json:"span_start"`
	SpanEnd        int             `json:"span_end"`
	Severity       Severity        `json:"severity"`
	Category       string          `json:"category"`
	Message        string          `json:"message"`
	Notes          []string        `json:"notes,omitempty"`
	Counterexample *Counterexample `json:"counterexample,omitempty"`
}

func toRecord(r *Report) record {
	rec := record{
		Schema:         r.Schema,
		SID:            r.SID,
		Severity:       r.Sev,
		Category:       r.Code,
		Message:        r.Message,
		Notes:          r.Notes,
		Counterexample: r.Model,
	}
	if r.Span != nil {
		rec.File = string(r.Span.Unit)
		rec.SpanStart = r.Span.Start
		rec.SpanEnd = r.Span.End
	}
	return rec
}

// EncodeReports renders the full diagnostic set as the machine
// format: a JSON array of records, one per diagnostic, in the order
// they were added. A report whose schema identifier the registry does
// not accept is rejected rather than passed through.
func EncodeReports(reports []*Report, indent bool) (string, error) {
	recs := make([]record, len(reports))
	for i, r := range reports {
		if !schema.Accepts(r.Schema, schema.DiagnosticV1) {
			return "", fmt.Errorf("diagnostic %d: unknown schema %q", i, r.Schema)
		}
		recs[i] = toRecord(r)
	}
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(recs, "", "  ")
	} else {
		data, err = json.Marshal(recs)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
