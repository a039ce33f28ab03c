package diag

import (
	"errors"

	"github.com/bmb-lang/bmbc/internal/schema"
	"github.com/bmb-lang/bmbc/internal/sid"
	"github.com/bmb-lang/bmbc/internal/source"
)

// Counterexample carries the solver's model for a refuted
// verification obligation.
type Counterexample struct {
	Bindings map[string]string `json:"bindings"`
}

// Fix is a suggested, machine-applicable correction.
type Fix struct {
	Description string `json:"description"`
	Replacement string `json:"replacement,omitempty"`
}

// Report is the canonical structured diagnostic. Every stage
// constructs these instead of a bare error string so the human and
// machine renderers (internal/cli, this package's JSON encoder) share
// one source of truth.
type Report struct {
	Schema  string            `json:"schema"`
	// SID is the content-stable id of the diagnostic: a hash of the
	// span geometry and code that survives reformatting, so tooling
	// can track one diagnostic across runs.
	SID     sid.SID           `json:"sid"`
	Code    string            `json:"code"`
	Phase   string            `json:"phase"`
	Message string            `json:"message"`
	Sev     Severity          `json:"severity"`
	Span    *source.Span      `json:"span,omitempty"`
	Notes   []string          `json:"notes,omitempty"`
	Data    map[string]any    `json:"data,omitempty"`
	Fix     *Fix              `json:"fix,omitempty"`
	Model   *Counterexample   `json:"counterexample,omitempty"`
}

// New builds a Report at the code's default severity.
func New(code, phase, message string, span source.Span) *Report {
	return &Report{
		Schema:  schema.DiagnosticV1,
		SID:     sid.New(string(span.Unit), span.Start, span.End, code, nil),
		Code:    code,
		Phase:   phase,
		Message: message,
		Sev:     DefaultSeverity(code),
		Span:    &span,
		Data:    map[string]any{},
	}
}

// WithNote appends a human-readable note (e.g. "expected Int, found Bool").
func (r *Report) WithNote(note string) *Report {
	r.Notes = append(r.Notes, note)
	return r
}

// WithData attaches a structured field (e.g. expected/actual types).
func (r *Report) WithData(key string, value any) *Report {
	r.Data[key] = value
	return r
}

// WithFix attaches a suggested fix.
func (r *Report) WithFix(f *Fix) *Report {
	r.Fix = f
	return r
}

// WithCounterexample attaches a refuting model.
func (r *Report) WithCounterexample(c *Counterexample) *Report {
	r.Model = c
	return r
}

// AsError wraps the Report as an error satisfying errors.As lookups.
func (r *Report) AsError() error { return &ReportError{Rep: r} }

// ReportError wraps a Report as an error so structured reports
// survive an arbitrary error-wrapping chain.
type ReportError struct {
	Rep *Report
}

func (e *ReportError) Error() string {
	if e.Rep == nil {
		return "unknown diagnostic"
	}
	return e.Rep.Code + ": " + e.Rep.Message
}

// AsReport extracts a *Report from an error chain, if present.
func AsReport(err error) (*Report, bool) {
	var re *ReportError
	if errors.As(err, &re) {
		return re.Rep, true
	}
	return nil, false
}

// Reporter accumulates diagnostics across every stage of a single
// compilation. It is not safe for concurrent writers (the pipeline
// is single-threaded) but is safe to read once compilation completes.
type Reporter struct {
	reports []*Report
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter { return &Reporter{} }

// Add appends a diagnostic in source/traversal order.
func (r *Reporter) Add(rep *Report) { r.reports = append(r.reports, rep) }

// All returns every accumulated diagnostic.
func (r *Reporter) All() []*Report { return r.reports }

// HasErrors reports whether any error-level diagnostic was recorded.
// Codegen and full verification refuse to run when this is true.
func (r *Reporter) HasErrors() bool {
	for _, rep := range r.reports {
		if rep.Sev == Error {
			return true
		}
	}
	return false
}

// ExitCode implements the exit-code convention given whether
// a verification-only pass ran and failed. An error-level diagnostic
// from any phase other than the verifier yields 1 and takes priority
// over a verification failure, which yields 3.
func (r *Reporter) ExitCode(verificationFailed bool) int {
	compileErr := false
	for _, rep := range r.reports {
		if rep.Sev == Error && rep.Phase != "verifier" {
			compileErr = true
		}
	}
	switch {
	case compileErr:
		return 1
	case verificationFailed:
		return 3
	case r.HasErrors():
		return 1
	default:
		return 0
	}
}
