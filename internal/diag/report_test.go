package diag

import (
	"testing"

	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/stretchr/testify/require"
)

func TestReportRoundTripsThroughErrorsAs(t *testing.T) {
	rep := New(TYP001, "typecheck", "expected Int, found Bool", source.Span{})
	rep.WithNote("in function foo")

	err := rep.AsError()
	got, ok := AsReport(err)
	require.True(t, ok)
	require.Equal(t, rep, got)
}

func TestReporterHasErrorsAndExitCode(t *testing.T) {
	r := NewReporter()
	require.False(t, r.HasErrors())
	require.Equal(t, 0, r.ExitCode(false))

	r.Add(New(CTR004, "check", "missing postcondition", source.Span{}))
	require.False(t, r.HasErrors(), "warnings alone must not count as errors")
	require.Equal(t, 3, r.ExitCode(true), "verification failure with no errors is exit 3")

	r.Add(New(TYP001, "typecheck", "type mismatch", source.Span{}))
	require.True(t, r.HasErrors())
	require.Equal(t, 1, r.ExitCode(true), "errors take priority over verification exit code")
}

func TestReportCarriesStableID(t *testing.T) {
	sp := source.Span{Unit: "a.bmb", Start: 4, End: 9}
	first := New(TYP001, "typecheck", "mismatch", sp)
	second := New(TYP001, "typecheck", "a different message, same site", sp)
	require.NotEmpty(t, first.SID)
	require.Equal(t, first.SID, second.SID, "the id hashes span geometry and code, not the message")

	other := New(TYP001, "typecheck", "mismatch", source.Span{Unit: "a.bmb", Start: 4, End: 10})
	require.NotEqual(t, first.SID, other.SID)
}

func TestEncodeReportsRejectsUnknownSchema(t *testing.T) {
	rep := New(TYP001, "typecheck", "mismatch", source.Span{})
	rep.Schema = "bmb.mystery/v9"
	_, err := EncodeReports([]*Report{rep}, false)
	require.Error(t, err, "the registry rejects unknown schema names")
}

func TestEncodeReportsIsDeterministic(t *testing.T) {
	reports := []*Report{
		New(VER001, "verify", "postcondition refuted", source.Span{Unit: "a.bmb", Start: 1, End: 5}).
			WithCounterexample(&Counterexample{Bindings: map[string]string{"x": "-1"}}),
	}
	a, err := EncodeReports(reports, false)
	require.NoError(t, err)
	b, err := EncodeReports(reports, false)
	require.NoError(t, err)
	require.Equal(t, a, b)
}
