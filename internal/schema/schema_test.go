package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsUnknownNames(t *testing.T) {
	assert.True(t, Known(DiagnosticV1))
	assert.True(t, Known(MIRDumpV1))
	assert.True(t, Known(ObligationV1))
	assert.False(t, Known("bmb.mystery/v1"))
}

func TestAccepts(t *testing.T) {
	assert.True(t, Accepts(DiagnosticV1, DiagnosticV1))
	assert.True(t, Accepts("bmb.diagnostic/v1.3", DiagnosticV1))
	assert.False(t, Accepts("bmb.diagnostic/v2", DiagnosticV1))
}

func TestMarshalDeterministicSortsKeys(t *testing.T) {
	in := map[string]any{"zeta": 1, "alpha": map[string]any{"b": 2, "a": 1}}
	first, err := MarshalDeterministic(in)
	require.NoError(t, err)
	second, err := MarshalDeterministic(in)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, `{"alpha":{"a":1,"b":2},"zeta":1}`, string(first))
}
