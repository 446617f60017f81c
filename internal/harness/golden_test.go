package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeDedupTraceGolden(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "merge-dedup.yaml"))
	require.NoError(t, err)

	result, err := RunWithGolden(t, sc)
	require.NoError(t, err)
	require.True(t, result.Pass, "unexpected failures: %v", result.Errors)
}

// Two runs of the same scenario must produce byte-identical traces: token
// base, journal clock and simulated transport are all deterministic.
func TestTraceIsDeterministic(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "pipeline-policy.yaml"))
	require.NoError(t, err)

	first, err := Run(sc)
	require.NoError(t, err)
	require.True(t, first.Pass, "unexpected failures: %v", first.Errors)

	second, err := Run(sc)
	require.NoError(t, err)

	require.Equal(t, first.TraceBytes(), second.TraceBytes())
	require.Equal(t, first.Steps, second.Steps)
}
