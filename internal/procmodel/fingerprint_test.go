package procmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFingerprint_Stable(t *testing.T) {
	a := ComputeFingerprint(123, "/usr/bin/foo", "/usr/bin/foo --flag", 3)
	b := ComputeFingerprint(123, "/usr/bin/foo", "/usr/bin/foo --flag", 3)
	require.Equal(t, a, b)
}

func TestComputeFingerprint_ChangesWithInputs(t *testing.T) {
	base := ComputeFingerprint(123, "/usr/bin/foo", "/usr/bin/foo --flag", 3)

	tests := []struct {
		name string
		fp   Fingerprint
	}{
		{"pid", ComputeFingerprint(124, "/usr/bin/foo", "/usr/bin/foo --flag", 3)},
		{"execPath", ComputeFingerprint(123, "/usr/bin/bar", "/usr/bin/foo --flag", 3)},
		{"cmd", ComputeFingerprint(123, "/usr/bin/foo", "/usr/bin/foo --other", 3)},
		{"connCount", ComputeFingerprint(123, "/usr/bin/foo", "/usr/bin/foo --flag", 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.fp)
		})
	}
}

func TestSuspicionLevel_MarshalJSON(t *testing.T) {
	b, err := LevelCRITICAL.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"CRITICAL"`, string(b))
}

func TestConnectionSummary_AddRemote_DedupsAndBounds(t *testing.T) {
	var c ConnectionSummary
	for i := 0; i < 15; i++ {
		c.AddRemote("1.2.3.4:443")
	}
	assert.Len(t, c.Remotes, 1)

	for i := 0; i < 20; i++ {
		c.AddRemote("host-" + string(rune('a'+i)) + ":80")
	}
	assert.LessOrEqual(t, len(c.Remotes), 10)
}
