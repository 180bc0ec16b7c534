package k8sworker

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewK8Config(t *testing.T) {
	var logged []string
	cfg, err := NewK8Config(WithLogger(func(format string, _ ...any) {
		logged = append(logged, format)
	}))
	require.NoError(t, err)
	defer Close()

	assert.Equal(t, runtime.Version(), cfg.GoVersion)
	assert.Positive(t, cfg.GoMaxProcs)
	assert.Positive(t, cfg.GoMemLimit)
	assert.NotEmpty(t, logged)
}
