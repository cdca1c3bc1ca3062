package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDependencyCycles(t *testing.T) {
	adj := map[string][]string{
		"build":   {"deploy"},
		"deploy":  {"test"},
		"test":    {"build", "missing"},
		"package": {"build"},
		"docs":    nil,
	}

	cycles := DetectDependencyCycles(adj)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"build", "deploy", "test", "build"}, cycles[0].Path)
	assert.True(t, cycles[0].Contains("deploy"))
	assert.False(t, cycles[0].Contains("package"))
	assert.Equal(t, "Circular dependency detected: build -> deploy -> test -> build", cycles[0].Error())
}

func TestDetectDependencyCycles_NoCycle(t *testing.T) {
	adj := map[string][]string{
		"a": {"b", "c"},
		"b": {"c"},
		"c": nil,
	}
	assert.Empty(t, DetectDependencyCycles(adj))
	assert.Equal(t, "my-pipeline", DependencyNodeKey("My-Pipeline"))
}
