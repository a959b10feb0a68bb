package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lyzr/gpu-agent/common/logger"
)

func newFilter(patterns ...string) *Workflow {
	return New(patterns, logger.New("error", "text"))
}

func TestAllowsExactMatch(t *testing.T) {
	f := newFilter("comfyui_basic", "faceswap")

	assert.True(t, f.Allows("comfyui_basic"))
	assert.True(t, f.Allows("faceswap"))
	assert.False(t, f.Allows("comfyui_video"))
	assert.False(t, f.Allows("Comfyui_Basic")) // case-sensitive
}

func TestAllowsGlobPatterns(t *testing.T) {
	f := newFilter("comfyui_*")

	assert.True(t, f.Allows("comfyui_basic"))
	assert.True(t, f.Allows("comfyui_video"))
	assert.False(t, f.Allows("faceswap"))
	assert.False(t, f.Allows("my_comfyui_basic"))
}

func TestWildcardDisablesFiltering(t *testing.T) {
	f := newFilter("*")

	assert.True(t, f.AllowAll())
	assert.True(t, f.Allows("anything"))
	assert.True(t, f.Allows("faceswap"))
	// Empty maps to "default", which the wildcard also passes
	assert.True(t, f.Allows(""))
}

func TestEmptyNameMapsToDefault(t *testing.T) {
	f := newFilter("default")
	assert.True(t, f.Allows(""))

	f = newFilter("comfyui_*")
	assert.False(t, f.Allows(""))
}

func TestReload(t *testing.T) {
	f := newFilter("comfyui_*")
	assert.False(t, f.Allows("faceswap"))

	f.Reload([]string{"faceswap"})
	assert.True(t, f.Allows("faceswap"))
	assert.False(t, f.Allows("comfyui_basic"))
}

func TestReloadSkipsBlankPatterns(t *testing.T) {
	f := newFilter(" ", "", "comfyui_*")
	assert.Equal(t, []string{"comfyui_*"}, f.Patterns())
}
