package theme

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
)

func TestInterpolateColor(t *testing.T) {
	assert.Equal(t, "#000000", InterpolateColor("#000000", "#ffffff", 0))
	assert.Equal(t, "#ffffff", InterpolateColor("#000000", "#ffffff", 1))
	assert.Equal(t, "#7f7f7f", InterpolateColor("#000000", "#ffffff", 0.5))
	assert.Equal(t, "#ffffff", InterpolateColor("#000000", "#ffffff", 7), "position is clamped")
}

func TestParseHexColor(t *testing.T) {
	r, g, b := ParseHexColor("#cba6f7")
	assert.Equal(t, []uint8{0xcb, 0xa6, 0xf7}, []uint8{r, g, b})

	r, g, b = ParseHexColor("nope")
	assert.Equal(t, []uint8{0, 0, 0}, []uint8{r, g, b})
}

func TestPhaseColor(t *testing.T) {
	th := NewCatppuccinMocha()
	assert.Equal(t, th.Success, th.PhaseColor("completed"))
	assert.Equal(t, th.Error, th.PhaseColor("failed"))
	assert.Equal(t, th.Error, th.PhaseColor("rejected"))
	assert.Equal(t, th.Warning, th.PhaseColor("awaiting_approval"))
	assert.Equal(t, th.FgMuted, th.PhaseColor("unknown"))
}

func TestPhaseBadge(t *testing.T) {
	badge := NewCatppuccinMocha().PhaseBadge("awaiting_approval")
	assert.Contains(t, badge, "awaiting approval")
}

func TestApplyGradient(t *testing.T) {
	assert.Equal(t, "", ApplyGradient("", "#000000", "#ffffff"))
	out := ApplyGradient("taskr", "#000000", "#ffffff")
	for _, r := range "taskr" {
		assert.True(t, strings.ContainsRune(out, r))
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown("# Plan\n\n1. Read the code\n2. Fix the bug", 80)
	plain := ansi.Strip(out)
	assert.Contains(t, plain, "Plan")
	assert.Contains(t, plain, "Read the code")
	assert.Contains(t, plain, "Fix the bug")
	assert.False(t, strings.HasSuffix(out, "\n"))
	assert.False(t, strings.HasPrefix(out, "\n"))
}
