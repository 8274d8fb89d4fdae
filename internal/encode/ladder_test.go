package encode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clipstream/backend/internal/probe"
)

func TestFilterLadderNoUpscaling(t *testing.T) {
	candidates := []probe.Resolution{
		{Width: 3840, Height: 2160},
		{Width: 1920, Height: 1080},
		{Width: 1280, Height: 720},
		{Width: 640, Height: 360},
	}
	got := FilterLadder(candidates, probe.Resolution{Width: 1920, Height: 1080})
	assert.Equal(t, []probe.Resolution{
		{Width: 1920, Height: 1080},
		{Width: 1280, Height: 720},
		{Width: 640, Height: 360},
	}, got)
}

func TestFilterLadderBothDimensionsMustFit(t *testing.T) {
	// Width fits but height does not: a 1920x800 source cannot carry 1080p.
	got := FilterLadder(Ladder, probe.Resolution{Width: 1920, Height: 800})
	for _, r := range got {
		assert.LessOrEqual(t, r.Width, 1920)
		assert.LessOrEqual(t, r.Height, 800)
	}
	assert.NotContains(t, got, probe.Resolution{Width: 1920, Height: 1080})
}

func TestFilterLadderTinySource(t *testing.T) {
	got := FilterLadder(Ladder, probe.Resolution{Width: 100, Height: 80})
	assert.Empty(t, got)
}

func TestBandwidthConstant(t *testing.T) {
	// floor(1280*720*0.07); changing the factor is a manifest-breaking change.
	assert.Equal(t, 64512, Bandwidth(probe.Resolution{Width: 1280, Height: 720}, 0.07))
	assert.Equal(t, 64512, Bandwidth(probe.Resolution{Width: 1280, Height: 720}, 0), "zero factor falls back to default")
	assert.Equal(t, 145152, Bandwidth(probe.Resolution{Width: 1920, Height: 1080}, 0.07))
}
