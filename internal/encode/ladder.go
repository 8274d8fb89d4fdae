package encode

import (
	"math"

	"github.com/clipstream/backend/internal/probe"
)

// DefaultBandwidthFactor is the bandwidth heuristic inherited from the
// first deployment: estimate = width * height * 0.07. Changing it changes
// every manifest the system produces.
const DefaultBandwidthFactor = 0.07

// Ladder is the candidate rendition set, best quality first. A source is
// never upscaled, so the effective set per asset is a filtered suffix.
var Ladder = []probe.Resolution{
	{Width: 3840, Height: 2160},
	{Width: 2560, Height: 1440},
	{Width: 1920, Height: 1080},
	{Width: 1280, Height: 720},
	{Width: 854, Height: 480},
	{Width: 640, Height: 360},
	{Width: 426, Height: 240},
	{Width: 256, Height: 144},
}

// FilterLadder returns the candidates whose width and height are both at
// most the source's.
func FilterLadder(candidates []probe.Resolution, source probe.Resolution) []probe.Resolution {
	var out []probe.Resolution
	for _, c := range candidates {
		if c.Width <= source.Width && c.Height <= source.Height {
			out = append(out, c)
		}
	}
	return out
}

// Bandwidth estimates a rendition's bits/s as floor(width*height*factor).
func Bandwidth(res probe.Resolution, factor float64) int {
	if factor <= 0 {
		factor = DefaultBandwidthFactor
	}
	return int(math.Floor(float64(res.Width) * float64(res.Height) * factor))
}
