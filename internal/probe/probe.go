// Package probe inspects input media with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
)

var (
	// ErrUnreadableMedia means the file has no decodable video stream.
	ErrUnreadableMedia = errors.New("no decodable video stream")
	// ErrMissingDimensions means a video stream exists but its
	// resolution could not be determined.
	ErrMissingDimensions = errors.New("video resolution not found in metadata")
)

// Resolution is a width x height pair.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Name is the rendition directory label, e.g. "720p".
func (r Resolution) Name() string {
	return fmt.Sprintf("%dp", r.Height)
}

// Prober reads media metadata via ffprobe.
type Prober struct {
	ffprobePath string
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe returns the native resolution of the first video stream.
func (p *Prober) Probe(ctx context.Context, localPath string) (Resolution, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type,width,height",
		"-of", "json",
		localPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: ffprobe: %v", ErrUnreadableMedia, err)
	}
	return ParseResolution(out)
}

// ParseResolution extracts width/height from ffprobe JSON output.
func ParseResolution(raw []byte) (Resolution, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Resolution{}, fmt.Errorf("%w: parse ffprobe output: %v", ErrUnreadableMedia, err)
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return Resolution{}, ErrMissingDimensions
		}
		return Resolution{Width: s.Width, Height: s.Height}, nil
	}
	return Resolution{}, ErrUnreadableMedia
}
