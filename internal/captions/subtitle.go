package captions

import (
	"fmt"
	"strings"
)

// RenderVTT serializes segments as WebVTT.
func RenderVTT(segments []Segment) []byte {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		b.WriteString(vttTimestamp(s.Start))
		b.WriteString(" --> ")
		b.WriteString(vttTimestamp(s.End))
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}

// RenderSRT serializes segments as SubRip.
func RenderSRT(segments []Segment) []byte {
	var b strings.Builder
	n := 0
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d\n", n)
		b.WriteString(srtTimestamp(s.Start))
		b.WriteString(" --> ")
		b.WriteString(srtTimestamp(s.End))
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}

// vttTimestamp formats seconds as HH:MM:SS.mmm.
func vttTimestamp(sec float64) string {
	h, m, s, ms := splitTime(sec)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// srtTimestamp formats seconds as HH:MM:SS,mmm.
func srtTimestamp(sec float64) string {
	h, m, s, ms := splitTime(sec)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func splitTime(sec float64) (h, m, s, ms int) {
	if sec < 0 {
		sec = 0
	}
	total := int(sec * 1000)
	ms = total % 1000
	total /= 1000
	s = total % 60
	total /= 60
	m = total % 60
	h = total / 60
	return
}
