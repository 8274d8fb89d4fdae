// Package manifest assembles the master HLS manifest for an asset.
package manifest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/clipstream/backend/internal/models"
)

// ObjectStore is the storage surface the publisher needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// BuildMaster renders the master manifest text. One variant entry per
// rendition, in input order; one subtitle declaration per caption track
// with the base language marked default/autoselect. Pure: callers upload
// the result only after every referenced artifact is durably stored.
func BuildMaster(renditions []models.Rendition, tracks map[string]models.CaptionTrack, baseLang string) []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	// Stable order: base language first, then remaining languages sorted.
	langs := make([]string, 0, len(tracks))
	for lang := range tracks {
		if lang != baseLang {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	if _, ok := tracks[baseLang]; ok {
		langs = append([]string{baseLang}, langs...)
	}

	for _, lang := range langs {
		def := "NO"
		if lang == baseLang {
			def = "YES"
		}
		fmt.Fprintf(&b,
			"#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"subs\",NAME=\"%s\",LANGUAGE=\"%s\",DEFAULT=%s,AUTOSELECT=%s,URI=\"captions/%s.vtt\"\n",
			lang, lang, def, def, lang)
	}

	for _, r := range renditions {
		if len(langs) > 0 {
			fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,SUBTITLES=\"subs\"\n",
				r.Bandwidth, r.Width, r.Height)
		} else {
			fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
				r.Bandwidth, r.Width, r.Height)
		}
		fmt.Fprintf(&b, "%dp/index.m3u8\n", r.Height)
	}
	return []byte(b.String())
}

// Publisher uploads master manifests.
type Publisher struct {
	store    ObjectStore
	baseLang string
}

// NewPublisher creates a manifest publisher.
func NewPublisher(store ObjectStore, baseLang string) *Publisher {
	if baseLang == "" {
		baseLang = "en"
	}
	return &Publisher{store: store, baseLang: baseLang}
}

// Publish writes the master manifest to {keyPrefix}/master.m3u8 and
// returns its key. Must only be called once all rendition and caption
// artifacts exist.
func (p *Publisher) Publish(ctx context.Context, keyPrefix string, renditions []models.Rendition, tracks map[string]models.CaptionTrack) (string, error) {
	body := BuildMaster(renditions, tracks, p.baseLang)
	key := path.Join(keyPrefix, "master.m3u8")
	if err := p.store.Put(ctx, key, bytes.NewReader(body), "application/vnd.apple.mpegurl"); err != nil {
		return "", fmt.Errorf("upload master manifest: %w", err)
	}
	return key, nil
}
