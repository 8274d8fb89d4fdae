package models

import (
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// Status is the video asset lifecycle state. Transitions are monotonic:
// registered -> ingested -> processing -> ready, with failed reachable
// from ingested or processing. A status never moves backward.
type Status string

const (
	StatusRegistered Status = "registered" // row created, upload URL issued
	StatusIngested   Status = "ingested"   // source object confirmed in storage
	StatusProcessing Status = "processing" // transcode worker running
	StatusReady      Status = "ready"      // renditions + manifest persisted
	StatusFailed     Status = "failed"     // pipeline gave up on this asset
)

var transitions = map[Status][]Status{
	StatusRegistered: {StatusIngested},
	StatusIngested:   {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusReady, StatusFailed},
	StatusReady:      {},
	StatusFailed:     {},
}

// CanTransition reports whether moving from one status to another is a
// legal lifecycle step. Backward and skip-ahead moves are rejected.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses an asset may be in immediately
// before reaching the given status. Used to guard status updates at the
// database level.
func Predecessors(to Status) []Status {
	var prev []Status
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				prev = append(prev, from)
			}
		}
	}
	return prev
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Rendition is one fixed-resolution HLS copy of a source video.
// Created by the transcode worker; immutable once recorded.
type Rendition struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	DirKey    string `json:"dir_key"`   // storage prefix holding index.m3u8 + segments
	Bandwidth int    `json:"bandwidth"` // approximate bits/s, width*height*factor
}

// CaptionTrack references one language's subtitle files in both formats.
type CaptionTrack struct {
	Language string `json:"language"`
	VTTKey   string `json:"vtt_key"`
	SRTKey   string `json:"srt_key"`
}

// Video is a user-uploaded video asset. StorageKey is the immutable,
// globally unique join key between the admission queue, the transcode
// worker and the database.
type Video struct {
	ID                uuid.UUID               `json:"id"`
	UserID            uuid.UUID               `json:"user_id"`
	StorageKey        string                  `json:"storage_key"`
	MimeType          string                  `json:"mime_type"`
	Status            Status                  `json:"status"`
	Renditions        []Rendition             `json:"renditions,omitempty"`
	MasterManifestKey string                  `json:"master_manifest_key,omitempty"`
	Captions          map[string]CaptionTrack `json:"captions,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// OutputPrefix is the storage prefix under which every derived artifact
// of this asset lives (rendition directories, captions, master manifest).
func (v *Video) OutputPrefix() string {
	return fmt.Sprintf("videos/%s/%s", v.UserID, v.ID)
}

// ManifestKey is the storage key of the asset's master manifest.
func (v *Video) ManifestKey() string {
	return path.Join(v.OutputPrefix(), "master.m3u8")
}

// SourceKey returns the storage key for a new upload:
// uploads/{userID}/video-{uuid}.
func SourceKey(userID, videoID uuid.UUID) string {
	return fmt.Sprintf("uploads/%s/video-%s", userID, videoID)
}
