package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstream/backend/internal/models"
	"github.com/clipstream/backend/internal/probe"
	"github.com/clipstream/backend/internal/videos"
)

// eventLog records cross-fake ordering so tests can assert sequencing
// invariants like "manifest published only after every artifact exists".
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.events {
		if got == e {
			return i
		}
	}
	return -1
}

type fakeRepo struct {
	mu      sync.Mutex
	video   *models.Video
	updates []*videos.StatusUpdate
	failGet int // remaining GetByKey calls to fail
}

func (r *fakeRepo) GetByKey(_ context.Context, storageKey string) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet > 0 {
		r.failGet--
		return nil, errors.New("connection reset")
	}
	if r.video == nil || r.video.StorageKey != storageKey {
		return nil, videos.ErrNotFound
	}
	v := *r.video
	return &v, nil
}

func (r *fakeRepo) TransitionStatus(_ context.Context, storageKey string, to models.Status, upd *videos.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.video == nil || r.video.StorageKey != storageKey {
		return videos.ErrNotFound
	}
	if !models.CanTransition(r.video.Status, to) {
		return fmt.Errorf("%w: %s -> %s", videos.ErrInvalidTransition, r.video.Status, to)
	}
	r.video.Status = to
	r.updates = append(r.updates, upd)
	return nil
}

func (r *fakeRepo) status() models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.video.Status
}

type fakeSourceStore struct{}

func (fakeSourceStore) Download(_ context.Context, _, dest string) error {
	return os.WriteFile(dest, []byte("fake video"), 0o644)
}

type fakeProber struct {
	res probe.Resolution
	err error
}

func (p fakeProber) Probe(context.Context, string) (probe.Resolution, error) {
	return p.res, p.err
}

type fakeEncoder struct {
	log         *eventLog
	failHeights map[int]bool
}

func (e *fakeEncoder) Encode(_ context.Context, _ string, res probe.Resolution, keyPrefix string) (string, error) {
	if e.failHeights[res.Height] {
		e.log.add("encode-fail:" + res.Name())
		return "", errors.New("encoder crashed at " + res.Name())
	}
	e.log.add("encode:" + res.Name())
	return keyPrefix + "/" + res.Name(), nil
}

type fakeCaptions struct {
	log    *eventLog
	tracks map[string]models.CaptionTrack
}

func (c *fakeCaptions) Generate(_ context.Context, _, _ string) map[string]models.CaptionTrack {
	c.log.add("captions")
	if c.tracks == nil {
		return map[string]models.CaptionTrack{}
	}
	return c.tracks
}

type fakePublisher struct {
	log        *eventLog
	err        error
	renditions []models.Rendition
}

func (p *fakePublisher) Publish(_ context.Context, keyPrefix string, renditions []models.Rendition, _ map[string]models.CaptionTrack) (string, error) {
	p.log.add("publish")
	p.renditions = renditions
	if p.err != nil {
		return "", p.err
	}
	return keyPrefix + "/master.m3u8", nil
}

type fakeGate struct {
	mu       sync.Mutex
	releases int
}

func (g *fakeGate) Release(context.Context, string, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases++
	return nil
}

func (g *fakeGate) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releases
}

type fixture struct {
	repo      *fakeRepo
	encoder   *fakeEncoder
	captions  *fakeCaptions
	publisher *fakePublisher
	gate      *fakeGate
	log       *eventLog
	orch      *Orchestrator
	video     *models.Video
}

func newFixture(t *testing.T, source probe.Resolution, probeErr error) *fixture {
	t.Helper()
	log := &eventLog{}
	video := &models.Video{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		StorageKey: "uploads/u1/video-abc",
		Status:     models.StatusIngested,
	}
	f := &fixture{
		repo:      &fakeRepo{video: video},
		encoder:   &fakeEncoder{log: log, failHeights: map[int]bool{}},
		captions:  &fakeCaptions{log: log},
		publisher: &fakePublisher{log: log},
		gate:      &fakeGate{},
		log:       log,
		video:     video,
	}
	f.orch = NewOrchestrator(f.repo, fakeSourceStore{}, fakeProber{res: source, err: probeErr},
		f.encoder, f.captions, f.publisher, f.gate,
		Config{MaxParallel: 2, ScratchDir: t.TempDir()}, nil)
	return f
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 1280, Height: 720}, nil)
	f.captions.tracks = map[string]models.CaptionTrack{
		"en": {Language: "en", VTTKey: "captions/en.vtt", SRTKey: "captions/en.srt"},
	}

	err := f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey)
	require.NoError(t, err)

	assert.Equal(t, models.StatusReady, f.repo.status())
	assert.Equal(t, 1, f.gate.count(), "admission slot released exactly once")

	// 1280x720 source keeps the 720p and smaller ladder entries.
	require.Len(t, f.publisher.renditions, 5)
	assert.Equal(t, 720, f.publisher.renditions[0].Height, "best quality first")
	assert.Equal(t, 144, f.publisher.renditions[4].Height)

	// The ready update carries everything playback needs.
	require.Len(t, f.repo.updates, 2)
	final := f.repo.updates[1]
	require.NotNil(t, final)
	assert.Len(t, final.Renditions, 5)
	require.NotNil(t, final.ManifestKey)
	assert.Equal(t, f.video.OutputPrefix()+"/master.m3u8", *final.ManifestKey)
	assert.Contains(t, final.Captions, "en")
}

func TestRunPublishesManifestLast(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 1280, Height: 720}, nil)

	require.NoError(t, f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey))

	publishIdx := f.log.index("publish")
	require.GreaterOrEqual(t, publishIdx, 0)
	for _, e := range f.log.events {
		if e != "publish" {
			assert.Less(t, f.log.index(e), publishIdx,
				"%s must complete before the manifest is published", e)
		}
	}
}

func TestRunPartialEncodeFailureStillReady(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 1280, Height: 720}, nil)
	f.encoder.failHeights[480] = true

	err := f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey)
	require.NoError(t, err, "one broken rendition does not fail the asset")

	assert.Equal(t, models.StatusReady, f.repo.status())
	require.Len(t, f.publisher.renditions, 4)
	for _, r := range f.publisher.renditions {
		assert.NotEqual(t, 480, r.Height, "failed rendition absent from manifest")
	}
	assert.Equal(t, 1, f.gate.count())
}

func TestRunAllEncodesFail(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 640, Height: 360}, nil)
	for _, h := range []int{360, 240, 144} {
		f.encoder.failHeights[h] = true
	}

	err := f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey)
	require.ErrorIs(t, err, ErrNoRenditions)

	assert.Equal(t, models.StatusFailed, f.repo.status())
	assert.Equal(t, -1, f.log.index("publish"), "no manifest for a failed asset")
	assert.Equal(t, 1, f.gate.count(), "slot released on failure too")
}

func TestRunSourceBelowLadder(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 100, Height: 80}, nil)

	err := f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey)
	require.ErrorIs(t, err, ErrNoRenditions)
	assert.Equal(t, models.StatusFailed, f.repo.status())
	assert.Equal(t, 1, f.gate.count())
}

func TestRunProbeFailure(t *testing.T) {
	f := newFixture(t, probe.Resolution{}, probe.ErrUnreadableMedia)

	err := f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey)
	require.ErrorIs(t, err, probe.ErrUnreadableMedia)
	assert.Equal(t, models.StatusFailed, f.repo.status())
	assert.Equal(t, 1, f.gate.count())
}

func TestRunPublishFailure(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 640, Height: 360}, nil)
	f.publisher.err = errors.New("storage write denied")

	err := f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey)
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, f.repo.status())
	assert.Equal(t, 1, f.gate.count())
}

func TestRunUnknownAsset(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 640, Height: 360}, nil)

	err := f.orch.Run(context.Background(), "someone", "uploads/unknown/key")
	require.ErrorIs(t, err, videos.ErrNotFound)
	assert.Equal(t, 1, f.gate.count(), "slot released even when the asset row is missing")
}

func TestRunRetriesTransientRepoErrors(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 640, Height: 360}, nil)
	f.repo.failGet = 1 // within the retry budget

	err := f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, f.repo.status())
}

func TestRunNoCaptionsStillReady(t *testing.T) {
	f := newFixture(t, probe.Resolution{Width: 640, Height: 360}, nil)
	f.captions.tracks = nil // generator degraded to nothing

	err := f.orch.Run(context.Background(), f.video.UserID.String(), f.video.StorageKey)
	require.NoError(t, err)

	assert.Equal(t, models.StatusReady, f.repo.status())
	require.Len(t, f.repo.updates, 2)
	assert.Empty(t, f.repo.updates[1].Captions)
}
