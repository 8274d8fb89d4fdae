// Package captions produces multilingual subtitle tracks from a video's
// audio via a speech-to-text service.
package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Segment is one timed span of transcribed speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the result of one transcription call.
type Transcription struct {
	Language string    `json:"language"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Transcriber calls a Whisper-compatible transcription API.
type Transcriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewTranscriber creates a transcription client.
func NewTranscriber(baseURL, apiKey, model string, timeout time.Duration) *Transcriber {
	if model == "" {
		model = "whisper-1"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Transcriber{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Transcribe submits the audio file and returns the timed transcript.
// languageHint may be empty, in which case the service detects the
// spoken language and reports it in the result.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, languageHint string) (*Transcription, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("multipart file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio: %w", err)
	}
	_ = mw.WriteField("model", t.model)
	_ = mw.WriteField("response_format", "verbose_json")
	_ = mw.WriteField("timestamp_granularities[]", "segment")
	if languageHint != "" {
		_ = mw.WriteField("language", languageHint)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transcription status %d: %s", resp.StatusCode, msg)
	}

	var out Transcription
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	return &out, nil
}
