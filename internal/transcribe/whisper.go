package transcribe

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

	"github.com/snarg/diarist/internal/align"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type WhisperClient struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

// whisperResponse is the verbose_json body returned by the endpoint.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:     url,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends an audio file to the Whisper API and returns segment-level
// timestamps. Works with speaches, faster-whisper-server, whisper.cpp's server
// or OpenAI itself.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}

	// No language field means the server auto-detects.
	if opts.Language != "" {
		w.WriteField("language", opts.Language)
	}

	w.WriteField("temperature", fmt.Sprintf("%.2f", opts.Temperature))
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")

	if opts.Prompt != "" {
		w.WriteField("prompt", opts.Prompt)
	}

	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	segments := make([]align.TranscriptSegment, len(result.Segments))
	for i, s := range result.Segments {
		segments[i] = align.TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text}
	}

	lang := result.Language
	if lang == "" {
		lang = opts.Language
	}

	return &Response{
		Text:     result.Text,
		Language: normalizeLanguage(lang),
		Duration: result.Duration,
		Segments: segments,
	}, nil
}
