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

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
// Implements the Provider interface.
type DeepInfraClient struct {
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3"
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// deepInfraResponse is the JSON response from the DeepInfra inference API.
type deepInfraResponse struct {
	Text     string             `json:"text"`
	Language string             `json:"language"`
	Duration float64            `json:"duration"`
	Segments []deepInfraSegment `json:"segments"`
}

// deepInfraSegment is a segment-level timestamp from DeepInfra.
type deepInfraSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a new DeepInfra inference client.
func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: deepInfraBaseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (di *DeepInfraClient) Name() string { return "deepinfra" }

// Model returns the configured model identifier.
func (di *DeepInfraClient) Model() string { return di.model }

// Transcribe sends an audio file to DeepInfra's inference API and returns the result.
// Uses multipart/form-data with field name "audio" (DeepInfra's convention).
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// DeepInfra uses "audio", not "file"
	part, err := w.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	if opts.Language != "" {
		w.WriteField("language", opts.Language)
	}
	if opts.Temperature > 0 {
		w.WriteField("temperature", fmt.Sprintf("%.2f", opts.Temperature))
	}
	if opts.Prompt != "" {
		w.WriteField("initial_prompt", opts.Prompt)
	}

	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, di.baseURL+di.model, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+di.apiKey)

	resp, err := di.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepinfra request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepinfra API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result deepInfraResponse
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
