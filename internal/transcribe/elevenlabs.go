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
	"strings"
	"time"

	"github.com/snarg/diarist/internal/align"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// maxWordGap is the silence between two words that closes a segment.
const maxWordGap = 1.0

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API.
// Implements the Provider interface.
type ElevenLabsClient struct {
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// elevenlabsResponse is the JSON response from the ElevenLabs STT API.
type elevenlabsResponse struct {
	LanguageCode        string           `json:"language_code"`
	LanguageProbability float64          `json:"language_probability"`
	Text                string           `json:"text"`
	Words               []elevenlabsWord `json:"words"`
}

// elevenlabsWord is a word or spacing entry from ElevenLabs.
type elevenlabsWord struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"` // "word" or "spacing"
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewElevenLabsClient creates a new ElevenLabs STT client.
func NewElevenLabsClient(apiKey, model string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: elevenLabsSTTEndpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (el *ElevenLabsClient) Name() string { return "elevenlabs" }

// Model returns the configured model identifier.
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe sends an audio file to the ElevenLabs STT API and returns the result.
// Scribe only returns word timestamps, so words are grouped into segments.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
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

	w.WriteField("model_id", el.model)
	if opts.Language != "" {
		w.WriteField("language_code", opts.Language)
	}
	if opts.Temperature > 0 {
		w.WriteField("temperature", fmt.Sprintf("%.2f", opts.Temperature))
	}
	w.WriteField("timestamps_granularity", "word")

	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, el.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", el.apiKey)

	resp, err := el.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var duration float64
	if n := len(result.Words); n > 0 {
		duration = result.Words[n-1].End
	}

	return &Response{
		Text:     result.Text,
		Language: normalizeLanguage(result.LanguageCode),
		Duration: duration,
		Segments: groupWords(result.Words),
	}, nil
}

// groupWords joins word entries into segments. A segment closes after a word
// ending in sentence punctuation, or before a word that starts more than
// maxWordGap seconds after the previous one ended. Spacing entries only
// contribute their text.
func groupWords(words []elevenlabsWord) []align.TranscriptSegment {
	var segs []align.TranscriptSegment
	var b strings.Builder
	var cur align.TranscriptSegment
	open := false

	flush := func() {
		if !open {
			return
		}
		cur.Text = strings.TrimSpace(b.String())
		if cur.Text != "" {
			segs = append(segs, cur)
		}
		b.Reset()
		open = false
	}

	for _, w := range words {
		if w.Type != "word" {
			if open {
				b.WriteString(w.Text)
			}
			continue
		}
		if open && w.Start-cur.End > maxWordGap {
			flush()
		}
		if !open {
			cur = align.TranscriptSegment{Start: w.Start}
			open = true
		}
		b.WriteString(w.Text)
		cur.End = w.End
		if endsSentence(w.Text) {
			flush()
		}
	}
	flush()
	return segs
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"'»)`)
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '?', '!':
		return true
	}
	return strings.HasSuffix(word, "…")
}
