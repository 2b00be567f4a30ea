package diarization

import (
	"bytes"
	"context"
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

// ServiceClient calls an HTTP diarization service wrapping pyannote.
//
//	POST {base}/diarize  multipart "file" -> {"segments":[{"start","end","speaker"}]}
//	GET  {base}/health   200 when the pipeline is loaded
type ServiceClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewServiceClient creates a client for the service at baseURL. token, when
// set, is sent as a bearer token.
func NewServiceClient(baseURL, token string, timeout time.Duration) *ServiceClient {
	return &ServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name.
func (sc *ServiceClient) Name() string { return "service" }

// Diarize uploads the audio file and returns the speaker turns.
func (sc *ServiceClient) Diarize(ctx context.Context, audioPath string) ([]align.SpeakerTurn, error) {
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
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.baseURL+"/diarize", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	sc.authorize(req)

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diarization request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diarization service error (status %d): %s", resp.StatusCode, string(body))
	}

	return parsePayload(body)
}

// Check calls the service health endpoint.
func (sc *ServiceClient) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	sc.authorize(req)

	resp, err := sc.client.Do(req)
	if err != nil {
		return fmt.Errorf("diarization health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("diarization health: status %d", resp.StatusCode)
	}
	return nil
}

func (sc *ServiceClient) authorize(req *http.Request) {
	if sc.token != "" {
		req.Header.Set("Authorization", "Bearer "+sc.token)
	}
}
