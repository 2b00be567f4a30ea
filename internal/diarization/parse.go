package diarization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/snarg/diarist/internal/align"
)

// payload is the JSON shape shared by the service and the script backends.
type payload struct {
	Segments []align.SpeakerTurn `json:"segments"`
	Error    string              `json:"error"`
}

var errNoPayload = errors.New("no JSON object in diarization output")

// parsePayload decodes a diarization payload. Output from scripts may carry
// log lines around the object, so when the whole output is not a payload the
// last line holding one wins, falling back to the span between the first '{'
// and the last '}'. Only objects with a "segments" or "error" key count.
func parsePayload(data []byte) ([]align.SpeakerTurn, error) {
	p, ok := decodePayload(bytes.TrimSpace(data))
	if !ok {
		lines := bytes.Split(data, []byte("\n"))
		for i := len(lines) - 1; i >= 0 && !ok; i-- {
			line := bytes.TrimSpace(lines[i])
			if len(line) > 0 && line[0] == '{' {
				p, ok = decodePayload(line)
			}
		}
	}
	if !ok {
		start := bytes.IndexByte(data, '{')
		end := bytes.LastIndexByte(data, '}')
		if start < 0 || end < start {
			return nil, errNoPayload
		}
		if p, ok = decodePayload(data[start : end+1]); !ok {
			return nil, errNoPayload
		}
	}

	if p.Error != "" {
		return nil, fmt.Errorf("diarization backend: %s", p.Error)
	}
	for i, t := range p.Segments {
		if t.SpeakerID == "" {
			return nil, fmt.Errorf("diarization turn %d has no speaker", i)
		}
	}
	if p.Segments == nil {
		p.Segments = []align.SpeakerTurn{}
	}
	return p.Segments, nil
}

// decodePayload decodes b when it is a JSON object with a "segments" or
// "error" key.
func decodePayload(b []byte) (payload, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return payload{}, false
	}
	_, hasSegments := raw["segments"]
	_, hasError := raw["error"]
	if !hasSegments && !hasError {
		return payload{}, false
	}
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return payload{}, false
	}
	return p, true
}
