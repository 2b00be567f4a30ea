package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const segmentsJSON = `{"text":"Bonjour Salut","language":"fr","segments":[
  {"start":0.0,"end":2.5,"text":" Bonjour "},
  {"start":3.0,"end":5.2,"text":"Salut"}
]}`

func TestRun_Text(t *testing.T) {
	segs := writeTemp(t, "segs.json", segmentsJSON)
	turns := writeTemp(t, "turns.json", `{"segments":[{"start":0,"end":2.8,"speaker":"A"},{"start":2.9,"end":6,"speaker":"B"}]}`)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-segments", segs, "-turns", turns, "-format", "text"}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	want := "[0:00:00 - 0:00:02] A: Bonjour\n[0:00:03 - 0:00:05] B: Salut\n"
	if stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestRun_JSONAlternating(t *testing.T) {
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader(`[{"start":0,"end":1,"text":"un"},{"start":1,"end":2,"text":"deux"},{"start":2,"end":3,"text":"trois"}]`)
	code := run([]string{"-segments", "-"}, stdin, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}

	var out struct {
		Success  bool                       `json:"success"`
		Mode     string                     `json:"mode"`
		Speakers map[string]json.RawMessage `json:"speakers"`
		Segments []struct {
			Speaker string `json:"speaker"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout.String())
	}
	if !out.Success || out.Mode != "alternating_fallback" {
		t.Errorf("success=%v mode=%q", out.Success, out.Mode)
	}
	var got []string
	for _, s := range out.Segments {
		got = append(got, s.Speaker)
	}
	if strings.Join(got, ",") != "SPEAKER_00,SPEAKER_01,SPEAKER_00" {
		t.Errorf("speakers = %v", got)
	}
	if len(out.Speakers) != 2 {
		t.Errorf("len(speakers) = %d, want 2", len(out.Speakers))
	}
}

func TestRun_EmptyTurnsArray(t *testing.T) {
	segs := writeTemp(t, "segs.json", segmentsJSON)
	turns := writeTemp(t, "turns.json", `[]`)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-segments", segs, "-turns", turns, "-format", "text"}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if strings.Count(stdout.String(), "Locuteur_Inconnu") != 2 {
		t.Errorf("stdout = %q, want every segment unknown", stdout.String())
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no_segments", nil, 2},
		{"bad_format", []string{"-segments", "x.json", "-format", "srt"}, 2},
		{"missing_file", []string{"-segments", filepath.Join(t.TempDir(), "nope.json")}, 1},
		{"bad_json", []string{"-segments", writeTemp(t, "bad.json", "{not json")}, 1},
		{"unknown_flag", []string{"-bogus"}, 2},
		{"both_stdin", []string{"-segments", "-", "-turns", "-"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, nil, &stdout, &stderr); code != tt.code {
				t.Errorf("exit = %d, want %d (stderr %q)", code, tt.code, stderr.String())
			}
			if stdout.Len() != 0 {
				t.Errorf("unexpected stdout %q", stdout.String())
			}
		})
	}
}
