// Command diarist-merge aligns a transcript with speaker turns offline and
// prints the labeled result.
//
// Usage:
//
//	diarist-merge -segments <segments.json> [-turns <turns.json>] [-format json|text]
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/snarg/diarist/internal/align"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// output is the JSON shape of a merge, matching the server's /process body.
type output struct {
	Success        bool                   `json:"success"`
	FullTranscript string                 `json:"full_transcript"`
	Speakers       *align.Speakers        `json:"speakers"`
	Segments       []align.LabeledSegment `json:"segments"`
	Mode           align.Mode             `json:"mode"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet("diarist-merge", flag.ContinueOnError)
	fset.SetOutput(stderr)
	var segmentsFile, turnsFile, format string
	fset.StringVar(&segmentsFile, "segments", "", "Transcript segments JSON ({\"segments\":[...]} or an array); - reads stdin")
	fset.StringVar(&turnsFile, "turns", "", "Speaker turns JSON; omit to alternate SPEAKER_00/SPEAKER_01")
	fset.StringVar(&format, "format", "json", "Output format: json|text")
	fset.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s -segments <file> [-turns <file>] [-format json|text]\n\n", filepath.Base(os.Args[0]))
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if segmentsFile == "" {
		fset.Usage()
		return 2
	}
	if segmentsFile == "-" && turnsFile == "-" {
		fmt.Fprintln(stderr, "-segments and -turns cannot both read stdin")
		return 2
	}
	if format != "json" && format != "text" {
		fmt.Fprintln(stderr, "invalid -format:", format)
		return 2
	}

	segData, err := readInput(segmentsFile, stdin)
	if err != nil {
		fmt.Fprintln(stderr, "read segments:", err)
		return 1
	}
	segs, err := decodeSegments(segData)
	if err != nil {
		fmt.Fprintln(stderr, "parse segments:", err)
		return 1
	}

	var d *align.Diarization
	if turnsFile != "" {
		turnData, err := readInput(turnsFile, stdin)
		if err != nil {
			fmt.Fprintln(stderr, "read turns:", err)
			return 1
		}
		if d, err = decodeTurns(turnData); err != nil {
			fmt.Fprintln(stderr, "parse turns:", err)
			return 1
		}
	}

	labeled, mode, _ := align.MergeWithMode(segs, d)
	transcript := align.FormatTranscript(labeled)

	if format == "text" {
		if transcript != "" {
			fmt.Fprintln(stdout, transcript)
		}
		return 0
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{
		Success:        true,
		FullTranscript: transcript,
		Speakers:       align.Aggregate(labeled),
		Segments:       labeled,
		Mode:           mode,
	}); err != nil {
		fmt.Fprintln(stderr, "write output:", err)
		return 1
	}
	return 0
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// decodeSegments accepts a verbose_json transcription object or a bare
// segment array.
func decodeSegments(data []byte) ([]align.TranscriptSegment, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}
	if data[0] == '[' {
		var segs []align.TranscriptSegment
		err := json.Unmarshal(data, &segs)
		return segs, err
	}
	var wrapped struct {
		Segments []align.TranscriptSegment `json:"segments"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Segments, nil
}

// decodeTurns accepts {"segments":[{start,end,speaker}]} or a bare array.
// The result is never nil, so an empty file means diarization ran and found
// no speech.
func decodeTurns(data []byte) (*align.Diarization, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}
	d := &align.Diarization{}
	if data[0] == '[' {
		if err := json.Unmarshal(data, &d.Turns); err != nil {
			return nil, err
		}
		return d, nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	return d, nil
}
