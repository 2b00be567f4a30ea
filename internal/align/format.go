package align

import (
	"fmt"
	"strings"
)

// FormatTranscript renders one "[start - end] speaker: text" line per segment,
// newline separated, without a trailing newline.
func FormatTranscript(labeled []LabeledSegment) string {
	lines := make([]string, len(labeled))
	for i, seg := range labeled {
		lines[i] = fmt.Sprintf("[%s - %s] %s: %s", seg.Start, seg.End, seg.Speaker, seg.Text)
	}
	return strings.Join(lines, "\n")
}
