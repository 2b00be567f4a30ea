package align

import (
	"fmt"
	"strings"
)

// Merge labels every transcript segment with a speaker. The output has the same
// length and order as segs. A nil d selects the alternating fallback.
func Merge(segs []TranscriptSegment, d *Diarization) []LabeledSegment {
	labeled, _, _ := MergeWithMode(segs, d)
	return labeled
}

// MergeWithMode is Merge that also reports the mode and distinct speaker ids
// the policy decided on.
func MergeWithMode(segs []TranscriptSegment, d *Diarization) ([]LabeledSegment, Mode, []string) {
	mode, ids := DecideMode(d)

	labeled := make([]LabeledSegment, len(segs))
	for i, seg := range segs {
		labeled[i] = LabeledSegment{
			Start:   FormatClock(truncSeconds(seg.Start)),
			End:     FormatClock(truncSeconds(seg.End)),
			Text:    strings.TrimSpace(seg.Text),
			Speaker: labelFor(i, seg, mode, d),
		}
	}
	return labeled, mode, ids
}

func alternatingLabel(i int) string {
	return fmt.Sprintf("SPEAKER_%02d", i%2)
}

// truncSeconds drops the fractional part, rounding toward zero.
func truncSeconds(s float64) int64 {
	return int64(s)
}
