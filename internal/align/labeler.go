package align

// LabelSegment returns the speaker of the first turn containing either the
// segment's start or its end (bounds inclusive). Turns are scanned in the order
// given; overlap size is not considered. Returns UnknownSpeaker when no turn
// matches.
func LabelSegment(seg TranscriptSegment, turns []SpeakerTurn) string {
	for _, t := range turns {
		if contains(t, seg.Start) || contains(t, seg.End) {
			return t.SpeakerID
		}
	}
	return UnknownSpeaker
}

func contains(t SpeakerTurn, at float64) bool {
	return t.Start <= at && at <= t.End
}

// labelFor resolves a segment's speaker under the given mode.
func labelFor(i int, seg TranscriptSegment, mode Mode, d *Diarization) string {
	switch mode {
	case ModeAlternating:
		return alternatingLabel(i)
	case ModeSingleSpeaker:
		return MainSpeaker
	default:
		return LabelSegment(seg, d.Turns)
	}
}
