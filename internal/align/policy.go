package align

// Mode is the labeling strategy chosen from the diarization output.
type Mode string

const (
	// ModeAlternating assigns SPEAKER_00/SPEAKER_01 by position when no
	// diarization is available, assuming a two-party conversation.
	ModeAlternating Mode = "alternating_fallback"
	// ModeSingleSpeaker labels every segment ORATEUR_PRINCIPAL.
	ModeSingleSpeaker Mode = "single_speaker"
	// ModeMultiSpeaker looks each segment up in the speaker turns.
	ModeMultiSpeaker Mode = "multi_speaker"
)

// DecideMode picks the labeling mode and returns the distinct speaker ids in
// first-seen turn order.
//
// Diarization that ran but produced no turns yields ModeMultiSpeaker with zero
// speakers, so every segment resolves to UnknownSpeaker.
func DecideMode(d *Diarization) (Mode, []string) {
	if d == nil {
		return ModeAlternating, nil
	}

	seen := make(map[string]bool, len(d.Turns))
	var ids []string
	for _, t := range d.Turns {
		if seen[t.SpeakerID] {
			continue
		}
		seen[t.SpeakerID] = true
		ids = append(ids, t.SpeakerID)
	}

	if len(ids) == 1 {
		return ModeSingleSpeaker, ids
	}
	return ModeMultiSpeaker, ids
}
