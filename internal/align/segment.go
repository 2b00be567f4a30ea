package align

// TranscriptSegment is a timestamped chunk of recognized speech from the STT provider.
type TranscriptSegment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// SpeakerTurn is an interval during which diarization attributes audio to one speaker.
type SpeakerTurn struct {
	Start     float64 `json:"start"` // seconds
	End       float64 `json:"end"`   // seconds
	SpeakerID string  `json:"speaker"`
}

// Diarization is the output of the diarization collaborator. A nil *Diarization
// means diarization was unavailable; a non-nil value with no turns means it ran
// and found nothing.
type Diarization struct {
	Turns []SpeakerTurn `json:"segments"`
}

// LabeledSegment is a transcript segment with formatted timestamps and a resolved speaker.
type LabeledSegment struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

// Speaker labels assigned when diarization cannot name a speaker.
const (
	UnknownSpeaker = "Locuteur_Inconnu"
	MainSpeaker    = "ORATEUR_PRINCIPAL"
)
