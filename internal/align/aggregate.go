package align

import (
	"bytes"
	"encoding/json"
)

// SpeakerSummary collects one speaker's segments and speaking time.
type SpeakerSummary struct {
	Segments      []LabeledSegment `json:"segments"`
	TotalDuration int64            `json:"total_duration"` // seconds
	Duration      string           `json:"duration"`
}

// Speakers maps speaker ids to summaries, iterating in first-appearance order.
type Speakers struct {
	order []string
	byID  map[string]*SpeakerSummary
}

// Len returns the number of distinct speakers.
func (s *Speakers) Len() int { return len(s.order) }

// IDs returns speaker ids in first-appearance order.
func (s *Speakers) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Get returns the summary for a speaker, or nil.
func (s *Speakers) Get(id string) *SpeakerSummary {
	return s.byID[id]
}

// MarshalJSON encodes the speakers as a JSON object with keys in
// first-appearance order.
func (s *Speakers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.byID[id])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Aggregate groups labeled segments by speaker. Each segment contributes the
// difference of its re-parsed start/end clocks, so totals are sums of
// whole-second deltas rather than true durations.
func Aggregate(labeled []LabeledSegment) *Speakers {
	s := &Speakers{byID: make(map[string]*SpeakerSummary)}

	for _, seg := range labeled {
		sum, ok := s.byID[seg.Speaker]
		if !ok {
			sum = &SpeakerSummary{Segments: []LabeledSegment{}}
			s.byID[seg.Speaker] = sum
			s.order = append(s.order, seg.Speaker)
		}
		sum.Segments = append(sum.Segments, seg)
		sum.TotalDuration += clockDelta(seg.Start, seg.End)
	}

	for _, sum := range s.byID {
		sum.Duration = FormatClock(sum.TotalDuration)
	}
	return s
}

// clockDelta returns end-start in seconds, or 0 when either clock is malformed.
func clockDelta(start, end string) int64 {
	a, err := ParseClock(start)
	if err != nil {
		return 0
	}
	b, err := ParseClock(end)
	if err != nil {
		return 0
	}
	return b - a
}
