package domain

import (
	"fmt"
	"sort"
)

// SegmentID identifies one study or game unit within a resource pipeline
type SegmentID string

const (
	SegmentStudyTimeline     SegmentID = "study_timeline"
	SegmentStudyPresentation SegmentID = "study_presentation"
	SegmentStudyNotes        SegmentID = "study_notes"
	SegmentMnemonicCreator   SegmentID = "mnemonic_creator"
	SegmentMnemonicPractice  SegmentID = "mnemonic_practice"
	SegmentQuiz              SegmentID = "quiz"
	SegmentMatchingLines     SegmentID = "matching_lines"
	SegmentGroupSort         SegmentID = "group_sort"
	SegmentFindTheMatch      SegmentID = "find_the_match"
	SegmentOpenTheBox        SegmentID = "open_the_box"
	SegmentAnagram           SegmentID = "anagram"
	SegmentDebate            SegmentID = "debate"
)

// CanonicalOrder is the fixed presentation order. A resource pipeline is this
// list filtered down to the segments the resource offers.
var CanonicalOrder = []SegmentID{
	SegmentStudyTimeline,
	SegmentStudyPresentation,
	SegmentStudyNotes,
	SegmentMnemonicCreator,
	SegmentMnemonicPractice,
	SegmentQuiz,
	SegmentMatchingLines,
	SegmentGroupSort,
	SegmentFindTheMatch,
	SegmentOpenTheBox,
	SegmentAnagram,
	SegmentDebate,
}

var canonicalIndex = func() map[SegmentID]int {
	idx := make(map[SegmentID]int, len(CanonicalOrder))
	for i, id := range CanonicalOrder {
		idx[id] = i
	}
	return idx
}()

// Valid reports whether the id names a known segment
func (s SegmentID) Valid() bool {
	_, ok := canonicalIndex[s]
	return ok
}

// IsStudy reports whether the segment belongs to the study phase
func (s SegmentID) IsStudy() bool {
	switch s {
	case SegmentStudyTimeline, SegmentStudyPresentation, SegmentStudyNotes, SegmentMnemonicCreator:
		return true
	}
	return false
}

// IsBinary reports whether the segment is scored as a single pass/fail item
func (s SegmentID) IsBinary() bool {
	switch s {
	case SegmentStudyTimeline, SegmentStudyPresentation, SegmentStudyNotes:
		return true
	}
	return false
}

// Scorable reports whether the segment contributes to the score at all.
// mnemonic_creator and debate are presented but never scored.
func (s SegmentID) Scorable() bool {
	switch s {
	case SegmentMnemonicCreator, SegmentDebate:
		return false
	}
	return s.Valid()
}

// ParseSegmentID validates a raw segment name
func ParseSegmentID(raw string) (SegmentID, error) {
	id := SegmentID(raw)
	if !id.Valid() {
		return "", fmt.Errorf("%w: unknown segment %q", ErrInvalidInput, raw)
	}
	return id, nil
}

// OmissionPolicy decides what an explicit skip of a segment costs
type OmissionPolicy string

const (
	// OmitZeroSegment leaves the segment unconfirmed, so it contributes nothing
	OmitZeroSegment OmissionPolicy = "zero_segment"
	// OmitKeepAnswered confirms the segment and scores unanswered items as wrong
	OmitKeepAnswered OmissionPolicy = "keep_answered"
)

// SegmentSpec describes one present segment
type SegmentSpec struct {
	// Items is the expected number of sub-items; 0 means "take it from the results"
	Items    int            `json:"items" yaml:"items"`
	Omission OmissionPolicy `json:"omission,omitempty" yaml:"omission,omitempty"`
}

// ResourceDefinition is the immutable set of segments a resource offers
type ResourceDefinition struct {
	ID       string                    `json:"id"`
	Title    string                    `json:"title,omitempty"`
	Segments map[SegmentID]SegmentSpec `json:"segments"`
}

// NewResourceDefinition builds a definition, rejecting unknown segments
func NewResourceDefinition(id string, segments map[SegmentID]SegmentSpec) (*ResourceDefinition, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: resource id required", ErrInvalidInput)
	}
	copied := make(map[SegmentID]SegmentSpec, len(segments))
	for seg, spec := range segments {
		if !seg.Valid() {
			return nil, fmt.Errorf("%w: unknown segment %q", ErrInvalidInput, seg)
		}
		if spec.Items < 0 {
			return nil, fmt.Errorf("%w: segment %s has negative item count", ErrInvalidInput, seg)
		}
		if spec.Omission == "" {
			spec.Omission = OmitZeroSegment
		}
		copied[seg] = spec
	}
	return &ResourceDefinition{ID: id, Segments: copied}, nil
}

// Has reports whether the segment is present
func (d *ResourceDefinition) Has(seg SegmentID) bool {
	if d == nil {
		return false
	}
	_, ok := d.Segments[seg]
	return ok
}

// Spec returns the spec for a present segment
func (d *ResourceDefinition) Spec(seg SegmentID) (SegmentSpec, bool) {
	if d == nil {
		return SegmentSpec{}, false
	}
	spec, ok := d.Segments[seg]
	return spec, ok
}

// Present returns the present segments in canonical order
func (d *ResourceDefinition) Present() []SegmentID {
	if d == nil {
		return nil
	}
	out := make([]SegmentID, 0, len(d.Segments))
	for seg := range d.Segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool {
		return canonicalIndex[out[i]] < canonicalIndex[out[j]]
	})
	return out
}

// Scorable returns the present, scorable segments in canonical order
func (d *ResourceDefinition) Scorable() []SegmentID {
	var out []SegmentID
	for _, seg := range d.Present() {
		if seg.Scorable() {
			out = append(out, seg)
		}
	}
	return out
}
