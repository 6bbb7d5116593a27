package domain

import (
	"strings"
	"time"
)

// StageID names what is currently shown: a segment, a segment summary
// sub-stage, or the terminal summary
type StageID string

// StageSummary is the terminal stage
const StageSummary StageID = "summary"

const summarySuffix = "_summary"

// SegmentStage returns the stage that presents a segment
func SegmentStage(seg SegmentID) StageID {
	return StageID(seg)
}

// SubSummaryStage returns the summary sub-stage of a segment
func SubSummaryStage(seg SegmentID) StageID {
	return StageID(string(seg) + summarySuffix)
}

// Segment returns the segment a stage belongs to, and whether it is that
// segment's summary sub-stage
func (s StageID) Segment() (SegmentID, bool) {
	if s == StageSummary || s == "" {
		return "", false
	}
	if base, ok := strings.CutSuffix(string(s), summarySuffix); ok && SegmentID(base).Valid() {
		return SegmentID(base), true
	}
	return SegmentID(s), false
}

// Terminal reports whether the stage is the final summary
func (s StageID) Terminal() bool {
	return s == StageSummary
}

// ProgressRecord is the per-(user, resource) progress through a pipeline
type ProgressRecord struct {
	Stage         StageID            `json:"stage"`
	Confirmations map[SegmentID]bool `json:"confirmations"`
	AttemptID     string             `json:"attempt_id,omitempty"`
	AttemptNumber int                `json:"attempt_number,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Confirmed reports whether the learner advanced past a segment
func (p *ProgressRecord) Confirmed(seg SegmentID) bool {
	if p == nil {
		return false
	}
	return p.Confirmations[seg]
}

// ProgressPatch is a merge-patch over a ProgressRecord. Nil fields are left
// untouched; confirmations are merged key by key.
type ProgressPatch struct {
	Stage         *StageID
	Confirmations map[SegmentID]bool
	AttemptID     *string
	AttemptNumber *int
}

// Apply merges the patch into rec (which may be nil) and returns the result
func (p ProgressPatch) Apply(rec *ProgressRecord, now time.Time) *ProgressRecord {
	out := &ProgressRecord{Confirmations: map[SegmentID]bool{}}
	if rec != nil {
		out.Stage = rec.Stage
		out.AttemptID = rec.AttemptID
		out.AttemptNumber = rec.AttemptNumber
		for k, v := range rec.Confirmations {
			out.Confirmations[k] = v
		}
	}
	if p.Stage != nil {
		out.Stage = *p.Stage
	}
	if p.AttemptID != nil {
		out.AttemptID = *p.AttemptID
	}
	if p.AttemptNumber != nil {
		out.AttemptNumber = *p.AttemptNumber
	}
	for k, v := range p.Confirmations {
		out.Confirmations[k] = v
	}
	out.UpdatedAt = now
	return out
}
