// Package sequencer is the stage state machine. The pipeline is derived from a
// ResourceDefinition; the current position lives in the progress store and is
// always written before a directive is returned.
package sequencer

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/progress"
)

// Continuation labels
const (
	LabelContinue = "Continue"
	LabelFinish   = "Finish"
)

// Directive tells the UI what to render next
type Directive struct {
	Stage      domain.StageID   `json:"stage"`
	Segment    domain.SegmentID `json:"segment,omitempty"`
	SubSummary bool             `json:"sub_summary,omitempty"`
	Label      string           `json:"label,omitempty"`
	Terminal   bool             `json:"terminal"`
	Position   int              `json:"position"`
	Total      int              `json:"total"`
}

// Completion reports that the learner pressed continue on the current stage
type Completion struct {
	// Stage the learner was looking at; empty means "whatever is current"
	Stage  domain.StageID
	Result *domain.ResultSet
}

// Sequencer drives a learner through a resource pipeline
type Sequencer struct {
	progress progress.Store
}

// New creates a sequencer persisting through store
func New(store progress.Store) *Sequencer {
	return &Sequencer{progress: store}
}

// Pipeline returns the segments of def in presentation order
func Pipeline(def *domain.ResourceDefinition) []domain.SegmentID {
	return def.Present()
}

// Start positions the learner on the first stage
func (s *Sequencer) Start(ctx context.Context, userID string, def *domain.ResourceDefinition) (Directive, error) {
	first := firstStage(def)
	if _, err := s.progress.Save(ctx, userID, def.ID, domain.ProgressPatch{Stage: &first}); err != nil {
		return Directive{}, fmt.Errorf("start pipeline: %w", err)
	}
	return DirectiveFor(def, first), nil
}

// Current returns the directive for the stored stage. A missing, unreadable
// or stale record puts the learner back on the first stage.
func (s *Sequencer) Current(ctx context.Context, userID string, def *domain.ResourceDefinition) (Directive, error) {
	rec, err := s.progress.Get(ctx, userID, def.ID)
	if err != nil {
		return Directive{}, fmt.Errorf("read progress: %w", err)
	}
	if rec != nil && knownStage(def, rec.Stage) {
		return DirectiveFor(def, rec.Stage), nil
	}
	return s.Start(ctx, userID, def)
}

// Advance confirms the current stage and moves to the next one
func (s *Sequencer) Advance(ctx context.Context, userID string, def *domain.ResourceDefinition, c Completion) (Directive, error) {
	rec, err := s.progress.Get(ctx, userID, def.ID)
	if err != nil {
		return Directive{}, fmt.Errorf("read progress: %w", err)
	}
	current := firstStage(def)
	if rec != nil && knownStage(def, rec.Stage) {
		current = rec.Stage
	}
	if current.Terminal() {
		return Directive{}, domain.ErrStageTerminal
	}
	if c.Stage != "" && c.Stage != current {
		return Directive{}, fmt.Errorf("%w: completed %s but current stage is %s", domain.ErrConflict, c.Stage, current)
	}

	seg, sub := current.Segment()
	patch := domain.ProgressPatch{}
	var next domain.StageID
	if sub {
		next = stageAfter(def, seg)
	} else {
		spec, _ := def.Spec(seg)
		patch.Confirmations = map[domain.SegmentID]bool{seg: confirms(spec, c.Result)}
		if hasSubSummary(seg, c.Result) {
			next = domain.SubSummaryStage(seg)
		} else {
			next = stageAfter(def, seg)
		}
	}
	patch.Stage = &next

	if _, err := s.progress.Save(ctx, userID, def.ID, patch); err != nil {
		return Directive{}, fmt.Errorf("save progress: %w", err)
	}
	return DirectiveFor(def, next), nil
}

// DirectiveFor describes a stage of def
func DirectiveFor(def *domain.ResourceDefinition, stage domain.StageID) Directive {
	pipeline := Pipeline(def)
	d := Directive{Stage: stage, Total: len(pipeline)}
	if stage.Terminal() {
		d.Terminal = true
		d.Position = len(pipeline) + 1
		return d
	}
	seg, sub := stage.Segment()
	d.Segment = seg
	d.SubSummary = sub
	d.Position = indexOf(pipeline, seg) + 1
	d.Label = LabelContinue
	if stageAfter(def, seg).Terminal() {
		d.Label = LabelFinish
	}
	return d
}

// confirms decides whether continuing past a segment locks in its results.
// An explicit skip only counts when the segment keeps answered items.
func confirms(spec domain.SegmentSpec, rs *domain.ResultSet) bool {
	if rs == nil || !rs.Omitted {
		return true
	}
	return spec.Omission == domain.OmitKeepAnswered
}

// hasSubSummary reports whether a segment routes through its own summary
// sub-stage. find_the_match only does so when something went wrong.
func hasSubSummary(seg domain.SegmentID, rs *domain.ResultSet) bool {
	switch seg {
	case domain.SegmentMatchingLines, domain.SegmentGroupSort, domain.SegmentAnagram:
		return true
	case domain.SegmentFindTheMatch:
		return rs == nil || !rs.AllCorrect()
	}
	return false
}

func firstStage(def *domain.ResourceDefinition) domain.StageID {
	pipeline := Pipeline(def)
	if len(pipeline) == 0 {
		return domain.StageSummary
	}
	return domain.SegmentStage(pipeline[0])
}

func stageAfter(def *domain.ResourceDefinition, seg domain.SegmentID) domain.StageID {
	pipeline := Pipeline(def)
	i := indexOf(pipeline, seg)
	if i < 0 || i+1 >= len(pipeline) {
		return domain.StageSummary
	}
	return domain.SegmentStage(pipeline[i+1])
}

func knownStage(def *domain.ResourceDefinition, stage domain.StageID) bool {
	if stage.Terminal() {
		return true
	}
	seg, sub := stage.Segment()
	if !def.Has(seg) {
		return false
	}
	if sub {
		return seg == domain.SegmentMatchingLines || seg == domain.SegmentGroupSort ||
			seg == domain.SegmentAnagram || seg == domain.SegmentFindTheMatch
	}
	return true
}

func indexOf(pipeline []domain.SegmentID, seg domain.SegmentID) int {
	for i, s := range pipeline {
		if s == seg {
			return i
		}
	}
	return -1
}
