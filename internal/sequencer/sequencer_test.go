package sequencer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/progress"
)

func newSequencer() (*Sequencer, progress.Store) {
	store := progress.NewCacheStore(cache.NewMemory())
	return New(store), store
}

func fullDefinition(t *testing.T) *domain.ResourceDefinition {
	t.Helper()
	segs := map[domain.SegmentID]domain.SegmentSpec{}
	for _, seg := range domain.CanonicalOrder {
		segs[seg] = domain.SegmentSpec{Items: 2}
	}
	def, err := domain.NewResourceDefinition("res-1", segs)
	require.NoError(t, err)
	return def
}

func allCorrect(seg domain.SegmentID, n int) *domain.ResultSet {
	rs := &domain.ResultSet{Segment: seg}
	for i := 0; i < n; i++ {
		rs.Items = append(rs.Items, domain.ItemResult{Index: i, Answered: true, Correct: true})
	}
	return rs
}

func TestSequencer_FullPipeline(t *testing.T) {
	ctx := context.Background()
	seq, store := newSequencer()
	def := fullDefinition(t)

	d, err := seq.Start(ctx, "u", def)
	require.NoError(t, err)

	var visited []domain.StageID
	for !d.Terminal {
		visited = append(visited, d.Stage)
		var result *domain.ResultSet
		if !d.SubSummary {
			result = allCorrect(d.Segment, 2)
		}
		d, err = seq.Advance(ctx, "u", def, Completion{Stage: d.Stage, Result: result})
		require.NoError(t, err)
	}

	want := []domain.StageID{
		"study_timeline", "study_presentation", "study_notes", "mnemonic_creator",
		"mnemonic_practice", "quiz",
		"matching_lines", "matching_lines_summary",
		"group_sort", "group_sort_summary",
		"find_the_match",
		"open_the_box",
		"anagram", "anagram_summary",
		"debate",
	}
	assert.Equal(t, want, visited)
	assert.Equal(t, domain.StageSummary, d.Stage)

	rec, err := store.Get(ctx, "u", "res-1")
	require.NoError(t, err)
	for _, seg := range domain.CanonicalOrder {
		assert.True(t, rec.Confirmed(seg), "segment %s should be confirmed", seg)
	}
}

func TestSequencer_PipelineFiltersAbsentSegments(t *testing.T) {
	def, err := domain.NewResourceDefinition("res-2", map[domain.SegmentID]domain.SegmentSpec{
		domain.SegmentAnagram:      {Items: 1},
		domain.SegmentStudyNotes:   {},
		domain.SegmentQuiz:         {Items: 3},
		domain.SegmentOpenTheBox:   {Items: 3},
		domain.SegmentFindTheMatch: {Items: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.SegmentID{
		domain.SegmentStudyNotes, domain.SegmentQuiz, domain.SegmentFindTheMatch,
		domain.SegmentOpenTheBox, domain.SegmentAnagram,
	}, Pipeline(def))
}

func TestSequencer_FindTheMatchSummary(t *testing.T) {
	def, err := domain.NewResourceDefinition("res-3", map[domain.SegmentID]domain.SegmentSpec{
		domain.SegmentFindTheMatch: {Items: 2},
		domain.SegmentDebate:       {},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		result *domain.ResultSet
		want   domain.StageID
	}{
		{"all correct skips summary", allCorrect(domain.SegmentFindTheMatch, 2), domain.SegmentStage(domain.SegmentDebate)},
		{"wrong pair routes through summary", &domain.ResultSet{Items: []domain.ItemResult{{Correct: true}, {Correct: false}}}, "find_the_match_summary"},
		{"omitted routes through summary", &domain.ResultSet{Items: allCorrect(domain.SegmentFindTheMatch, 2).Items, Omitted: true}, "find_the_match_summary"},
		{"no result routes through summary", nil, "find_the_match_summary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			seq, _ := newSequencer()
			_, err := seq.Start(ctx, "u", def)
			require.NoError(t, err)

			d, err := seq.Advance(ctx, "u", def, Completion{Result: tt.result})
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Stage)
		})
	}
}

func TestSequencer_QuizAndOpenTheBoxHaveNoSubSummary(t *testing.T) {
	ctx := context.Background()
	def, err := domain.NewResourceDefinition("res-4", map[domain.SegmentID]domain.SegmentSpec{
		domain.SegmentQuiz:       {Items: 1},
		domain.SegmentOpenTheBox: {Items: 1},
	})
	require.NoError(t, err)
	seq, _ := newSequencer()

	_, err = seq.Start(ctx, "u", def)
	require.NoError(t, err)
	d, err := seq.Advance(ctx, "u", def, Completion{Result: allCorrect(domain.SegmentQuiz, 1)})
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentStage(domain.SegmentOpenTheBox), d.Stage)

	d, err = seq.Advance(ctx, "u", def, Completion{Result: &domain.ResultSet{}})
	require.NoError(t, err)
	assert.True(t, d.Terminal)
}

func TestSequencer_Labels(t *testing.T) {
	def, err := domain.NewResourceDefinition("res-5", map[domain.SegmentID]domain.SegmentSpec{
		domain.SegmentQuiz:    {Items: 1},
		domain.SegmentAnagram: {Items: 1},
	})
	require.NoError(t, err)

	tests := []struct {
		stage domain.StageID
		label string
		pos   int
	}{
		{"quiz", LabelContinue, 1},
		{"anagram", LabelFinish, 2},
		{"anagram_summary", LabelFinish, 2},
	}
	for _, tt := range tests {
		d := DirectiveFor(def, tt.stage)
		if d.Label != tt.label {
			t.Errorf("DirectiveFor(%s).Label = %q; want %q", tt.stage, d.Label, tt.label)
		}
		if d.Position != tt.pos || d.Total != 2 {
			t.Errorf("DirectiveFor(%s) position = %d/%d; want %d/2", tt.stage, d.Position, d.Total, tt.pos)
		}
	}

	summary := DirectiveFor(def, domain.StageSummary)
	assert.True(t, summary.Terminal)
	assert.Empty(t, summary.Label)
}

func TestSequencer_OmissionPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    domain.OmissionPolicy
		confirmed bool
	}{
		{"zero segment", domain.OmitZeroSegment, false},
		{"keep answered", domain.OmitKeepAnswered, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			def, err := domain.NewResourceDefinition("res-6", map[domain.SegmentID]domain.SegmentSpec{
				domain.SegmentQuiz: {Items: 4, Omission: tt.policy},
			})
			require.NoError(t, err)
			seq, store := newSequencer()
			_, err = seq.Start(ctx, "u", def)
			require.NoError(t, err)

			_, err = seq.Advance(ctx, "u", def, Completion{Result: &domain.ResultSet{Omitted: true}})
			require.NoError(t, err)

			rec, err := store.Get(ctx, "u", "res-6")
			require.NoError(t, err)
			assert.Equal(t, tt.confirmed, rec.Confirmed(domain.SegmentQuiz))
		})
	}
}

func TestSequencer_TerminalCannotAdvance(t *testing.T) {
	ctx := context.Background()
	def, err := domain.NewResourceDefinition("res-7", map[domain.SegmentID]domain.SegmentSpec{})
	require.NoError(t, err)
	seq, _ := newSequencer()

	d, err := seq.Start(ctx, "u", def)
	require.NoError(t, err)
	assert.True(t, d.Terminal)

	_, err = seq.Advance(ctx, "u", def, Completion{})
	assert.True(t, errors.Is(err, domain.ErrStageTerminal), "err = %v", err)
}

func TestSequencer_StaleCompletionIsRejected(t *testing.T) {
	ctx := context.Background()
	def := fullDefinition(t)
	seq, _ := newSequencer()
	_, err := seq.Start(ctx, "u", def)
	require.NoError(t, err)

	_, err = seq.Advance(ctx, "u", def, Completion{Stage: "quiz"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestSequencer_CurrentWithoutProgressStartsOver(t *testing.T) {
	ctx := context.Background()
	def := fullDefinition(t)
	mem := cache.NewMemory()
	mem.PutRaw(cache.ProgressKey("u", "res-1"), []byte("garbage"))
	seq := New(progress.NewCacheStore(mem))

	d, err := seq.Current(ctx, "u", def)
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentStage(domain.SegmentStudyTimeline), d.Stage)
	assert.Equal(t, 1, d.Position)
}

func TestSequencer_CurrentIgnoresUnknownStage(t *testing.T) {
	ctx := context.Background()
	def, err := domain.NewResourceDefinition("res-8", map[domain.SegmentID]domain.SegmentSpec{
		domain.SegmentQuiz: {Items: 1},
	})
	require.NoError(t, err)
	seq, store := newSequencer()
	stale := domain.StageID("group_sort")
	_, err = store.Save(ctx, "u", "res-8", domain.ProgressPatch{Stage: &stale})
	require.NoError(t, err)

	d, err := seq.Current(ctx, "u", def)
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentStage(domain.SegmentQuiz), d.Stage)
}
