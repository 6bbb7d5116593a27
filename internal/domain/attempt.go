package domain

import "time"

// SegmentWeight is the fixed number of points every present scorable segment is worth
const SegmentWeight = 20.0

// Attempt is one full pass through a resource pipeline
type Attempt struct {
	ID              string          `json:"id,omitempty"`
	ResourceID      string          `json:"resource_id"`
	UserID          string          `json:"user_id"`
	AttemptNumber   int             `json:"attempt_number"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	FinalScore      *float64        `json:"final_score,omitempty"`
	Breakdown       []BreakdownItem `json:"breakdown,omitempty"`
	SummarySnapshot *ScoreSummary   `json:"summary_snapshot,omitempty"`
}

// BreakdownItem is the scored contribution of one segment within one attempt
type BreakdownItem struct {
	Name         SegmentID `json:"name"`
	Weight       float64   `json:"weight"`
	TotalItems   int       `json:"total_items"`
	CorrectItems int       `json:"correct_items"`
	Contribution float64   `json:"contribution"`
	Confirmed    bool      `json:"confirmed"`
}

// ScoreSummary is the total plus breakdown and raw results of one attempt
type ScoreSummary struct {
	Total      float64                 `json:"total"`
	MaxTotal   float64                 `json:"max_total"`
	Breakdown  []BreakdownItem         `json:"breakdown"`
	Results    map[SegmentID]ResultSet `json:"results,omitempty"`
	ComputedAt time.Time               `json:"computed_at"`
}

// ProgressPercent is the share of scorable segments the learner confirmed
func (s *ScoreSummary) ProgressPercent() float64 {
	if s == nil || len(s.Breakdown) == 0 {
		return 0
	}
	confirmed := 0
	for _, item := range s.Breakdown {
		if item.Confirmed {
			confirmed++
		}
	}
	return float64(confirmed) * 100 / float64(len(s.Breakdown))
}

// ScoreRecord is the primary per-attempt score row
type ScoreRecord struct {
	AttemptID   string    `json:"attempt_id"`
	ResourceID  string    `json:"resource_id"`
	UserID      string    `json:"user_id"`
	Score       float64   `json:"score"`
	ProgressPct *float64  `json:"progress_pct,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ElementScore is the analytics projection of one BreakdownItem
type ElementScore struct {
	AttemptID    string    `json:"attempt_id"`
	Segment      SegmentID `json:"segment"`
	TotalItems   int       `json:"total_items"`
	CorrectItems int       `json:"correct_items"`
	Points       float64   `json:"points"`
	Confirmed    bool      `json:"confirmed"`
}

// ItemScore is the analytics projection of one item inside a segment
type ItemScore struct {
	AttemptID string    `json:"attempt_id"`
	Segment   SegmentID `json:"segment"`
	ItemIndex int       `json:"item_index"`
	Correct   bool      `json:"correct"`
	Points    float64   `json:"points"`
}

// RankingEntry is a derived per-user total; never stored
type RankingEntry struct {
	UserID     string    `json:"user_id"`
	TotalScore float64   `json:"total_score"`
	ReachedAt  time.Time `json:"reached_at"`
}
