// Package scoring turns confirmations and judged results into a ScoreSummary.
// Everything here is pure: no clocks, no I/O.
package scoring

import (
	"math"
	"sort"

	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// Compute scores one attempt. Every present scorable segment is worth
// domain.SegmentWeight; each of its items is worth weight/totalItems; a
// segment only counts when confirmed. Segments with no items are skipped.
// ComputedAt is left for the caller to stamp.
func Compute(confirmations map[domain.SegmentID]bool, def *domain.ResourceDefinition, results map[domain.SegmentID]domain.ResultSet) domain.ScoreSummary {
	summary := domain.ScoreSummary{
		Breakdown: []domain.BreakdownItem{},
		Results:   map[domain.SegmentID]domain.ResultSet{},
	}

	for _, seg := range def.Scorable() {
		spec, _ := def.Spec(seg)
		confirmed := confirmations[seg]

		var total, correct int
		if seg.IsBinary() {
			total = 1
			if rs, ok := results[seg]; ok && len(rs.Items) > 0 {
				rs = rs.Normalize(1)
				summary.Results[seg] = rs
				correct = rs.CorrectCount()
			} else if confirmed {
				correct = 1
			}
		} else {
			rs, ok := results[seg]
			expected := spec.Items
			if expected == 0 {
				expected = len(rs.Items)
			}
			if expected == 0 {
				continue
			}
			rs.Segment = seg
			rs = rs.Normalize(expected)
			if ok {
				summary.Results[seg] = rs
			}
			total = expected
			correct = rs.CorrectCount()
		}

		item := domain.BreakdownItem{
			Name:         seg,
			Weight:       domain.SegmentWeight,
			TotalItems:   total,
			CorrectItems: correct,
			Confirmed:    confirmed,
		}
		if confirmed {
			item.Contribution = Round2(math.Min(PerItem(total)*float64(correct), domain.SegmentWeight))
		}
		summary.Breakdown = append(summary.Breakdown, item)
		summary.MaxTotal += domain.SegmentWeight
	}

	summary.Total = Total(summary.Breakdown)
	return summary
}

// PerItem is the point value of one item in a segment of totalItems items
func PerItem(totalItems int) float64 {
	if totalItems <= 1 {
		return domain.SegmentWeight
	}
	return domain.SegmentWeight / float64(totalItems)
}

// Total sums contributions, rounded to two decimals
func Total(breakdown []domain.BreakdownItem) float64 {
	var sum float64
	for _, item := range breakdown {
		sum += item.Contribution
	}
	return Round2(sum)
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ElementScores projects a summary into one row per breakdown item
func ElementScores(attemptID string, summary domain.ScoreSummary) []domain.ElementScore {
	rows := make([]domain.ElementScore, 0, len(summary.Breakdown))
	for _, item := range summary.Breakdown {
		rows = append(rows, domain.ElementScore{
			AttemptID:    attemptID,
			Segment:      item.Name,
			TotalItems:   item.TotalItems,
			CorrectItems: item.CorrectItems,
			Points:       item.Contribution,
			Confirmed:    item.Confirmed,
		})
	}
	return rows
}

// ItemScores projects a summary into one row per item. An item earns
// PerItem points when it is correct and its segment was confirmed. The last
// correct item takes the rounding remainder so the rows of a segment sum to
// its contribution.
func ItemScores(attemptID string, summary domain.ScoreSummary) []domain.ItemScore {
	var rows []domain.ItemScore
	for _, item := range summary.Breakdown {
		perItem := Round2(PerItem(item.TotalItems))
		rs, ok := summary.Results[item.Name]
		if !ok {
			// No raw results kept: derive rows from the counts
			rs = domain.ResultSet{Segment: item.Name}
			for i := 0; i < item.TotalItems; i++ {
				rs.Items = append(rs.Items, domain.ItemResult{Index: i, Correct: i < item.CorrectItems})
			}
		}
		items := rs.Normalize(item.TotalItems).Items
		last := -1
		for i, r := range items {
			if r.Correct {
				last = i
			}
		}
		awarded := 0.0
		for i, r := range items {
			row := domain.ItemScore{
				AttemptID: attemptID,
				Segment:   item.Name,
				ItemIndex: r.Index,
				Correct:   r.Correct,
			}
			if r.Correct && item.Confirmed {
				row.Points = perItem
				if i == last {
					row.Points = math.Max(0, Round2(item.Contribution-awarded))
				}
				awarded += row.Points
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// BreakdownFromElements rebuilds a breakdown from persisted element rows,
// for attempts that have no summary snapshot. Rows come back in canonical
// segment order.
func BreakdownFromElements(rows []domain.ElementScore) []domain.BreakdownItem {
	out := make([]domain.BreakdownItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.BreakdownItem{
			Name:         row.Segment,
			Weight:       domain.SegmentWeight,
			TotalItems:   row.TotalItems,
			CorrectItems: row.CorrectItems,
			Contribution: row.Points,
			Confirmed:    row.Confirmed,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return segmentRank(out[i].Name) < segmentRank(out[j].Name)
	})
	return out
}

func segmentRank(seg domain.SegmentID) int {
	for i, s := range domain.CanonicalOrder {
		if s == seg {
			return i
		}
	}
	return len(domain.CanonicalOrder)
}
