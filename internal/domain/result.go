package domain

// ItemResult is one judged answer inside a segment (a question, a pair, a box)
type ItemResult struct {
	Index    int    `json:"index"`
	Correct  bool   `json:"correct"`
	Answered bool   `json:"answered"`
	Prompt   string `json:"prompt,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// ResultSet holds a segment's results as already judged by the segment UI
type ResultSet struct {
	Segment SegmentID    `json:"segment"`
	Items   []ItemResult `json:"items"`
	Omitted bool         `json:"omitted,omitempty"`
}

// Normalize pads a short result set up to expected items. Missing items are
// unanswered and incorrect. Extra items beyond expected are dropped.
func (r ResultSet) Normalize(expected int) ResultSet {
	if expected <= 0 {
		return r
	}
	out := ResultSet{Segment: r.Segment, Omitted: r.Omitted, Items: make([]ItemResult, expected)}
	for i := range out.Items {
		out.Items[i] = ItemResult{Index: i}
	}
	for i, item := range r.Items {
		if i >= expected {
			break
		}
		item.Index = i
		out.Items[i] = item
	}
	return out
}

// CorrectCount returns how many items were answered correctly
func (r ResultSet) CorrectCount() int {
	n := 0
	for _, item := range r.Items {
		if item.Correct {
			n++
		}
	}
	return n
}

// AllCorrect reports whether every item is correct and nothing was omitted
func (r ResultSet) AllCorrect() bool {
	if r.Omitted || len(r.Items) == 0 {
		return false
	}
	for _, item := range r.Items {
		if !item.Correct {
			return false
		}
	}
	return true
}
