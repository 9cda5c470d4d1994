package models

// Statistics summarizes a user's progress for one item kind
type Statistics struct {
	Kind        ItemKind `json:"kind"`
	Total       int      `json:"total"`
	Seen        int      `json:"seen"`
	Learning    int      `json:"learning"`
	Learned     int      `json:"learned"`
	Due         int      `json:"due"`
	AvgEasiness float64  `json:"avgEasinessFactor"`
}
