package core

import "github.com/quorumlab/quorum/internal/domain"

// Tally is the weighted sum of votes per choice for one topic.
type Tally struct {
	Yes     float64 `json:"yes"`
	No      float64 `json:"no"`
	Abstain float64 `json:"abstain"`
	Total   float64 `json:"total"`
}

// ComputeTally is a full recompute over a topic's vote index. It is
// deliberately not incremental: recomputing tens of votes is cheap and
// removes an entire class of drift bugs.
func ComputeTally(votes map[domain.UserID]domain.Vote) Tally {
	var t Tally
	for _, v := range votes {
		switch v.Choice {
		case domain.ChoiceYes:
			t.Yes += v.Weight
		case domain.ChoiceNo:
			t.No += v.Weight
		case domain.ChoiceAbstain:
			t.Abstain += v.Weight
		}
	}
	t.Total = t.Yes + t.No + t.Abstain
	return t
}

// Percent returns the share of one choice, with an empty tally reading
// as 0% for every bucket.
func (t Tally) Percent(c domain.Choice) float64 {
	if t.Total == 0 {
		return 0
	}
	switch c {
	case domain.ChoiceYes:
		return t.Yes / t.Total * 100
	case domain.ChoiceNo:
		return t.No / t.Total * 100
	case domain.ChoiceAbstain:
		return t.Abstain / t.Total * 100
	}
	return 0
}
