package triage

import (
	"math"
	"sort"
	"time"
)

// Weights are the score coefficients for review ranking. Status flags
// outweigh the model's raw urgency on purpose: "still outstanding"
// matters more than the model's confidence.
type Weights struct {
	Question  float64
	Followup  float64
	Urgency   float64
	Unreplied float64
	Recency   float64
}

// DefaultWeights returns the standard ranking coefficients.
func DefaultWeights() Weights {
	return Weights{
		Question:  3,
		Followup:  2,
		Urgency:   1.5,
		Unreplied: 2,
		Recency:   1,
	}
}

// Candidate pairs a message with its follow-up row, if one exists.
type Candidate struct {
	Message  Message
	Followup *Followup
}

// RankedItem is one entry of the review queue.
type RankedItem struct {
	Message  Message   `json:"message"`
	Followup *Followup `json:"followup,omitempty"`
	Score    float64   `json:"score"`
}

// Score computes the relevance score for one message at the given
// instant. Unset metadata counts as false/zero. Age contributes
// e^(-age_days), with age clamped to non-negative.
func (w Weights) Score(m *Message, now time.Time) float64 {
	var s float64
	if m.IsQuestion != nil && *m.IsQuestion {
		s += w.Question
	}
	if m.Followup != nil && *m.Followup {
		s += w.Followup
	}
	if m.Urgency != nil {
		s += w.Urgency * *m.Urgency
	}
	if !m.Replied {
		s += w.Unreplied
	}

	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	s += w.Recency * math.Exp(-ageDays)

	return s
}

// Rank orders candidates by descending score and returns the top k.
// Candidates snoozed past now are excluded: that is what snoozing is
// for. Ties break toward the more recent created_at, so the order is
// deterministic for a fixed input set and instant.
func Rank(cands []Candidate, now time.Time, w Weights, k int) []RankedItem {
	items := make([]RankedItem, 0, len(cands))
	for _, c := range cands {
		if c.Followup != nil && c.Followup.Status == FollowupOpen &&
			c.Followup.DueAt != nil && c.Followup.DueAt.After(now) {
			continue
		}
		items = append(items, RankedItem{
			Message:  c.Message,
			Followup: c.Followup,
			Score:    w.Score(&c.Message, now),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Message.CreatedAt.After(items[j].Message.CreatedAt)
	})

	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}
