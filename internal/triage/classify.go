package triage

import "encoding/json"

// Classification is the validated output of the external classification
// capability. Fields the upstream failed to produce, or produced with
// the wrong type, hold their neutral zero value.
type Classification struct {
	IsQuestion bool           `json:"is_question"`
	NeedsReply bool           `json:"needs_reply"`
	Followup   bool           `json:"followup"`
	Urgency    float64        `json:"urgency_score"`
	Topics     []string       `json:"topics,omitempty"`
	Entities   map[string]any `json:"entities,omitempty"`
	Sentiment  float64        `json:"sentiment"`
}

// ParseClassification decodes raw model output into a Classification.
// It never fails: malformed JSON, missing fields, and wrongly typed
// fields all degrade to neutral values, and unknown fields are dropped.
// Upstream typing is never trusted.
func ParseClassification(raw []byte) *Classification {
	var c Classification

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &c
	}

	c.IsQuestion = boolField(fields, "is_question")
	c.NeedsReply = boolField(fields, "needs_reply")
	c.Followup = boolField(fields, "followup")
	c.Urgency = clamp(numField(fields, "urgency_score"), 0, 1)
	c.Sentiment = clamp(numField(fields, "sentiment"), -1, 1)

	if raw, ok := fields["topics"]; ok {
		var topics []string
		if err := json.Unmarshal(raw, &topics); err == nil {
			c.Topics = topics
		}
	}
	if raw, ok := fields["entities"]; ok {
		var entities map[string]any
		if err := json.Unmarshal(raw, &entities); err == nil {
			c.Entities = entities
		}
	}

	return &c
}

func boolField(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v
}

func numField(fields map[string]json.RawMessage, key string) float64 {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
