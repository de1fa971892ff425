package model

import "time"

// Rule is one entry in the Rulebook. Rules are created by the Learner (or by
// a manual file edit) and are only ever mutated by the Learner — confidence
// decay on Weaken, or outright removal.
type Rule struct {
	ID          string    `json:"id"`
	Pattern     string    `json:"pattern"`
	ThreatType  string    `json:"threat_type"`
	Confidence  float64   `json:"confidence"`
	Action      string    `json:"action"` // "block" | "flag"
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Rulebook is the versioned, ordered sequence of Rules the Judge consults.
// It has a single writer (the Learner, via the Rulebook Store); the Judge and
// the hot-reload watcher only ever read it.
type Rulebook struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Rules     []Rule    `json:"rules"`
}

// NewRulebook returns the default empty rulebook written the first time the
// store is opened against an absent file: version 1, no rules.
func NewRulebook() Rulebook {
	return Rulebook{Version: 1, UpdatedAt: time.Now().UTC(), Rules: nil}
}

// AddRule appends a rule and increments the version. Always succeeds.
func (rb *Rulebook) AddRule(r Rule) {
	rb.Rules = append(rb.Rules, r)
	rb.Version++
	rb.UpdatedAt = time.Now().UTC()
}

// RemoveRule removes the rule with the given id. The version only advances
// if a rule was actually removed — removing a nonexistent id is a no-op.
func (rb *Rulebook) RemoveRule(id string) bool {
	for i, r := range rb.Rules {
		if r.ID == id {
			rb.Rules = append(rb.Rules[:i], rb.Rules[i+1:]...)
			rb.Version++
			rb.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// WeakenRule multiplies the rule's confidence by 0.8 with a floor of 0.3.
// Does not touch version or updated_at — weakening is folded into the
// same Learner tick as adds/removes, which advance those fields themselves.
func (rb *Rulebook) WeakenRule(id string) bool {
	for i, r := range rb.Rules {
		if r.ID == id {
			weakened := r.Confidence * 0.8
			if weakened < 0.3 {
				weakened = 0.3
			}
			rb.Rules[i].Confidence = weakened
			return true
		}
	}
	return false
}

// FindRule returns the rule with the given id, if present.
func (rb Rulebook) FindRule(id string) (Rule, bool) {
	for _, r := range rb.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}
