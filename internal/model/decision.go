package model

import (
	"encoding/json"
	"fmt"
)

// DecisionKind discriminates the Decision tagged union. It is the wire-level
// "decision" field and is part of the cache/log storage contract — do not
// rename these values.
type DecisionKind string

const (
	KindAllow DecisionKind = "allow"
	KindFlag  DecisionKind = "flag"
	KindBlock DecisionKind = "block"
)

// ThreatLevel is the qualitative severity attached to a Block decision.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// RuleSuggestion is the optional rule a Flag decision may carry, and the
// shape new_rules takes in a LearnerOutput.
type RuleSuggestion struct {
	Pattern     string  `json:"pattern"`
	ThreatType  string  `json:"threat_type"`
	Confidence  float64 `json:"confidence"`
	Action      string  `json:"action"` // "block" or "flag"
	Description string  `json:"description,omitempty"`
}

// Decision is the Judge's verdict on a request: exactly one of Allow, Flag or
// Block, discriminated by Kind. Confidence is always in [0,1]. Reason and
// ThreatLevel only apply to Flag/Block; SuggestedRule only to Flag.
//
// This is a sum type expressed as a struct with a discriminant field rather
// than an interface, because it must round-trip through the tagged JSON form
// below — that shape is part of the cache key/value and event log contract.
type Decision struct {
	Kind          DecisionKind
	Confidence    float64
	Reason        string
	ThreatLevel   ThreatLevel
	SuggestedRule *RuleSuggestion
}

// Allow builds an Allow decision with the given confidence.
func Allow(confidence float64) Decision {
	return Decision{Kind: KindAllow, Confidence: confidence}
}

// Flag builds a Flag decision.
func Flag(confidence float64, reason string, suggested *RuleSuggestion) Decision {
	return Decision{Kind: KindFlag, Confidence: confidence, Reason: reason, SuggestedRule: suggested}
}

// Block builds a Block decision. An empty threatLevel defaults to Medium.
func Block(confidence float64, reason string, threatLevel ThreatLevel) Decision {
	if threatLevel == "" {
		threatLevel = ThreatMedium
	}
	return Decision{Kind: KindBlock, Confidence: confidence, Reason: reason, ThreatLevel: threatLevel}
}

type decisionWire struct {
	Decision      DecisionKind    `json:"decision"`
	Confidence    float64         `json:"confidence"`
	Reason        string          `json:"reason,omitempty"`
	ThreatLevel   ThreatLevel     `json:"threat_level,omitempty"`
	SuggestedRule *RuleSuggestion `json:"suggested_rule,omitempty"`
}

// MarshalJSON emits the tagged-union wire form stored in the verdict cache
// and event log.
func (d Decision) MarshalJSON() ([]byte, error) {
	w := decisionWire{
		Decision:      d.Kind,
		Confidence:    d.Confidence,
		Reason:        d.Reason,
		SuggestedRule: d.SuggestedRule,
	}
	if d.Kind == KindBlock {
		w.ThreatLevel = d.ThreatLevel
		if w.ThreatLevel == "" {
			w.ThreatLevel = ThreatMedium
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the tagged-union wire form. An unrecognized "decision"
// value is a parse failure; a block missing threat_level defaults to medium.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var w decisionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Decision {
	case KindAllow, KindFlag, KindBlock:
	default:
		return fmt.Errorf("model: unknown decision kind %q", w.Decision)
	}
	*d = Decision{
		Kind:          w.Decision,
		Confidence:    w.Confidence,
		Reason:        w.Reason,
		SuggestedRule: w.SuggestedRule,
	}
	if w.Decision == KindBlock {
		d.ThreatLevel = w.ThreatLevel
		if d.ThreatLevel == "" {
			d.ThreatLevel = ThreatMedium
		}
	}
	return nil
}
