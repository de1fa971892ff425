package model

// LogEntry is one row of the Event Log: a request's fingerprint and the
// decision the Judge reached for it. Appended post-evaluation and never
// updated or deleted in the core path.
type LogEntry struct {
	ID          int64   `json:"id"`
	Timestamp   int64   `json:"timestamp"` // unix seconds
	Method      string  `json:"method"`
	Path        string  `json:"path"`
	PayloadHash string  `json:"payload_hash"`
	Decision    string  `json:"decision"` // "allow" | "flag" | "block"
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason,omitempty"`
	IPAddr      string  `json:"ip_addr,omitempty"`
	UserAgent   string  `json:"user_agent,omitempty"`
}

// LearnerOutput is what LLM.learn_rules produces from a batch of flagged
// events: the set of mutations the Learner applies to the rulebook, in the
// fixed order Remove -> Weaken -> Add.
type LearnerOutput struct {
	NewRules    []RuleSuggestion `json:"new_rules"`
	WeakenRules []string         `json:"weaken_rules"`
	RemoveRules []string         `json:"remove_rules"`
	Rationales  []string         `json:"rationales"`
}
