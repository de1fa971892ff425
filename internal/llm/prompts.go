package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/sentineld/internal/model"
)

// maxFlaggedInPrompt caps how many flagged entries enter the learner prompt,
// keeping the context window bounded on busy deployments.
const maxFlaggedInPrompt = 50

// judgePrompt builds the prompt for a single request evaluation.
func judgePrompt(payload model.RequestPayload, rules model.Rulebook) string {
	var rulesSummary string
	if len(rules.Rules) == 0 {
		rulesSummary = "No existing rules yet."
	} else {
		var b strings.Builder
		for _, r := range rules.Rules {
			fmt.Fprintf(&b, "- %s (%s): %s [action: %s]\n", r.ThreatType, r.ID, r.Pattern, r.Action)
		}
		rulesSummary = strings.TrimRight(b.String(), "\n")
	}

	body := "Body: none"
	if payload.Body != "" {
		body = "Body: " + truncate(payload.Body, 500)
	}

	query := "Query params: none"
	if len(payload.Query) > 0 {
		query = fmt.Sprintf("Query params: %v", payload.Query)
	}

	return fmt.Sprintf(`WAF security expert: evaluate this request for threats.

REQUEST:
%s %s | %s | %s | Headers: %v

RULES: %s

Analyze: injection attacks (SQL/code/command), XSS, path manipulation, auth bypass, API abuse.

DECIDE:
- block (confidence > 0.8): definitive attack
- flag (0.5-0.8): suspicious
- allow (> 0.8): legitimate

Output: decision, confidence, reason, threat_level`, payload.Method, payload.Path, body, query, payload.Headers, rulesSummary)
}

// learnerPrompt builds the prompt for one Learner tick.
func learnerPrompt(logs []model.LogEntry, rules model.Rulebook) string {
	n := len(logs)
	if n > maxFlaggedInPrompt {
		logs = logs[:maxFlaggedInPrompt]
	}

	var logsSummary strings.Builder
	for _, l := range logs {
		reason := l.Reason
		if reason == "" {
			reason = "none"
		}
		hashPrefix := l.PayloadHash
		if len(hashPrefix) > 12 {
			hashPrefix = hashPrefix[:12]
		}
		fmt.Fprintf(&logsSummary, "- %s %s | Hash: %s | Reason: %s\n", l.Method, l.Path, hashPrefix, reason)
	}

	var rulesSummary string
	if len(rules.Rules) == 0 {
		rulesSummary = "No existing rules."
	} else {
		var b strings.Builder
		for _, r := range rules.Rules {
			fmt.Fprintf(&b, "- ID: %s | Type: %s | Pattern: %s | Action: %s | Confidence: %v\n", r.ID, r.ThreatType, r.Pattern, r.Action, r.Confidence)
		}
		rulesSummary = strings.TrimRight(b.String(), "\n")
	}

	return fmt.Sprintf(`WAF rule learning system. Analyze flagged requests and suggest rule improvements.

FLAGGED REQUESTS (%d total):
%s

CURRENT RULES (%d total):
%s

Tasks:
1. Find patterns in flagged requests (3+ similar = new rule)
2. Suggest new rules for recurring threats
3. Weaken rules with consistent low confidence
4. Remove unused rules

Guidelines:
- Prefer "flag" over "block" initially
- High confidence (>0.8) for OWASP Top 10 patterns
- Low confidence (0.5-0.7) for emerging patterns`, n, strings.TrimRight(logsSummary.String(), "\n"), len(rules.Rules), rulesSummary)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
