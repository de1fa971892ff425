// Package llm is the LLM Provider capability: judge_request, learn_rules and
// a health probe, with one concrete binding to a local Ollama-style
// inference service and an in-memory mock for tests.
package llm

import (
	"context"

	"github.com/ppiankov/sentineld/internal/model"
)

// Provider is the dynamic-dispatch capability the Judge and Learner consume.
// It exists as an interface so a mock implementation can power unit tests
// without a running inference service.
type Provider interface {
	// JudgeRequest produces a Decision for a single request given the
	// current rulebook.
	JudgeRequest(ctx context.Context, payload model.RequestPayload, rules model.Rulebook) (model.Decision, error)

	// LearnRules analyzes a batch of flagged events against the current
	// rulebook and proposes mutations.
	LearnRules(ctx context.Context, flagged []model.LogEntry, rules model.Rulebook) (model.LearnerOutput, error)

	// HealthCheck probes reachability. Non-fatal at startup.
	HealthCheck(ctx context.Context) error
}
