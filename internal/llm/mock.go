package llm

import (
	"context"
	"time"

	"github.com/ppiankov/sentineld/internal/model"
)

// MockProvider is an in-memory Provider for tests. Its behavior is entirely
// driven by the fields below, set directly or via the With* builders.
type MockProvider struct {
	ShouldBlock bool
	ShouldError bool
	Sleep       time.Duration
	LearnOutput model.LearnerOutput
}

// NewMockProvider returns a MockProvider that allows every request.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// WithBlock makes JudgeRequest return a Block decision.
func (m *MockProvider) WithBlock() *MockProvider {
	m.ShouldBlock = true
	return m
}

// WithError makes JudgeRequest and LearnRules return an error.
func (m *MockProvider) WithError() *MockProvider {
	m.ShouldError = true
	return m
}

// WithSleep makes JudgeRequest block for d before returning, to exercise
// Judge deadline handling.
func (m *MockProvider) WithSleep(d time.Duration) *MockProvider {
	m.Sleep = d
	return m
}

// JudgeRequest implements Provider.
func (m *MockProvider) JudgeRequest(ctx context.Context, payload model.RequestPayload, rules model.Rulebook) (model.Decision, error) {
	if m.Sleep > 0 {
		select {
		case <-time.After(m.Sleep):
		case <-ctx.Done():
			return model.Decision{}, ctx.Err()
		}
	}
	if m.ShouldError {
		return model.Decision{}, errMock
	}
	if m.ShouldBlock {
		return model.Block(0.9, "Mock block", model.ThreatHigh), nil
	}
	return model.Allow(0.5), nil
}

// LearnRules implements Provider.
func (m *MockProvider) LearnRules(ctx context.Context, flagged []model.LogEntry, rules model.Rulebook) (model.LearnerOutput, error) {
	if m.ShouldError {
		return model.LearnerOutput{}, errMock
	}
	if m.LearnOutput.NewRules != nil || m.LearnOutput.WeakenRules != nil || m.LearnOutput.RemoveRules != nil || m.LearnOutput.Rationales != nil {
		return m.LearnOutput, nil
	}
	return model.LearnerOutput{Rationales: []string{"Mock learner output"}}, nil
}

// HealthCheck implements Provider.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	if m.ShouldError {
		return errMock
	}
	return nil
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errMock = mockError("mock provider error")
