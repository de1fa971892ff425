package learner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/sentineld/internal/model"
	"github.com/ppiankov/sentineld/internal/rulebook"
)

type fakeEventLog struct {
	entries []model.LogEntry
	since   []int64
}

func (f *fakeEventLog) GetFlaggedSince(ctx context.Context, since int64) ([]model.LogEntry, error) {
	f.since = append(f.since, since)
	return f.entries, nil
}

type fakeLLM struct {
	output model.LearnerOutput
	err    error
}

func (f *fakeLLM) LearnRules(ctx context.Context, flagged []model.LogEntry, rules model.Rulebook) (model.LearnerOutput, error) {
	if f.err != nil {
		return model.LearnerOutput{}, f.err
	}
	return f.output, nil
}

func newTestStore(t *testing.T) *rulebook.Store {
	t.Helper()
	s, err := rulebook.New(filepath.Join(t.TempDir(), "rulebook.json"))
	if err != nil {
		t.Fatalf("rulebook.New: %v", err)
	}
	return s
}

func TestRunBatchSkipsWhenInsufficientFlagged(t *testing.T) {
	logs := &fakeEventLog{entries: []model.LogEntry{{ID: 1}}}
	store := newTestStore(t)
	llm := &fakeLLM{}

	l := New(llm, logs, store, time.Minute, 10)
	before := l.lastRunTS

	if err := l.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if l.lastRunTS != before {
		t.Errorf("last_run_ts must not advance on an insufficient-flagged tick")
	}
}

func TestRunBatchAppliesRemoveWeakenAddInOrder(t *testing.T) {
	store := newTestStore(t)
	rb := model.NewRulebook()
	rb.AddRule(model.Rule{ID: "remove-me", Pattern: "x", Confidence: 0.9})
	rb.AddRule(model.Rule{ID: "weaken-me", Pattern: "y", Confidence: 0.9})
	if err := store.Save(rb); err != nil {
		t.Fatalf("Save: %v", err)
	}

	logs := &fakeEventLog{entries: make([]model.LogEntry, 10)}
	llm := &fakeLLM{output: model.LearnerOutput{
		RemoveRules: []string{"remove-me"},
		WeakenRules: []string{"weaken-me"},
		NewRules: []model.RuleSuggestion{
			{Pattern: "' OR 1=1", ThreatType: "sqli", Confidence: 0.85, Action: "block"},
		},
		Rationales: []string{"consistent sqli pattern observed"},
	}}

	l := New(llm, logs, store, time.Minute, 5)
	before := l.lastRunTS
	time.Sleep(time.Millisecond) // ensure a later RunBatch timestamp is distinguishable in principle

	if err := l.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, found := got.FindRule("remove-me"); found {
		t.Errorf("expected remove-me to be removed")
	}
	weakened, found := got.FindRule("weaken-me")
	if !found || weakened.Confidence >= 0.9 {
		t.Errorf("expected weaken-me confidence reduced, got %+v", weakened)
	}
	if len(got.Rules) != 2 {
		t.Fatalf("expected 2 rules (weakened + new), got %d: %+v", len(got.Rules), got.Rules)
	}
	var added model.Rule
	for _, r := range got.Rules {
		if r.ID != "weaken-me" {
			added = r
		}
	}
	if added.CreatedBy != "llm" || added.Pattern != "' OR 1=1" {
		t.Errorf("unexpected added rule: %+v", added)
	}
	if added.ID == "" {
		t.Errorf("expected added rule to get a fresh generated id")
	}

	if l.lastRunTS < before {
		t.Errorf("last_run_ts should advance after a successful batch")
	}
}

func TestRunBatchPropagatesLLMError(t *testing.T) {
	store := newTestStore(t)
	logs := &fakeEventLog{entries: make([]model.LogEntry, 10)}
	llm := &fakeLLM{err: errors.New("llm unavailable")}

	l := New(llm, logs, store, time.Minute, 5)
	before := l.lastRunTS

	if err := l.RunBatch(context.Background()); err == nil {
		t.Fatal("expected error to propagate")
	}
	if l.lastRunTS != before {
		t.Errorf("last_run_ts must not advance on a failed batch")
	}
}
