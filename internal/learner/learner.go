// Package learner is the periodic Learner worker: it batches recently
// flagged events, asks the LLM for rulebook mutations, and applies them in
// the fixed order Remove -> Weaken -> Add.
package learner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/sentineld/internal/model"
)

// EventLog is the subset of eventlog.Store the Learner depends on.
type EventLog interface {
	GetFlaggedSince(ctx context.Context, since int64) ([]model.LogEntry, error)
}

// RulebookStore is the subset of rulebook.Store the Learner depends on.
type RulebookStore interface {
	Load() (model.Rulebook, error)
	Save(rb model.Rulebook) error
}

// LLM is the subset of llm.Provider the Learner depends on.
type LLM interface {
	LearnRules(ctx context.Context, flagged []model.LogEntry, rules model.Rulebook) (model.LearnerOutput, error)
}

// Learner is a long-lived periodic worker. Its cancellation is tied to the
// process lifetime via the context passed to Run.
type Learner struct {
	llm           LLM
	logs          EventLog
	store         RulebookStore
	batchInterval time.Duration
	minFlagged    int
	lastRunTS     int64
	newUUID       func() string
}

// New constructs a Learner. last_run_ts starts at the wall-clock time of
// construction, so the first tick only sees events from after startup.
func New(llmProvider LLM, logs EventLog, store RulebookStore, batchInterval time.Duration, minFlagged int) *Learner {
	return &Learner{
		llm:           llmProvider,
		logs:          logs,
		store:         store,
		batchInterval: batchInterval,
		minFlagged:    minFlagged,
		lastRunTS:     time.Now().Unix(),
		newUUID:       func() string { return uuid.NewString() },
	}
}

// Run ticks every batchInterval and runs one batch per tick, logging and
// continuing on any per-tick error. Blocks until ctx is cancelled.
func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(l.batchInterval)
	defer ticker.Stop()

	logf("learner: scheduler started with interval %v", l.batchInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.RunBatch(ctx); err != nil {
				logf("learner: batch failed: %v", err)
			}
		}
	}
}

// RunBatch executes a single tick of the Learner state machine:
// Fetching -> (Insufficient -> done without advancing) | Loading -> LLMing
// -> Applying -> Saving -> advance last_run_ts.
func (l *Learner) RunBatch(ctx context.Context) error {
	flagged, err := l.logs.GetFlaggedSince(ctx, l.lastRunTS)
	if err != nil {
		return fmt.Errorf("learner: fetch flagged events: %w", err)
	}
	logf("learner: found %d flagged requests since last run", len(flagged))

	if len(flagged) < l.minFlagged {
		logf("learner: not enough flagged requests (%d < %d), skipping batch", len(flagged), l.minFlagged)
		return nil
	}

	current, err := l.store.Load()
	if err != nil {
		return fmt.Errorf("learner: load rulebook: %w", err)
	}
	logf("learner: current rulebook has %d rules", len(current.Rules))

	output, err := l.llm.LearnRules(ctx, flagged, current)
	if err != nil {
		return fmt.Errorf("learner: learn rules from LLM: %w", err)
	}
	logf("learner: LLM suggested %d new rules, %d to weaken, %d to remove",
		len(output.NewRules), len(output.WeakenRules), len(output.RemoveRules))

	next := l.applyChanges(current, output)

	if err := l.store.Save(next); err != nil {
		return fmt.Errorf("learner: save rulebook: %w", err)
	}
	logf("learner: rulebook updated: %d rules (was %d)", len(next.Rules), len(current.Rules))

	for _, r := range output.Rationales {
		logf("learner: rationale: %s", r)
	}

	l.lastRunTS = time.Now().Unix()
	return nil
}

// applyChanges produces the next rulebook from current by applying output's
// mutations in the fixed order Remove -> Weaken -> Add.
func (l *Learner) applyChanges(current model.Rulebook, output model.LearnerOutput) model.Rulebook {
	next := current

	for _, id := range output.RemoveRules {
		if next.RemoveRule(id) {
			logf("learner: removed rule %s", id)
		}
	}

	for _, id := range output.WeakenRules {
		if next.WeakenRule(id) {
			logf("learner: weakened rule %s", id)
		}
	}

	for _, s := range output.NewRules {
		rule := model.Rule{
			ID:          l.newUUID(),
			Pattern:     s.Pattern,
			ThreatType:  s.ThreatType,
			Confidence:  s.Confidence,
			Action:      s.Action,
			CreatedBy:   "llm",
			CreatedAt:   time.Now().UTC(),
			Description: s.Description,
		}
		logf("learner: adding new rule %s (%s) - action: %s", rule.ThreatType, rule.Pattern, rule.Action)
		next.AddRule(rule)
	}

	return next
}

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
