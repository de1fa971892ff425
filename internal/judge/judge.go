// Package judge is the request-evaluation pipeline: cache lookup, a
// bounded-deadline LLM call, cache fill, and fail-mode fallback.
package judge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ppiankov/sentineld/internal/model"
)

// FailMode is the policy applied when the LLM fails or times out.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// Cache is the subset of wafcache.Cache the Judge depends on, so it can be
// nil'd out when caching is disabled and mocked in tests.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (model.Decision, bool, error)
	Set(ctx context.Context, fingerprint string, decision model.Decision) error
}

// LLM is the subset of llm.Provider the Judge depends on.
type LLM interface {
	JudgeRequest(ctx context.Context, payload model.RequestPayload, rules model.Rulebook) (model.Decision, error)
}

// Judge evaluates requests against a shared, hot-reloadable rulebook view.
// The rulebook is guarded by an RWMutex: readers (evaluations) take a brief
// read lock to snapshot it and release before the LLM call, so the lock is
// never held across the deadline-bounded call — otherwise watcher updates
// would starve behind in-flight evaluations.
type Judge struct {
	llm      LLM
	cache    Cache // nil disables caching
	deadline time.Duration
	failMode FailMode

	mu       sync.RWMutex
	rulebook model.Rulebook

	metrics Metrics
}

// Metrics are the Judge's monotonic counters, held as Prometheus counters
// registered at construction time and read in-process via MetricsSnapshot.
type Metrics struct {
	collectors *prometheusCollectors
}

// New constructs a Judge. cache may be nil to disable caching entirely.
func New(llmProvider LLM, cache Cache, initial model.Rulebook, deadline time.Duration, failMode FailMode) *Judge {
	return &Judge{
		llm:      llmProvider,
		cache:    cache,
		deadline: deadline,
		failMode: failMode,
		rulebook: initial,
		metrics:  Metrics{collectors: newPrometheusCollectors()},
	}
}

// UpdateRulebook atomically replaces the Judge's shared rulebook view. Called
// by the hot-reload watcher; in-flight evaluations keep whatever snapshot
// they already acquired.
func (j *Judge) UpdateRulebook(rb model.Rulebook) {
	j.mu.Lock()
	j.rulebook = rb
	j.mu.Unlock()
}

func (j *Judge) snapshotRulebook() model.Rulebook {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.rulebook
}

// Evaluate runs the full evaluation pipeline: cache lookup, LLM call under
// deadline, cache fill, fail-mode fallback. It never returns an error —
// every fault reduces to a controlled Allow/Block chosen by fail_mode.
func (j *Judge) Evaluate(ctx context.Context, payload model.RequestPayload) model.Decision {
	j.metrics.collectors.totalRequests.Inc()

	if j.cache != nil {
		cached, hit, err := j.cache.Get(ctx, payload.Fingerprint)
		if err != nil {
			logf("judge: cache lookup failed for %s: %v", payload.Fingerprint, err)
		} else if hit {
			j.metrics.collectors.cacheHits.Inc()
			return cached
		} else {
			j.metrics.collectors.cacheMisses.Inc()
		}
	}

	rules := j.snapshotRulebook()

	decision, err := j.callLLMWithDeadline(ctx, payload, rules)
	if err != nil {
		return j.applyFailMode(err)
	}

	if j.cache != nil {
		if err := j.cache.Set(ctx, payload.Fingerprint, decision); err != nil {
			logf("judge: cache write failed for %s: %v", payload.Fingerprint, err)
		}
	}

	return decision
}

func (j *Judge) callLLMWithDeadline(ctx context.Context, payload model.RequestPayload, rules model.Rulebook) (model.Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.deadline)
	defer cancel()

	type result struct {
		decision model.Decision
		err      error
	}
	done := make(chan result, 1)
	go func() {
		d, err := j.llm.JudgeRequest(callCtx, payload, rules)
		done <- result{d, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			// A provider that honors the context reports the deadline
			// breach itself; count it as a timeout, not an error.
			if errors.Is(r.err, context.DeadlineExceeded) {
				j.metrics.collectors.llmTimeouts.Inc()
			} else {
				j.metrics.collectors.llmErrors.Inc()
			}
			return model.Decision{}, r.err
		}
		return r.decision, nil
	case <-callCtx.Done():
		j.metrics.collectors.llmTimeouts.Inc()
		return model.Decision{}, callCtx.Err()
	}
}

func (j *Judge) applyFailMode(err error) model.Decision {
	switch j.failMode {
	case FailClosed:
		j.metrics.collectors.failClosedCount.Inc()
		logf("judge: LLM evaluation failed, failing closed: %v", err)
		return model.Block(0.0, "LLM evaluation failed", model.ThreatMedium)
	default:
		j.metrics.collectors.failOpenCount.Inc()
		logf("judge: LLM evaluation failed, failing open: %v", err)
		return model.Allow(0.0)
	}
}

// Snapshot is a point-in-time read of every counter, for tests and the
// diagnostic stats endpoint.
type Snapshot struct {
	TotalRequests   uint64
	CacheHits       uint64
	CacheMisses     uint64
	LLMTimeouts     uint64
	LLMErrors       uint64
	FailOpenCount   uint64
	FailClosedCount uint64
}

// MetricsSnapshot returns the current counter values.
func (j *Judge) MetricsSnapshot() Snapshot {
	c := j.metrics.collectors
	return Snapshot{
		TotalRequests:   counterValue(c.totalRequests),
		CacheHits:       counterValue(c.cacheHits),
		CacheMisses:     counterValue(c.cacheMisses),
		LLMTimeouts:     counterValue(c.llmTimeouts),
		LLMErrors:       counterValue(c.llmErrors),
		FailOpenCount:   counterValue(c.failOpenCount),
		FailClosedCount: counterValue(c.failClosedCount),
	}
}
