package model

import "testing"

func TestAddRuleIncrementsVersion(t *testing.T) {
	rb := NewRulebook()
	v0 := rb.Version
	rb.AddRule(Rule{ID: "r1", Pattern: "x"})
	if rb.Version != v0+1 {
		t.Errorf("expected version %d, got %d", v0+1, rb.Version)
	}
	if len(rb.Rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(rb.Rules))
	}
}

func TestRemoveRuleNoopOnMissingID(t *testing.T) {
	rb := NewRulebook()
	rb.AddRule(Rule{ID: "r1"})
	v := rb.Version
	if rb.RemoveRule("missing") {
		t.Errorf("expected RemoveRule to report false for missing id")
	}
	if rb.Version != v {
		t.Errorf("version should not change on no-op remove")
	}
}

func TestRemoveRuleAdvancesVersion(t *testing.T) {
	rb := NewRulebook()
	rb.AddRule(Rule{ID: "r1"})
	v := rb.Version
	if !rb.RemoveRule("r1") {
		t.Fatalf("expected RemoveRule to succeed")
	}
	if rb.Version != v+1 {
		t.Errorf("expected version %d, got %d", v+1, rb.Version)
	}
	if len(rb.Rules) != 0 {
		t.Errorf("expected rule removed")
	}
}

func TestWeakenRuleFloorsAtPointThree(t *testing.T) {
	rb := NewRulebook()
	rb.AddRule(Rule{ID: "r1", Confidence: 0.35})
	v := rb.Version
	if !rb.WeakenRule("r1") {
		t.Fatalf("expected WeakenRule to succeed")
	}
	r, _ := rb.FindRule("r1")
	if r.Confidence < 0.3-1e-9 {
		t.Errorf("expected confidence floored at 0.3, got %v", r.Confidence)
	}
	if rb.Version != v {
		t.Errorf("weaken must not touch version, got %d want %d", rb.Version, v)
	}
}

func TestWeakenRuleAppliesDecay(t *testing.T) {
	rb := NewRulebook()
	rb.AddRule(Rule{ID: "r1", Confidence: 0.9})
	rb.WeakenRule("r1")
	r, _ := rb.FindRule("r1")
	want := 0.9 * 0.8
	if diff := r.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected confidence %v, got %v", want, r.Confidence)
	}
}
