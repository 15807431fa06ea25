package policy

import (
	"testing"
	"time"
)

func TestDefaultTable(t *testing.T) {
	table := Default()

	for tier := Tier(1); tier <= 5; tier++ {
		p, ok := table.Get(tier)
		if !ok {
			t.Fatalf("expected tier %d in default table", tier)
		}
		if p.ResponseWindow <= 0 || p.AbsoluteDeadline <= 0 {
			t.Errorf("tier %d: expected positive windows", tier)
		}
		if p.ResponseWindow > p.AbsoluteDeadline {
			t.Errorf("tier %d: response window exceeds absolute deadline", tier)
		}
	}

	if _, ok := table.Get(9); ok {
		t.Error("expected tier 9 to be unknown")
	}
}

func TestDefaultTable_HigherTiersAreTighter(t *testing.T) {
	table := Default()
	t1, _ := table.Get(1)
	t5, _ := table.Get(5)

	if t5.ResponseWindow >= t1.ResponseWindow {
		t.Error("expected tier 5 response window tighter than tier 1")
	}
	if t5.AbsoluteDeadline >= t1.AbsoluteDeadline {
		t.Error("expected tier 5 deadline tighter than tier 1")
	}
	if t5.PriceMultiplier <= t1.PriceMultiplier {
		t.Error("expected tier 5 price multiplier above tier 1")
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
tiers:
  - tier: 1
    response_window: 30m
    absolute_deadline: 12h
    min_certification: 1
    price_multiplier: 1.0
  - tier: 2
    response_window: 5m
    absolute_deadline: 1h
    min_certification: 2
    price_multiplier: 1.5
`)

	table, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := table.Get(2)
	if !ok {
		t.Fatal("expected tier 2")
	}
	if p.ResponseWindow != 5*time.Minute {
		t.Errorf("expected 5m, got %s", p.ResponseWindow)
	}
	if p.AbsoluteDeadline != time.Hour {
		t.Errorf("expected 1h, got %s", p.AbsoluteDeadline)
	}
	if p.MinCertification != 2 {
		t.Errorf("expected cert 2, got %d", p.MinCertification)
	}
	if p.PriceMultiplier != 1.5 {
		t.Errorf("expected 1.5, got %f", p.PriceMultiplier)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":                "tiers: []",
		"bad window":           "tiers:\n  - tier: 1\n    response_window: soon\n    absolute_deadline: 1h",
		"window past deadline": "tiers:\n  - tier: 1\n    response_window: 2h\n    absolute_deadline: 1h",
		"duplicate tier":       "tiers:\n  - tier: 1\n    response_window: 5m\n    absolute_deadline: 1h\n  - tier: 1\n    response_window: 5m\n    absolute_deadline: 1h",
		"zero tier":            "tiers:\n  - tier: 0\n    response_window: 5m\n    absolute_deadline: 1h",
	}

	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
