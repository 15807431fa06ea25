package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is the ordinal urgency classification of a job, 1 (routine) to
// 5 (emergency). It keys into the policy table loaded at startup.
type Tier int

// Policy holds the SLA attributes for one urgency tier. Read-only at
// runtime.
type Policy struct {
	Tier             Tier
	ResponseWindow   time.Duration
	AbsoluteDeadline time.Duration
	MinCertification int
	PriceMultiplier  float64
}

// Table maps urgency tiers to their policies.
type Table struct {
	policies map[Tier]Policy
}

func (t *Table) Get(tier Tier) (Policy, bool) {
	p, ok := t.policies[tier]
	return p, ok
}

func (t *Table) Tiers() []Tier {
	tiers := make([]Tier, 0, len(t.policies))
	for tier := range t.policies {
		tiers = append(tiers, tier)
	}
	return tiers
}

// NewTable builds a table from explicit policies, keyed by tier.
func NewTable(policies ...Policy) *Table {
	t := &Table{policies: make(map[Tier]Policy, len(policies))}
	for _, p := range policies {
		t.policies[p.Tier] = p
	}
	return t
}

// Default returns the built-in tier table, used when no policy file is
// configured.
func Default() *Table {
	return &Table{policies: map[Tier]Policy{
		1: {Tier: 1, ResponseWindow: 30 * time.Minute, AbsoluteDeadline: 24 * time.Hour, MinCertification: 1, PriceMultiplier: 1.0},
		2: {Tier: 2, ResponseWindow: 15 * time.Minute, AbsoluteDeadline: 8 * time.Hour, MinCertification: 1, PriceMultiplier: 1.15},
		3: {Tier: 3, ResponseWindow: 10 * time.Minute, AbsoluteDeadline: 4 * time.Hour, MinCertification: 2, PriceMultiplier: 1.35},
		4: {Tier: 4, ResponseWindow: 5 * time.Minute, AbsoluteDeadline: 2 * time.Hour, MinCertification: 2, PriceMultiplier: 1.75},
		5: {Tier: 5, ResponseWindow: 2 * time.Minute, AbsoluteDeadline: 45 * time.Minute, MinCertification: 3, PriceMultiplier: 2.5},
	}}
}

type tierYAML struct {
	Tier             int     `yaml:"tier"`
	ResponseWindow   string  `yaml:"response_window"`
	AbsoluteDeadline string  `yaml:"absolute_deadline"`
	MinCertification int     `yaml:"min_certification"`
	PriceMultiplier  float64 `yaml:"price_multiplier"`
}

type fileYAML struct {
	Tiers []tierYAML `yaml:"tiers"`
}

// Load reads a tier table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML tier table.
func Parse(data []byte) (*Table, error) {
	var f fileYAML
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("policy file defines no tiers")
	}

	policies := make(map[Tier]Policy, len(f.Tiers))
	for _, ty := range f.Tiers {
		if ty.Tier <= 0 {
			return nil, fmt.Errorf("invalid tier: %d", ty.Tier)
		}
		tier := Tier(ty.Tier)
		if _, dup := policies[tier]; dup {
			return nil, fmt.Errorf("duplicate tier: %d", ty.Tier)
		}

		window, err := time.ParseDuration(ty.ResponseWindow)
		if err != nil {
			return nil, fmt.Errorf("tier %d response_window: %w", ty.Tier, err)
		}
		deadline, err := time.ParseDuration(ty.AbsoluteDeadline)
		if err != nil {
			return nil, fmt.Errorf("tier %d absolute_deadline: %w", ty.Tier, err)
		}
		if window <= 0 || deadline <= 0 {
			return nil, fmt.Errorf("tier %d: windows must be positive", ty.Tier)
		}
		if window > deadline {
			return nil, fmt.Errorf("tier %d: response_window exceeds absolute_deadline", ty.Tier)
		}
		mult := ty.PriceMultiplier
		if mult <= 0 {
			mult = 1.0
		}

		policies[tier] = Policy{
			Tier:             tier,
			ResponseWindow:   window,
			AbsoluteDeadline: deadline,
			MinCertification: ty.MinCertification,
			PriceMultiplier:  mult,
		}
	}

	return &Table{policies: policies}, nil
}
