package orchestrator

import (
	"fmt"
	"sort"
)

// Profile bundles settings that are switched together.
type Profile struct {
	Complexity   int     `json:"complexity" yaml:"complexity" mapstructure:"complexity"`
	CaptureRate  float64 `json:"capture_rate" yaml:"capture_rate" mapstructure:"capture_rate"`
	DispatchRate float64 `json:"dispatch_rate" yaml:"dispatch_rate" mapstructure:"dispatch_rate"`
}

type Profiles map[string]Profile

const (
	ProfileLow  = "low"
	ProfileHigh = "high"
)

func DefaultProfiles() Profiles {
	return Profiles{
		ProfileLow:  {Complexity: 0, CaptureRate: 15, DispatchRate: 15},
		ProfileHigh: {Complexity: 1, CaptureRate: 30, DispatchRate: 30},
	}
}

func (p Profile) Validate() error {
	if p.Complexity != 0 && p.Complexity != 1 {
		return fmt.Errorf("complexity must be 0 or 1, got %d", p.Complexity)
	}
	if !ValidRate(p.CaptureRate) {
		return fmt.Errorf("%w: capture=%v", ErrInvalidRate, p.CaptureRate)
	}
	if !ValidRate(p.DispatchRate) {
		return fmt.Errorf("%w: dispatch=%v", ErrInvalidRate, p.DispatchRate)
	}
	return nil
}

func (ps Profiles) Validate() error {
	for name, p := range ps {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}
	return nil
}

// Names returns the profile names in sorted order.
func (ps Profiles) Names() []string {
	out := make([]string, 0, len(ps))
	for name := range ps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
