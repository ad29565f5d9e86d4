package scoring

import (
	"errors"
	"fmt"
	"math"
)

// Severity ranks a tier from best to worst calibration.
type Severity string

const (
	SeverityBest         Severity = "best"
	SeverityAboveAverage Severity = "above-average"
	SeverityCaution      Severity = "caution"
	SeverityWarning      Severity = "warning"
	SeverityWorst        Severity = "worst"
	SeverityNone         Severity = "none"
)

// Tier describes one calibration bucket. UpperBound is inclusive.
type Tier struct {
	UpperBound  float64  `json:"upper_bound" yaml:"upper_bound"`
	Label       string   `json:"label" yaml:"label"`
	Color       string   `json:"color" yaml:"color"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description" yaml:"description"`
}

// Scheme is an ordered threshold table. Tiers are checked in ascending order of
// UpperBound and the first match wins; scores above every bound get Fallback.
type Scheme struct {
	Name     string `json:"name" yaml:"name"`
	Tiers    []Tier `json:"tiers" yaml:"tiers"`
	Fallback Tier   `json:"fallback" yaml:"fallback"`
	Empty    Tier   `json:"empty" yaml:"empty"`
}

// Canonical is the four-tier rating used wherever a single Brier score is shown.
var Canonical = Scheme{
	Name: "canonical",
	Tiers: []Tier{
		{UpperBound: 0.1, Label: "Excellent", Color: "green", Severity: SeverityBest, Description: "Superforecaster level"},
		{UpperBound: 0.2, Label: "Good", Color: "blue", Severity: SeverityAboveAverage, Description: "Above average"},
		{UpperBound: 0.3, Label: "Fair", Color: "yellow", Severity: SeverityCaution, Description: "Room for improvement"},
	},
	Fallback: Tier{UpperBound: 1, Label: "Poor", Color: "red", Severity: SeverityWorst, Description: "Needs calibration"},
	Empty:    Tier{Label: "No data", Color: "gray", Severity: SeverityNone, Description: "No resolved predictions"},
}

// Classify rates a Brier score with the Canonical scheme.
func Classify(score float64) Tier {
	return Canonical.Classify(score)
}

// Classify returns the first tier whose UpperBound is >= score. NaN never matches
// a bound and lands on Fallback.
func (s Scheme) Classify(score float64) Tier {
	for _, tier := range s.Tiers {
		if score <= tier.UpperBound {
			return tier
		}
	}
	return s.Fallback
}

// ClassifyOptional returns Empty when ok is false, otherwise Classify(score).
func (s Scheme) ClassifyOptional(score float64, ok bool) Tier {
	if !ok {
		return s.Empty
	}
	return s.Classify(score)
}

// Validate checks the table is usable: named, non-empty, strictly ascending.
func (s Scheme) Validate() error {
	if s.Name == "" {
		return errors.New("scheme name is required")
	}
	if len(s.Tiers) == 0 {
		return fmt.Errorf("scheme %s: at least one tier is required", s.Name)
	}
	prev := math.Inf(-1)
	for i, tier := range s.Tiers {
		if tier.Label == "" {
			return fmt.Errorf("scheme %s: tier %d has no label", s.Name, i)
		}
		if math.IsNaN(tier.UpperBound) || tier.UpperBound <= prev {
			return fmt.Errorf("scheme %s: tier %q bound %v is not above %v", s.Name, tier.Label, tier.UpperBound, prev)
		}
		prev = tier.UpperBound
	}
	if s.Fallback.Label == "" {
		return fmt.Errorf("scheme %s: fallback label is required", s.Name)
	}
	return nil
}
