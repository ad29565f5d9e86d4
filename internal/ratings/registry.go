// Package ratings keeps the named Brier-score rating tables used across the
// gateway. Each surface (prediction cards, leaderboard, tips, category
// insights) asks the registry for its table instead of carrying thresholds.
package ratings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-forecast/internal/scoring"
)

const (
	// SchemeCanonical rates an individual score.
	SchemeCanonical = "canonical"
	// SchemeLeaderboard rates the running average on the leaderboard.
	SchemeLeaderboard = "leaderboard"
	// SchemeCompact is the three-tier badge shown on prediction cards.
	SchemeCompact = "compact"
	// SchemeTips maps the running average to coaching advice.
	SchemeTips = "tips"
)

// Registry resolves rating schemes by name.
type Registry struct {
	schemes map[string]scoring.Scheme
	logger  *slog.Logger
}

// SchemeFile is the YAML root structure.
type SchemeFile struct {
	Schemes []scoring.Scheme `yaml:"schemes"`
}

// Builtin returns the default schemes.
func Builtin() []scoring.Scheme {
	return []scoring.Scheme{
		scoring.Canonical,
		{
			Name: SchemeLeaderboard,
			Tiers: []scoring.Tier{
				{UpperBound: 0.1, Label: "Superforecaster", Color: "green", Severity: scoring.SeverityBest, Description: "Superforecaster level"},
				{UpperBound: 0.2, Label: "Expert", Color: "blue", Severity: scoring.SeverityAboveAverage, Description: "Above average"},
				{UpperBound: 0.3, Label: "Good", Color: "yellow", Severity: scoring.SeverityCaution, Description: "Room for improvement"},
			},
			Fallback: scoring.Tier{UpperBound: 1, Label: "Learning", Color: "orange", Severity: scoring.SeverityWarning, Description: "Needs calibration"},
			Empty:    scoring.Tier{Label: "No data", Color: "gray", Severity: scoring.SeverityNone, Description: "No resolved predictions"},
		},
		{
			Name: SchemeCompact,
			Tiers: []scoring.Tier{
				{UpperBound: 0.1, Label: "Excellent", Color: "green", Severity: scoring.SeverityBest},
				{UpperBound: 0.25, Label: "Good", Color: "yellow", Severity: scoring.SeverityCaution},
			},
			Fallback: scoring.Tier{UpperBound: 1, Label: "Poor", Color: "red", Severity: scoring.SeverityWorst},
			Empty:    scoring.Tier{Label: "N/A", Color: "gray", Severity: scoring.SeverityNone},
		},
		{
			Name: SchemeTips,
			Tiers: []scoring.Tier{
				{UpperBound: 0.1, Label: "top-tier", Severity: scoring.SeverityBest, Description: "Excellent forecasting! You're in the top tier."},
				{UpperBound: 0.25, Label: "confidence", Severity: scoring.SeverityCaution, Description: "Good work! Try to be more confident in obvious outcomes."},
			},
			Fallback: scoring.Tier{UpperBound: 1, Label: "calibrate", Severity: scoring.SeverityWorst, Description: "Focus on calibrating your confidence levels with reality."},
			Empty:    scoring.Tier{Label: "resolve", Severity: scoring.SeverityNone, Description: "Resolve some predictions to see your Brier score!"},
		},
	}
}

// NewRegistry builds a registry from the built-in schemes.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{schemes: make(map[string]scoring.Scheme), logger: logger}
	for _, s := range Builtin() {
		r.schemes[s.Name] = s
	}
	return r
}

// Load builds a registry from the built-ins and overlays schemes read from path.
// An empty path or a missing file yields the built-ins.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Debug("rating scheme file not found, using built-ins", slog.String("path", path))
			return r, nil
		}
		return nil, fmt.Errorf("read rating schemes: %w", err)
	}
	var file SchemeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rating schemes: %w", err)
	}
	for _, s := range file.Schemes {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	r.logger.Info("rating schemes loaded", slog.String("path", path), slog.Int("overrides", len(file.Schemes)))
	return r, nil
}

// Register validates and stores s, replacing any scheme with the same name.
func (r *Registry) Register(s scoring.Scheme) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid rating scheme: %w", err)
	}
	r.schemes[s.Name] = s
	return nil
}

// Get returns the named scheme.
func (r *Registry) Get(name string) (scoring.Scheme, bool) {
	if r == nil {
		return scoring.Scheme{}, false
	}
	s, ok := r.schemes[name]
	return s, ok
}

// MustGet returns the named scheme or the canonical one when it is unknown.
func (r *Registry) MustGet(name string) scoring.Scheme {
	if s, ok := r.Get(name); ok {
		return s
	}
	return r.Default()
}

// Default returns the canonical scheme.
func (r *Registry) Default() scoring.Scheme {
	if s, ok := r.Get(SchemeCanonical); ok {
		return s
	}
	return scoring.Canonical
}

// Names lists registered scheme names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
