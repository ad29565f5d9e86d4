// Package insights derives per-category calibration from prediction history.
package insights

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v5"

	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/scoring"
)

// Miner aggregates predictions into category calibration summaries.
type Miner struct {
	scheme scoring.Scheme
	logger *slog.Logger
}

// NewMiner constructs a Miner rating each category with scheme.
func NewMiner(logger *slog.Logger, scheme scoring.Scheme) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(scheme.Tiers) == 0 && scheme.Fallback.Label == "" {
		scheme = scoring.Canonical
	}
	return &Miner{scheme: scheme, logger: logger}
}

// Mine groups predictions by category. Unresolved predictions count toward
// Total only. Results are ordered by resolved count, then category name.
func (m *Miner) Mine(predictions []models.Prediction) []models.CategoryCalibration {
	if len(predictions) == 0 {
		return []models.CategoryCalibration{}
	}

	groups := make(map[string]*categoryAggregate)
	for _, p := range predictions {
		agg := ensureAggregate(groups, p.Category)
		agg.total++
		if !p.Resolved() {
			continue
		}
		outcome := int(p.Outcome.Int64)
		agg.resolutions = append(agg.resolutions, scoring.Resolution{Confidence: p.Confidence, Outcome: outcome})
		if p.BrierScore.Valid {
			agg.brierSum += p.BrierScore.Float64
		} else {
			agg.brierSum += scoring.BrierScore(p.Confidence, outcome)
		}
		if p.UpdatedAt.After(agg.lastResolved) {
			agg.lastResolved = p.UpdatedAt.Time
		}
	}

	out := make([]models.CategoryCalibration, 0, len(groups))
	for _, agg := range groups {
		entry := models.CategoryCalibration{
			Category: agg.name,
			Total:    agg.total,
			Resolved: len(agg.resolutions),
		}
		if summary, ok := scoring.Summarize(agg.resolutions); ok {
			mean := agg.brierSum / float64(summary.Count)
			entry.MeanBrier = null.FloatFrom(mean)
			entry.Accuracy = null.FloatFrom(summary.Accuracy)
			entry.Rating = models.NewRating(m.scheme.Classify(mean))
			entry.LastResolved = models.NewTimestamp(agg.lastResolved)
		} else {
			entry.Rating = models.NewRating(m.scheme.ClassifyOptional(0, false))
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Resolved != out[j].Resolved {
			return out[i].Resolved > out[j].Resolved
		}
		return strings.ToLower(out[i].Category) < strings.ToLower(out[j].Category)
	})

	m.logger.Debug("category calibration mined",
		slog.Int("predictions", len(predictions)),
		slog.Int("categories", len(out)))
	return out
}

type categoryAggregate struct {
	name         string
	total        int
	brierSum     float64
	resolutions  []scoring.Resolution
	lastResolved time.Time
}

func ensureAggregate(groups map[string]*categoryAggregate, category string) *categoryAggregate {
	name := strings.TrimSpace(category)
	if name == "" {
		name = "Uncategorized"
	}
	key := strings.ToLower(name)
	agg, ok := groups[key]
	if !ok {
		agg = &categoryAggregate{name: name}
		groups[key] = agg
	}
	return agg
}
