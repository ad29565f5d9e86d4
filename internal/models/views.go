package models

import (
	"time"

	"github.com/guregu/null/v5"

	"github.com/miradorstack/mirador-forecast/internal/scoring"
)

// Rating is the JSON form of a scoring tier.
type Rating struct {
	Label       string `json:"label"`
	Color       string `json:"color"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// NewRating converts a tier.
func NewRating(t scoring.Tier) Rating {
	return Rating{
		Label:       t.Label,
		Color:       t.Color,
		Severity:    string(t.Severity),
		Description: t.Description,
	}
}

// PredictionView is a prediction annotated for display.
type PredictionView struct {
	Prediction
	ConfidenceLabel string  `json:"confidence_label"`
	Overdue         bool    `json:"overdue"`
	DaysUntilDue    *int    `json:"days_until_due,omitempty"`
	Rating          *Rating `json:"rating,omitempty"`
}

// LeaderboardView is the leaderboard annotated for display.
type LeaderboardView struct {
	LeaderboardStats
	Rating             Rating   `json:"rating"`
	Tip                string   `json:"tip"`
	ResolutionProgress float64  `json:"resolution_progress"`
	AverageBrierLabel  string   `json:"average_brier_label"`
	AccuracyLabel      string   `json:"accuracy_label"`
	CategoryNames      []string `json:"category_names"`
}

// Dashboard bundles everything the landing page needs in one response.
type Dashboard struct {
	Predictions []PredictionView `json:"predictions"`
	Leaderboard LeaderboardView  `json:"leaderboard"`
	Open        int              `json:"open"`
	Overdue     int              `json:"overdue"`
	Resolved    int              `json:"resolved"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// CategoryCalibration summarises resolved forecasts in one category.
type CategoryCalibration struct {
	Category     string     `json:"category"`
	Total        int        `json:"total"`
	Resolved     int        `json:"resolved"`
	MeanBrier    null.Float `json:"mean_brier_score"`
	Accuracy     null.Float `json:"accuracy_rate"`
	Rating       Rating     `json:"rating"`
	LastResolved Timestamp  `json:"last_resolved"`
}

// SchemeView exposes a rating table.
type SchemeView struct {
	Name     string         `json:"name"`
	Tiers    []scoring.Tier `json:"tiers"`
	Fallback scoring.Tier   `json:"fallback"`
	Empty    scoring.Tier   `json:"empty"`
}
