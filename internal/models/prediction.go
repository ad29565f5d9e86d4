package models

import (
	"fmt"
	"strings"

	"github.com/guregu/null/v5"
)

// Status is the lifecycle state of a prediction.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// ParseStatus accepts "open", "resolved", and "" or "all" for no filter.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return "", nil
	case string(StatusOpen):
		return StatusOpen, nil
	case string(StatusResolved):
		return StatusResolved, nil
	default:
		return "", fmt.Errorf("Status must be 'open' or 'resolved'")
	}
}

// Prediction mirrors the prediction record served by the upstream API.
type Prediction struct {
	ID         int64      `json:"id"`
	Statement  string     `json:"statement"`
	Category   string     `json:"category"`
	Confidence float64    `json:"confidence"`
	DueAt      Timestamp  `json:"due_at"`
	Status     Status     `json:"status"`
	Outcome    null.Int   `json:"outcome"`
	CreatedAt  Timestamp  `json:"created_at"`
	UpdatedAt  Timestamp  `json:"updated_at"`
	BrierScore null.Float `json:"brier_score"`
}

// Resolved reports whether the prediction carries an outcome.
func (p Prediction) Resolved() bool {
	return p.Status == StatusResolved && p.Outcome.Valid
}

// PredictionCreate is the body of a create request.
type PredictionCreate struct {
	Statement  string    `json:"statement" binding:"required,max=1000"`
	Category   string    `json:"category" binding:"required,max=100"`
	Confidence float64   `json:"confidence" binding:"required,confidence"`
	DueAt      Timestamp `json:"due_at"`
}

// PredictionResolve is the body of a resolve request. Outcome is a pointer so a
// literal 0 survives the required check.
type PredictionResolve struct {
	Outcome *int `json:"outcome" binding:"required,oneof=0 1"`
}

// ListFilter narrows a prediction listing. Zero values mean no filter.
type ListFilter struct {
	Status   Status
	Category string
}

// LeaderboardStats is the aggregate served by the upstream API.
type LeaderboardStats struct {
	TotalPredictions    int            `json:"total_predictions"`
	ResolvedPredictions int            `json:"resolved_predictions"`
	AverageBrierScore   null.Float     `json:"average_brier_score"`
	AccuracyRate        null.Float     `json:"accuracy_rate"`
	Categories          map[string]int `json:"categories"`
}
