// Package scoring holds the calibration arithmetic behind forecast tracking:
// confidence formatting, Brier scores, tiered ratings and due-date checks.
// Everything here is pure and safe for concurrent use.
package scoring

import (
	"errors"
	"math"
	"strconv"
)

const (
	// OutcomeMissed marks a prediction that did not come true.
	OutcomeMissed = 0
	// OutcomeOccurred marks a prediction that came true.
	OutcomeOccurred = 1

	// MinConfidence and MaxConfidence bound the confidence a forecaster may record.
	MinConfidence = 0.01
	MaxConfidence = 0.99
)

var (
	// ErrConfidenceOutOfRange reports a confidence outside [MinConfidence, MaxConfidence].
	ErrConfidenceOutOfRange = errors.New("predicted probability must be between 0.01 and 0.99")
	// ErrOutcomeNotBinary reports an outcome other than 0 or 1.
	ErrOutcomeNotBinary = errors.New("outcome must be 0 or 1")
)

// FormatConfidence renders a confidence fraction as a whole percentage, e.g. 0.7 -> "70%".
// The value is not clamped.
func FormatConfidence(confidence float64) string {
	// adding zero folds -0 into 0
	pct := math.Round(confidence*100) + 0
	return strconv.FormatFloat(pct, 'f', 0, 64) + "%"
}

// BrierScore returns (confidence - outcome)^2. Inputs are not validated; use Score
// when the caller needs the domain constraints enforced.
func BrierScore(confidence float64, outcome int) float64 {
	d := confidence - float64(outcome)
	return d * d
}

// Score is the validated form of BrierScore.
func Score(confidence float64, outcome int) (float64, error) {
	if err := ValidateConfidence(confidence); err != nil {
		return 0, err
	}
	if err := ValidateOutcome(outcome); err != nil {
		return 0, err
	}
	return BrierScore(confidence, outcome), nil
}

// ValidateConfidence checks that confidence lies in [MinConfidence, MaxConfidence].
func ValidateConfidence(confidence float64) error {
	if math.IsNaN(confidence) || confidence < MinConfidence || confidence > MaxConfidence {
		return ErrConfidenceOutOfRange
	}
	return nil
}

// ValidateOutcome checks that outcome is binary.
func ValidateOutcome(outcome int) error {
	if outcome != OutcomeMissed && outcome != OutcomeOccurred {
		return ErrOutcomeNotBinary
	}
	return nil
}
