package scoring

// Resolution is a resolved forecast reduced to the two numbers scoring needs.
type Resolution struct {
	Confidence float64
	Outcome    int
}

// Summary aggregates a set of resolutions.
type Summary struct {
	Count     int
	MeanBrier float64
	Accuracy  float64
}

// DirectionallyCorrect reports whether the forecast leaned the right way. A 0.5
// forecast leans nowhere and is never correct.
func DirectionallyCorrect(confidence float64, outcome int) bool {
	return (confidence > 0.5 && outcome == OutcomeOccurred) ||
		(confidence < 0.5 && outcome == OutcomeMissed)
}

// Summarize computes the mean Brier score and directional accuracy. ok is false
// when there is nothing to summarise.
func Summarize(resolutions []Resolution) (Summary, bool) {
	if len(resolutions) == 0 {
		return Summary{}, false
	}
	var total float64
	correct := 0
	for _, r := range resolutions {
		total += BrierScore(r.Confidence, r.Outcome)
		if DirectionallyCorrect(r.Confidence, r.Outcome) {
			correct++
		}
	}
	n := float64(len(resolutions))
	return Summary{
		Count:     len(resolutions),
		MeanBrier: total / n,
		Accuracy:  float64(correct) / n,
	}, true
}
