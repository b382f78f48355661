package stats

// Internal standard: CV is stored and compared in PERCENT (30.0 =
// 30%). Rule files may state thresholds as either fraction (0.30) or
// percent (30).

// CVToPercent normalizes a CV to percent. Values above 1 are treated
// as already-percent, values at or below 1 as fractions.
func CVToPercent(cv float64) float64 {
	if cv > 1.0 {
		return cv
	}
	return cv * 100.0
}

// CVToFraction normalizes a CV to a fraction.
func CVToFraction(cv float64) float64 {
	if cv > 1.0 {
		return cv / 100.0
	}
	return cv
}

// CVMeetsThreshold reports whether cvPercent (always percent) reaches
// a threshold stated in either scale.
func CVMeetsThreshold(cvPercent, threshold float64) bool {
	if threshold <= 1.0 {
		return cvPercent/100.0 >= threshold
	}
	return cvPercent >= threshold
}
