package stats

import (
	"fmt"
	"math"
)

// DefaultTheta2 is the standard upper bioequivalence margin; the
// equivalence bound on the log scale is ln(theta2).
const DefaultTheta2 = 1.25

// SigmaFromCV converts a within-subject CV (fraction, e.g. 0.30) to
// the log-scale standard deviation.
func SigmaFromCV(cvFrac float64) float64 {
	return math.Sqrt(math.Log(1 + cvFrac*cvFrac))
}

// CVFromSigma is the inverse of SigmaFromCV, returning a fraction.
func CVFromSigma(sigma float64) float64 {
	return math.Sqrt(math.Max(0, math.Exp(sigma*sigma)-1))
}

// TOSTSampleSize computes the approximate total N for a 2x2 crossover
// under the two one-sided tests procedure:
//
//	n = ((z_(1-alpha) + z_power) * sqrt(2) * sigma / ln(theta2))^2
//
// cvPercent is the within-subject CV in percent. The result is
// ceiled and floored at 2 subjects.
func TOSTSampleSize(cvPercent, power, alpha float64) (int, error) {
	sigma := SigmaFromCV(cvPercent / 100.0)
	zAlpha, err := InvNormCDF(1 - alpha)
	if err != nil {
		return 0, fmt.Errorf("tost: %w", err)
	}
	zPower, err := InvNormCDF(power)
	if err != nil {
		return 0, fmt.Errorf("tost: %w", err)
	}
	delta := math.Log(DefaultTheta2)
	n := int(math.Ceil(math.Pow((zAlpha+zPower)*math.Sqrt2*sigma/delta, 2)))
	if n < 2 {
		n = 2
	}
	return n, nil
}

// ApproxCVFromCI derives a within-subject CV (percent) from a ratio
// 90% (or other level) confidence interval of a 2x2 log-scale
// analysis:
//
//	se = (ln(high) - ln(low)) / (2z); sigma = se * sqrt(n/2)
//
// Testing-grade approximation only; the exact derivation belongs to
// the external statistical oracle.
func ApproxCVFromCI(ciLow, ciHigh float64, n int, confidenceLevel float64) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("approx cv from ci: n must be positive, got %d", n)
	}
	if ciLow <= 0 || ciHigh <= 0 || ciLow >= ciHigh {
		return 0, fmt.Errorf("approx cv from ci: invalid bounds [%v, %v]", ciLow, ciHigh)
	}
	z := 1.96
	if math.Abs(confidenceLevel-0.90) <= 0.01 {
		z = 1.645
	}
	se := (math.Log(ciHigh) - math.Log(ciLow)) / (2 * z)
	sigma := se * math.Sqrt(float64(n)/2.0)
	return CVFromSigma(sigma) * 100.0, nil
}

// ExpectedCIHalfWidth returns the expected log-scale CI half-width for
// a given within-subject CV (percent) and sample size, at the
// one-sided z for the stated confidence level.
func ExpectedCIHalfWidth(cvPercent float64, n int, confidenceLevel float64) float64 {
	z := 1.96
	if math.Abs(confidenceLevel-0.90) <= 0.01 {
		z = 1.645
	}
	sigma := SigmaFromCV(cvPercent / 100.0)
	se := sigma / math.Sqrt(float64(n)/2.0)
	return z * se
}
