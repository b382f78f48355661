package samplesize

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/stats"
)

// Risk-stage warning codes.
const (
	WarnCVRangeMissing = "cv_range_missing"
	WarnDistUnknown    = "cv_distribution_unknown"
	WarnSamplingFailed = "cv_sampling_failed"
)

const rngName = "pcg"

var successTargets = [3]float64{0.70, 0.80, 0.90}

// RiskInput parameterizes one Monte-Carlo run.
type RiskInput struct {
	INN          string
	CVInfo       model.CVInfo
	Alpha        float64
	Power        float64
	NSims        int
	Seed         *uint64 // nil: derived deterministically from the inputs
	Distribution string  // triangular or lognormal
}

// ComputeRisk simulates CV draws from the configured distribution and
// reports the N needed to hit the 70/80/90% success targets.
//
// Determinism is a correctness requirement: without an explicit seed,
// one is derived from a hash of the inputs so identical inputs always
// reproduce identical output.
func ComputeRisk(in RiskInput) (*model.SampleSizeRisk, []string) {
	var warnings []string

	if in.CVInfo.RangeLow == nil || in.CVInfo.RangeHigh == nil {
		return nil, []string{WarnCVRangeMissing}
	}
	low, high := *in.CVInfo.RangeLow, *in.CVInfo.RangeHigh
	mode := (low + high) / 2
	if in.CVInfo.RangeMode != nil {
		mode = *in.CVInfo.RangeMode
	}

	dist := in.Distribution
	switch dist {
	case "triangular", "lognormal":
	case "":
		dist = "triangular"
	default:
		warnings = append(warnings, WarnDistUnknown)
		dist = "triangular"
	}

	seed := deriveSeed(in.INN, low, high, mode, in.Alpha, in.Power, in.NSims, dist)
	if in.Seed != nil {
		seed = *in.Seed
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	samples := sampleCV(rng, dist, low, mode, high, in.NSims)
	nRequired, err := requiredNs(samples, in.Power, in.Alpha)
	if err != nil || len(nRequired) == 0 {
		return nil, append(warnings, WarnSamplingFailed)
	}

	sorted := append([]int(nil), nRequired...)
	sort.Ints(sorted)

	nTargets := make(map[string]int, len(successTargets))
	pSuccess := make(map[string]float64, len(successTargets))
	for _, target := range successTargets {
		key := fmt.Sprintf("%.1f", target)
		nAt := quantileHigher(sorted, target)
		nTargets[key] = nAt
		pSuccess[key] = empiricalPAtMost(sorted, nAt)
	}

	notes := []string{
		fmt.Sprintf("Distribution=%s low=%.1f mode=%.1f high=%.1f", dist, low, mode, high),
		fmt.Sprintf("alpha=%v, power=%v, n_sims=%d", in.Alpha, in.Power, in.NSims),
	}
	if in.CVInfo.RangeConfidence != "" {
		notes = append(notes, fmt.Sprintf("range_confidence=%s", in.CVInfo.RangeConfidence))
	}

	return &model.SampleSizeRisk{
		CVDistribution:   dist,
		NTargets:         nTargets,
		PSuccessAtN:      pSuccess,
		SensitivityNotes: notes,
		Warnings:         warnings,
		Seed:             seed,
		NSims:            in.NSims,
		RNGName:          rngName + "/" + runtime.Version(),
		Method:           "mc",
	}, warnings
}

// deriveSeed hashes the simulation inputs into a stable seed.
func deriveSeed(inn string, low, high, mode, alpha, power float64, nSims int, dist string) uint64 {
	payload := fmt.Sprintf("%s|%.4f|%.4f|%.4f|%.4f|%.4f|%d|%s", inn, low, high, mode, alpha, power, nSims, dist)
	digest := sha256.Sum256([]byte(payload))
	return binary.BigEndian.Uint64(digest[:8])
}

func sampleCV(rng *rand.Rand, dist string, low, mode, high float64, n int) []float64 {
	samples := make([]float64, n)
	switch dist {
	case "lognormal":
		mu, sigma := lognormalParams(low, mode, high)
		for i := range samples {
			v := math.Exp(mu + sigma*rng.NormFloat64())
			// Clip back into the stated range.
			samples[i] = math.Min(math.Max(v, low), high)
		}
	default:
		for i := range samples {
			samples[i] = triangularSample(rng.Float64(), low, mode, high)
		}
	}
	return samples
}

// triangularSample is the inverse-CDF draw for a triangular(low,
// mode, high) distribution.
func triangularSample(u, low, mode, high float64) float64 {
	if high <= low {
		return low
	}
	c := (mode - low) / (high - low)
	if u < c {
		return low + math.Sqrt(u*(high-low)*(mode-low))
	}
	return high - math.Sqrt((1-u)*(high-low)*(high-mode))
}

// lognormalParams maps the range onto (mu, sigma) assuming
// [low, high] approximates a 95% interval (±1.96σ on the log scale).
func lognormalParams(low, mode, high float64) (float64, float64) {
	low = math.Max(low, 1e-3)
	high = math.Max(high, low+1e-3)
	mode = math.Min(math.Max(mode, low), high)
	sigma := (math.Log(high) - math.Log(low)) / (2 * 1.96)
	return math.Log(mode), math.Max(0.01, sigma)
}

func requiredNs(cvSamples []float64, power, alpha float64) ([]int, error) {
	zAlpha, err := stats.InvNormCDF(1 - alpha)
	if err != nil {
		return nil, err
	}
	zPower, err := stats.InvNormCDF(power)
	if err != nil {
		return nil, err
	}
	delta := math.Log(stats.DefaultTheta2)

	out := make([]int, len(cvSamples))
	for i, cv := range cvSamples {
		sigma := stats.SigmaFromCV(cv / 100.0)
		n := int(math.Ceil(math.Pow((zAlpha+zPower)*math.Sqrt2*sigma/delta, 2)))
		if n < 2 {
			n = 2
		}
		out[i] = n
	}
	return out, nil
}

// quantileHigher returns the smallest sampled value at or above the
// quantile; never a fractional interpolation.
func quantileHigher(sorted []int, q float64) int {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q * float64(len(sorted)-1)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func empiricalPAtMost(sorted []int, n int) float64 {
	// sorted is ascending; count values <= n.
	count := sort.SearchInts(sorted, n+1)
	return float64(count) / float64(len(sorted))
}
