package hpo

import "math"

//////
// Available acquisition functions for model-guided search.
// Each function helps decide which configurations to evaluate next by
// balancing exploration (uncertain regions) and exploitation (near the
// incumbent). All of them return lower values for more promising points.
//////

// minVariance guards divisions by the predictive standard deviation.
const minVariance = 1e-12

// LowerConfidenceBound implements the confidence-bound acquisition for
// minimization.
//
// How it works:
// - Combines the predicted cost with the uncertainty (variance)
// - The Beta parameter controls the trade-off between exploration and exploitation
//
// Example:
//
//	params := AcquisitionParams{Beta: 2.0}
//	value := LowerConfidenceBound(0.5, 0.2, params)
func LowerConfidenceBound(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(math.Max(variance, 0))
}

// ProbabilityOfImprovement (PI) scores a point by the probability that its
// cost falls below BestSoFar - Xi, negated so that lower is better.
//
// When to use:
// - When you want to be conservative in exploring new points
// - In problems where being "probably better" matters more than "how much better"
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	improvement := params.BestSoFar - mean - params.Xi

	if variance < minVariance {
		if improvement > 0 {
			return -1
		}

		return 0
	}

	return -normalCDF(improvement / math.Sqrt(variance))
}

// ExpectedImprovement (EI) scores a point by the expected amount by which
// its cost falls below the incumbent's, negated so that lower is better.
//
// How it works:
// - Combines the probability of improvement with the magnitude of improvement
// - Balances how likely and how large the improvement might be
//
// Example:
//
//	params := AcquisitionParams{
//	    BestSoFar: 1.0,  // Incumbent cost
//	    Xi: 0.01,        // Look for at least 0.01 improvement
//	}
//	score := ExpectedImprovement(0.9, 0.2, params)
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	improvement := params.BestSoFar - mean - params.Xi

	if variance < minVariance {
		return -math.Max(improvement, 0)
	}

	sigma := math.Sqrt(variance)
	z := improvement / sigma

	return -(improvement*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws one sample from the posterior at the point.
//
// Warning:
// - RandomState must be set; the model-guided strategy does it for you.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(math.Max(variance, 0))*params.RandomState.NormFloat64()
}

// AcquisitionByName resolves "ei", "pi", "lcb" and "ts".
func AcquisitionByName(name string) (AcquisitionFunc, bool) {
	switch name {
	case "ei", "expected_improvement":
		return ExpectedImprovement, true
	case "pi", "probability_of_improvement":
		return ProbabilityOfImprovement, true
	case "lcb", "ucb", "confidence_bound":
		return LowerConfidenceBound, true
	case "ts", "thompson":
		return ThompsonSampling, true
	}

	return nil, false
}
