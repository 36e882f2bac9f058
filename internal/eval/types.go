package eval

// #region eval-config
// EvalConfig holds thresholds for post-sampling validation.
type EvalConfig struct {
	MaxRhat       float64 // reject if any parameter's split R-hat exceeds this
	MinAcceptRate float64 // reject if any parameter accepted fewer proposals
	MinDraws      int     // reject if chains kept fewer draws than this
	MinChains     int     // R-hat needs independent chains to compare
	MinESS        float64 // reject if any parameter has fewer effective draws
}

// DefaultEvalConfig returns the thresholds used for every simulated update.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxRhat:       1.05,
		MinAcceptRate: 0.05,
		MinDraws:      500,
		MinChains:     2,
		MinESS:        10000,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-sampling validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
	// Failed is the first failing metric, zero when Passed.
	Failed EvalMetric
}

// #endregion eval-result
