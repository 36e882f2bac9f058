package mcmc

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/abtest/internal/ledger"
)

// #region trace
// Trace holds the kept draws of every chain.
type Trace struct {
	Names    []string
	Warmup   int
	Draws    [][][]float64 // [chain][param][draw]
	Accepted [][]int       // [chain][param] accepted post-warmup proposals
}

// Index returns the position of the named parameter, or -1.
func (t *Trace) Index(name string) int {
	for i, n := range t.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Param returns all draws of the i-th parameter, chains concatenated in order.
func (t *Trace) Param(i int) []float64 {
	var out []float64
	for _, chain := range t.Draws {
		out = append(out, chain[i]...)
	}
	return out
}

// chains returns the per-chain series of parameter i.
func (t *Trace) chains(i int) [][]float64 {
	out := make([][]float64, len(t.Draws))
	for c, chain := range t.Draws {
		out[c] = chain[i]
	}
	return out
}

// Rhat returns the split potential-scale-reduction statistic of parameter i.
func (t *Trace) Rhat(i int) float64 {
	return SplitRhat(t.chains(i))
}

// ESS returns the multi-chain effective sample size of parameter i.
func (t *Trace) ESS(i int) float64 {
	return EffectiveSampleSize(t.chains(i))
}

// AcceptRate returns the post-warmup acceptance rate of parameter i.
func (t *Trace) AcceptRate(i int) float64 {
	var acc, total int
	for c, chain := range t.Draws {
		acc += t.Accepted[c][i]
		total += len(chain[i])
	}
	if total == 0 {
		return math.NaN()
	}
	return float64(acc) / float64(total)
}

// Diagnostics summarises the trace for a ledger snapshot.
func (t *Trace) Diagnostics() *ledger.Diagnostics {
	d := &ledger.Diagnostics{
		Chains: len(t.Draws),
		Warmup: t.Warmup,
		Params: make([]ledger.ParamDiagnostic, len(t.Names)),
	}
	if len(t.Draws) > 0 && len(t.Draws[0]) > 0 {
		d.Draws = len(t.Draws[0][0])
	}
	for i, name := range t.Names {
		d.Params[i] = ledger.ParamDiagnostic{
			Name:       name,
			Rhat:       t.Rhat(i),
			AcceptRate: t.AcceptRate(i),
			ESS:        t.ESS(i),
		}
	}
	return d
}

// #endregion trace

// #region rhat
// SplitRhat computes the split-R-hat of Gelman et al. over the given chains.
// Each chain is halved; the result approaches 1 as chains agree. Fewer than
// two draws per half yields NaN.
func SplitRhat(chains [][]float64) float64 {
	if len(chains) == 0 {
		return math.NaN()
	}
	n := len(chains[0]) / 2
	for _, c := range chains {
		n = min(n, len(c)/2)
	}
	if n < 2 {
		return math.NaN()
	}

	means := make([]float64, 0, 2*len(chains))
	vars := make([]float64, 0, 2*len(chains))
	for _, c := range chains {
		for _, half := range [][]float64{c[:n], c[len(c)-n:]} {
			m, v := stat.MeanVariance(half, nil)
			means = append(means, m)
			vars = append(vars, v)
		}
	}

	w := stat.Mean(vars, nil)
	_, meanVar := stat.MeanVariance(means, nil)
	fn := float64(n)
	b := fn * meanVar
	if w == 0 {
		if b == 0 {
			return 1
		}
		return math.Inf(1)
	}
	varPlus := (fn-1)/fn*w + b/fn
	return math.Sqrt(varPlus / w)
}

// #endregion rhat

// #region ess
// EffectiveSampleSize estimates how many independent draws the chains are
// worth. Autocorrelations are pooled across chains against the between-chain
// variance and summed in pairs until a pair turns negative, with each pair
// capped by the previous one (Geyer's initial monotone sequence). Chains are
// truncated to the shortest; fewer than four draws or zero variance yields NaN.
func EffectiveSampleSize(chains [][]float64) float64 {
	m := len(chains)
	if m == 0 {
		return math.NaN()
	}
	n := len(chains[0])
	for _, c := range chains {
		n = min(n, len(c))
	}
	if n < 4 {
		return math.NaN()
	}

	means := make([]float64, m)
	vars := make([]float64, m)
	acov := make([]float64, n) // biased autocovariance averaged over chains
	for j, c := range chains {
		means[j], vars[j] = stat.MeanVariance(c[:n], nil)
		for lag, v := range autocovariance(c[:n], means[j]) {
			acov[lag] += v / float64(m)
		}
	}
	w := stat.Mean(vars, nil)
	fn := float64(n)
	varPlus := (fn - 1) / fn * w
	if m > 1 {
		_, b := stat.MeanVariance(means, nil)
		varPlus += b
	}
	if !(varPlus > 0) {
		return math.NaN()
	}

	rho := func(lag int) float64 {
		if lag == 0 {
			return 1
		}
		return 1 - (w-acov[lag])/varPlus
	}

	prev := math.Inf(1)
	var sum float64
	for lag := 0; lag+1 < n; lag += 2 {
		pair := rho(lag) + rho(lag+1)
		if pair < 0 {
			break
		}
		pair = math.Min(pair, prev)
		sum += pair
		prev = pair
	}
	total := float64(m) * fn
	tau := math.Max(-1+2*sum, 1/math.Log10(total))
	return total / tau
}

// autocovariance returns the biased autocovariance of x at every lag,
// computed through a zero-padded FFT.
func autocovariance(x []float64, mean float64) []float64 {
	n := len(x)
	size := 1
	for size < 2*n {
		size <<= 1
	}
	padded := make([]float64, size)
	for i, v := range x {
		padded[i] = v - mean
	}
	fft := fourier.NewFFT(size)
	coeff := fft.Coefficients(nil, padded)
	for i, c := range coeff {
		coeff[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	power := fft.Sequence(nil, coeff)
	out := make([]float64, n)
	for lag := range out {
		out[lag] = power[lag] / float64(size) / float64(n)
	}
	return out
}

// #endregion ess
