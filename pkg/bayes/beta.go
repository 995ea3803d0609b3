package bayes

import (
	"math"
	"sort"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

// DefaultPseudoN is the evidence weight given to an observed probability.
const DefaultPseudoN = 5.0

// BetaPrior is a Beta(alpha, beta) belief over a risk probability.
type BetaPrior struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
}

// Update treats pObs as n pseudo-observed Bernoulli trials and returns the
// posterior. The receiver is not modified.
func (p BetaPrior) Update(pObs, n float64) BetaPrior {
	pObs = numeric.Clamp01(pObs)
	return BetaPrior{
		Alpha: p.Alpha + n*pObs,
		Beta:  p.Beta + n*(1-pObs),
	}
}

// Mean is alpha / (alpha + beta).
func (p BetaPrior) Mean() float64 {
	total := p.Alpha + p.Beta
	if total <= 0 {
		return 0.5
	}
	return p.Alpha / total
}

// NEff is the effective sample size alpha + beta.
func (p BetaPrior) NEff() float64 {
	return p.Alpha + p.Beta
}

// PriorFromMean converts a mean and an equivalent sample size into a prior.
// Out-of-range inputs are clamped to keep both parameters positive.
func PriorFromMean(mean, n0 float64) BetaPrior {
	mean = numeric.Clamp(mean, numeric.MinProb, numeric.MaxProb)
	if !(n0 > 0) || math.IsInf(n0, 0) {
		n0 = 2
	}
	return BetaPrior{Alpha: mean * n0, Beta: (1 - mean) * n0}
}

// Detail is the per-risk record of one update.
type Detail struct {
	AlphaPrior float64 `json:"alpha_prior"`
	BetaPrior  float64 `json:"beta_prior"`
	AlphaPost  float64 `json:"alpha_post"`
	BetaPost   float64 `json:"beta_post"`
	PBase      float64 `json:"p_base"`
	PPost      float64 `json:"p_post"`
	NEffPrior  float64 `json:"n_eff_prior"`
	NEffPost   float64 `json:"n_eff_post"`
}

// Result is the Bayesian stage output.
type Result struct {
	PosteriorProbs map[string]float64      `json:"posterior_probs"`
	Posteriors     map[string]Detail       `json:"posteriors"`
	PseudoN        float64                 `json:"pseudo_n"`
	Defaults       []schema.AppliedDefault `json:"defaults,omitempty"`
}

// Update computes a Beta-Binomial posterior for every risk in probs. Missing
// or invalid priors resolve to Beta(1,1) and are reported in Defaults.
// A non-positive n falls back to DefaultPseudoN.
func Update(probs map[string]float64, priors schema.Priors, n float64) Result {
	if !(n > 0) || math.IsInf(n, 0) {
		n = DefaultPseudoN
	}
	result := Result{
		PosteriorProbs: make(map[string]float64, len(probs)),
		Posteriors:     make(map[string]Detail, len(probs)),
		PseudoN:        n,
	}

	for _, id := range sortedKeys(probs) {
		resolved := schema.ResolvePrior(priors, id)
		if applied, ok := resolved.Applied(schema.KindPrior, id); ok {
			result.Defaults = append(result.Defaults, applied)
		}
		prior := BetaPrior{Alpha: resolved.Value.Alpha, Beta: resolved.Value.Beta}
		post := prior.Update(probs[id], n)
		pPost := numeric.Clamp01(post.Mean())

		result.PosteriorProbs[id] = pPost
		result.Posteriors[id] = Detail{
			AlphaPrior: prior.Alpha,
			BetaPrior:  prior.Beta,
			AlphaPost:  post.Alpha,
			BetaPost:   post.Beta,
			PBase:      probs[id],
			PPost:      pPost,
			NEffPrior:  prior.NEff(),
			NEffPost:   post.NEff(),
		}
	}
	return result
}

// RollForward turns posteriors into the priors of the next run.
func RollForward(result Result) schema.Priors {
	out := make(schema.Priors, len(result.Posteriors))
	for id, detail := range result.Posteriors {
		alpha, beta := detail.AlphaPost, detail.BetaPost
		out[id] = schema.PriorSpec{Alpha: &alpha, Beta: &beta}
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
