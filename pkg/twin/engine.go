// Package twin generates adversarial twins of a scenario and re-runs the
// full pipeline on each to bound the baseline conclusion.
package twin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/logging"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/pipeline"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/semconv"
)

// Perturbation modes, in generation order.
const (
	ModeOptimistic  = "optimistic"
	ModePessimistic = "pessimistic"
	ModeChaotic     = "chaotic"
)

// DefaultCount is the number of twins per mode.
const DefaultCount = 6

// DefaultSeed is the base seed twins derive their streams from.
const DefaultSeed int64 = 1337

var modeOrder = []string{ModeOptimistic, ModePessimistic, ModeChaotic}

// Range is a closed uniform sampling interval.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// ModeConfig shapes one perturbation mode. Likelihood is a multiplier range,
// Severity an additive shift range. A negative Count disables the mode.
type ModeConfig struct {
	Count      int   `yaml:"count" json:"count"`
	Likelihood Range `yaml:"likelihood" json:"likelihood"`
	Severity   Range `yaml:"severity" json:"severity"`
}

// Config controls twin generation.
type Config struct {
	Seed    int64                 `yaml:"seed" json:"seed"`
	Workers int                   `yaml:"workers" json:"workers"`
	Modes   map[string]ModeConfig `yaml:"modes" json:"modes"`
}

// DefaultModes returns the stock perturbation ranges.
func DefaultModes() map[string]ModeConfig {
	return map[string]ModeConfig{
		ModeOptimistic: {
			Count:      DefaultCount,
			Likelihood: Range{Min: 0.8, Max: 1.0},
			Severity:   Range{Min: -1, Max: 0},
		},
		ModePessimistic: {
			Count:      DefaultCount,
			Likelihood: Range{Min: 1.0, Max: 1.5},
			Severity:   Range{Min: 0, Max: 1},
		},
		ModeChaotic: {
			Count:      DefaultCount,
			Likelihood: Range{Min: 0.8, Max: 1.5},
			Severity:   Range{Min: -1, Max: 1},
		},
	}
}

// DefaultConfig returns six twins per mode seeded from DefaultSeed.
func DefaultConfig() Config {
	return Config{Seed: DefaultSeed, Modes: DefaultModes()}
}

// Record is the outcome of one twin. PTop, Reliability and DeltaPTop are
// nil when the twin's pipeline failed.
type Record struct {
	TwinID      string   `json:"twin_id"`
	Mode        string   `json:"mode"`
	Seed        int64    `json:"seed"`
	PTop        *float64 `json:"p_top"`
	PTopMC      *float64 `json:"p_top_mc,omitempty"`
	Reliability *float64 `json:"reliability"`
	DeltaPTop   *float64 `json:"delta_p_top"`
	Degraded    bool     `json:"degraded,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Summary aggregates the successful twins of one mode, or of all modes.
type Summary struct {
	Mode            string  `json:"mode"`
	Count           int     `json:"count"`
	Failed          int     `json:"failed"`
	PTopMin         float64 `json:"p_top_min"`
	PTopMax         float64 `json:"p_top_max"`
	PTopMean        float64 `json:"p_top_mean"`
	PTopP50         float64 `json:"p_top_p50"`
	PTopStdDev      float64 `json:"p_top_stddev"`
	ReliabilityMin  float64 `json:"reliability_min"`
	ReliabilityMax  float64 `json:"reliability_max"`
	ReliabilityMean float64 `json:"reliability_mean"`
}

// Report is the full twin envelope around a baseline.
type Report struct {
	BaselinePTop float64   `json:"baseline_p_top"`
	Seed         int64     `json:"seed"`
	Twins        []Record  `json:"twins"`
	Modes        []Summary `json:"modes"`
	Overall      Summary   `json:"overall"`
}

// Engine runs twins through a shared pipeline runner.
type Engine struct {
	runner *pipeline.Runner
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

// New builds an Engine. The runner must be safe for concurrent use.
func New(runner *pipeline.Runner, cfg Config) *Engine {
	return &Engine{
		runner: runner,
		cfg:    normalizeConfig(cfg),
		logger: logging.New("twin"),
		tracer: otel.Tracer("praxis/twin"),
	}
}

// Config returns the normalized configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

type job struct {
	id   string
	mode string
	seed int64
	spec ModeConfig
}

// Run generates every configured twin of scenario and evaluates it. A twin
// whose pipeline fails is recorded with its error; only context errors
// abort the run.
func (e *Engine) Run(ctx context.Context, scenario schema.Scenario, priors schema.Priors, baselinePTop float64) (Report, error) {
	ctx, span := e.tracer.Start(ctx, "twin.run", trace.WithAttributes(
		attribute.String(semconv.AttrScenarioName, scenario.ScenarioName),
		attribute.Float64(semconv.AttrPTop, baselinePTop),
	))
	defer span.End()

	jobs := e.plan()
	records := make([]Record, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := e.runTwin(gctx, j, scenario, priors, baselinePTop)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, fmt.Errorf("twin run: %w", err)
	}

	report := Report{
		BaselinePTop: baselinePTop,
		Seed:         e.cfg.Seed,
		Twins:        records,
		Overall:      summarize("all", records),
	}
	for _, mode := range modeOrder {
		if _, ok := e.cfg.Modes[mode]; !ok {
			continue
		}
		var subset []Record
		for _, rec := range records {
			if rec.Mode == mode {
				subset = append(subset, rec)
			}
		}
		summary := summarize(mode, subset)
		report.Modes = append(report.Modes, summary)
		if summary.Count > summary.Failed {
			metrics := e.runner.Metrics()
			metrics.SetTwinPTop(scenario.ScenarioName, mode, "mean", summary.PTopMean)
			metrics.SetTwinPTop(scenario.ScenarioName, mode, "max", summary.PTopMax)
		}
	}
	e.logger.Info("twins evaluated",
		"scenario", scenario.ScenarioName,
		"twins", len(records),
		"failed", report.Overall.Failed,
		"p_top_min", report.Overall.PTopMin,
		"p_top_max", report.Overall.PTopMax,
	)
	return report, nil
}

func (e *Engine) plan() []job {
	var jobs []job
	for _, mode := range modeOrder {
		spec, ok := e.cfg.Modes[mode]
		if !ok {
			continue
		}
		for idx := 1; idx <= spec.Count; idx++ {
			jobs = append(jobs, job{
				id:   fmt.Sprintf("%s_%02d", mode, idx),
				mode: mode,
				seed: numeric.DeriveSeed(e.cfg.Seed, mode, idx),
				spec: spec,
			})
		}
	}
	return jobs
}

func (e *Engine) runTwin(ctx context.Context, j job, scenario schema.Scenario, priors schema.Priors, baselinePTop float64) (Record, error) {
	ctx, span := e.tracer.Start(ctx, "twin.evaluate", trace.WithAttributes(
		attribute.String(semconv.AttrTwinID, j.id),
		attribute.String(semconv.AttrTwinMode, j.mode),
		attribute.Int64(semconv.AttrTwinSeed, j.seed),
	))
	defer span.End()

	rec := Record{TwinID: j.id, Mode: j.mode, Seed: j.seed}
	perturbed := Perturb(scenario, j.spec, numeric.NewRand(j.seed))

	cfg := e.runner.Config()
	cfg.MonteCarlo.Seed = j.seed
	res, err := e.runner.WithConfig(cfg, pipeline.WithTopEventGauge(false)).Run(ctx, perturbed, priors)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return rec, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Error = fmt.Sprintf("pipeline_error: %v", err)
		e.runner.Metrics().IncTwin(j.mode, "error")
		e.logger.Warn("twin pipeline failed", "twin_id", j.id, "seed", j.seed, "err", err)
		return rec, nil
	}

	pTop := res.FaultTreeAnalytic.PTop
	reliability := res.Reliability.Reliability
	delta := pTop - baselinePTop
	rec.PTop = &pTop
	rec.Reliability = &reliability
	rec.DeltaPTop = &delta
	if res.FaultTreeMC.Iterations > 0 {
		mc := res.FaultTreeMC.PTopMean
		rec.PTopMC = &mc
	}
	rec.Degraded = res.Diagnostics.Degraded()

	outcome := "ok"
	if rec.Degraded {
		outcome = "degraded"
	}
	e.runner.Metrics().IncTwin(j.mode, outcome)
	span.SetAttributes(attribute.Float64(semconv.AttrPTop, pTop))
	return rec, nil
}

// Source draws uniform values in [0,1); *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Perturb returns a clone of scenario with every risk's likelihood scaled
// and severity shifted by draws from rng. The input is not modified.
func Perturb(scenario schema.Scenario, spec ModeConfig, rng Source) schema.Scenario {
	out := scenario.Clone()
	for i := range out.Risks {
		mult := uniform(rng, spec.Likelihood)
		shift := uniform(rng, spec.Severity)
		risk := &out.Risks[i]
		if !math.IsNaN(risk.Likelihood) && !math.IsInf(risk.Likelihood, 0) {
			risk.Likelihood = numeric.Clamp01(risk.Likelihood * mult)
		}
		risk.Severity += shift
	}
	return out
}

func uniform(rng Source, r Range) float64 {
	return r.Min + (r.Max-r.Min)*rng.Float64()
}

func summarize(mode string, records []Record) Summary {
	s := Summary{Mode: mode, Count: len(records)}
	var pTops, rels []float64
	for _, rec := range records {
		if rec.PTop == nil {
			s.Failed++
			continue
		}
		pTops = append(pTops, *rec.PTop)
		rels = append(rels, *rec.Reliability)
	}
	if len(pTops) == 0 {
		return s
	}
	s.PTopMin, s.PTopMax = minMax(pTops)
	s.PTopMean = mean(pTops)
	s.PTopP50 = quantile(pTops, 0.5)
	s.PTopStdDev = stddev(pTops)
	s.ReliabilityMin, s.ReliabilityMax = minMax(rels)
	s.ReliabilityMean = mean(rels)
	return s
}

func normalizeConfig(cfg Config) Config {
	defaults := DefaultModes()
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	modes := make(map[string]ModeConfig, len(modeOrder))
	for _, mode := range modeOrder {
		spec, ok := cfg.Modes[mode]
		if !ok {
			spec = defaults[mode]
		}
		if spec.Count < 0 {
			continue
		}
		if spec.Count == 0 {
			spec.Count = DefaultCount
		}
		spec.Likelihood = normalizeRange(spec.Likelihood, defaults[mode].Likelihood)
		spec.Severity = normalizeRange(spec.Severity, defaults[mode].Severity)
		modes[mode] = spec
	}
	cfg.Modes = modes
	return cfg
}

func normalizeRange(r, def Range) Range {
	if r == (Range{}) || !finite(r.Min) || !finite(r.Max) {
		return def
	}
	if r.Min > r.Max {
		r.Min, r.Max = r.Max, r.Min
	}
	return r
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	m := mean(values)
	acc := 0.0
	for _, value := range values {
		delta := value - m
		acc += delta * delta
	}
	return math.Sqrt(acc / float64(len(values)-1))
}

func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	cpy := append([]float64(nil), values...)
	sort.Float64s(cpy)
	pos := math.Max(0, math.Min(1, q)) * float64(len(cpy)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return cpy[lo]
	}
	frac := pos - float64(lo)
	return cpy[lo]*(1-frac) + cpy[hi]*frac
}
