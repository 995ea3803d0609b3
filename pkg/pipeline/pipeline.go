// Package pipeline runs the canonical probability pipeline: normalize,
// Bayesian update, CCF grouping, cascade propagation, then analytic and
// Monte Carlo fault-tree evaluation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/bayes"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/cascade"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/ccf"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/faulttree"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/logging"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/semconv"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/telemetry"
)

// Version identifies the pipeline semantics recorded in every result.
const Version = "praxis-pipeline/v1"

// Stage names used in diagnostics, metrics and spans.
const (
	StageNumeric     = "numeric"
	StageBayes       = "bayes"
	StageCCF         = "ccf"
	StageCascade     = "cascade"
	StageAnalytic    = "fault_tree_analytic"
	StageMonteCarlo  = "fault_tree_mc"
	StageReliability = "reliability"
)

var (
	// ErrEmptyScenario aborts a run with no usable risk rows.
	ErrEmptyScenario = errors.New("scenario has no risks")
	// ErrStrict marks a silent default that strict mode refuses.
	ErrStrict = errors.New("strict mode violation")
)

// StageError is a failure attributed to one pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Config is the versioned pipeline configuration.
type Config struct {
	Version    string             `yaml:"version" json:"version"`
	Numeric    numeric.Config     `yaml:"numeric" json:"numeric"`
	PseudoN    float64            `yaml:"pseudo_n" json:"pseudo_n"`
	Cascade    cascade.Config     `yaml:"cascade" json:"cascade"`
	MonteCarlo faulttree.MCConfig `yaml:"monte_carlo" json:"monte_carlo"`
	// Strict turns silent defaults and degraded stages into errors.
	Strict bool `yaml:"strict" json:"strict"`
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() Config {
	return Config{
		Version:    Version,
		Numeric:    numeric.DefaultConfig(),
		PseudoN:    bayes.DefaultPseudoN,
		Cascade:    cascade.DefaultConfig(),
		MonteCarlo: faulttree.DefaultMCConfig(),
	}
}

// Reliability is 1 - p_top, floored at 0.
type Reliability struct {
	PTop        float64 `json:"p_top"`
	Reliability float64 `json:"reliability"`
}

// StageDiagnostics describes one executed stage.
type StageDiagnostics struct {
	Stage      string   `json:"stage"`
	DurationMS float64  `json:"duration_ms"`
	Degraded   bool     `json:"degraded,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Diagnostics collects everything a run silently defaulted or degraded.
type Diagnostics struct {
	Stages     []StageDiagnostics      `json:"stages"`
	Warnings   []string                `json:"warnings,omitempty"`
	Defaults   []schema.AppliedDefault `json:"defaults_applied,omitempty"`
	Unresolved []string                `json:"unresolved_nodes,omitempty"`
}

// Degraded reports whether any stage fell back to its input.
func (d Diagnostics) Degraded() bool {
	for _, stage := range d.Stages {
		if stage.Degraded {
			return true
		}
	}
	return false
}

// Result is the immutable snapshot of one pipeline run.
type Result struct {
	RunID             string             `json:"run_id"`
	ScenarioName      string             `json:"scenario_name"`
	ConfigVersion     string             `json:"config_version"`
	Numeric           numeric.Result     `json:"numeric"`
	Bayes             bayes.Result       `json:"bayes"`
	CCF               ccf.Result         `json:"ccf"`
	Cascade           cascade.Result     `json:"cascade"`
	FaultTreeAnalytic faulttree.Analytic `json:"fault_tree_analytic"`
	FaultTreeMC       faulttree.MCResult `json:"fault_tree_mc"`
	Reliability       Reliability        `json:"reliability"`
	Diagnostics       Diagnostics        `json:"diagnostics"`
}

// Option customizes a Runner.
type Option func(*Runner)

// WithMetrics records stage timings and outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTopEventGauge controls whether a run publishes its p_top to the
// per-scenario gauge. Derived runs such as twins turn it off so the gauge
// keeps the baseline value.
func WithTopEventGauge(enabled bool) Option {
	return func(r *Runner) { r.pTopGauge = enabled }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner executes the pipeline. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	cfg       Config
	metrics   *telemetry.Metrics
	pTopGauge bool
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New builds a Runner.
func New(cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:       normalizeConfig(cfg),
		pTopGauge: true,
		logger:    logging.New("pipeline"),
		tracer:    otel.Tracer("praxis/pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the normalized configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Metrics returns the attached metrics, possibly nil.
func (r *Runner) Metrics() *telemetry.Metrics {
	return r.metrics
}

// WithConfig returns a Runner sharing r's collaborators under cfg, with
// opts applied on top.
func (r *Runner) WithConfig(cfg Config, opts ...Option) *Runner {
	clone := *r
	clone.cfg = normalizeConfig(cfg)
	for _, opt := range opts {
		opt(&clone)
	}
	return &clone
}

// Run evaluates one scenario. Stage failures degrade to the stage input and
// are recorded in Diagnostics unless the config is strict. Context errors
// and an empty scenario always abort.
func (r *Runner) Run(ctx context.Context, scenario schema.Scenario, priors schema.Priors) (Result, error) {
	res := Result{
		RunID:         uuid.NewString(),
		ScenarioName:  scenario.ScenarioName,
		ConfigVersion: r.cfg.Version,
	}
	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String(semconv.AttrRunID, res.RunID),
		attribute.String(semconv.AttrScenarioName, scenario.ScenarioName),
		attribute.String(semconv.AttrConfigVersion, r.cfg.Version),
		attribute.Int(semconv.AttrRiskCount, len(scenario.Risks)),
	))
	defer span.End()

	res, err := r.run(ctx, scenario, priors, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.IncRun("error")
		return Result{}, err
	}

	outcome := "ok"
	if res.Diagnostics.Degraded() {
		outcome = "degraded"
	}
	r.metrics.IncRun(outcome)
	if r.pTopGauge {
		r.metrics.SetPTop(res.ScenarioName, "analytic", res.FaultTreeAnalytic.PTop)
		r.metrics.SetPTop(res.ScenarioName, "monte_carlo", res.FaultTreeMC.PTopMean)
	}
	span.SetAttributes(
		attribute.Float64(semconv.AttrPTop, res.FaultTreeAnalytic.PTop),
		attribute.Float64(semconv.AttrReliability, res.Reliability.Reliability),
	)
	return res, nil
}

func (r *Runner) run(ctx context.Context, scenario schema.Scenario, priors schema.Priors, res Result) (Result, error) {
	if len(scenario.Risks) == 0 {
		return res, ErrEmptyScenario
	}
	diag := &res.Diagnostics

	err := r.stage(ctx, diag, StageNumeric, func(context.Context) ([]string, error) {
		res.Numeric = numeric.Normalize(scenario.Risks, r.cfg.Numeric)
		diag.Defaults = append(diag.Defaults, res.Numeric.Defaults...)
		if r.cfg.Strict && len(res.Numeric.Skipped) > 0 {
			return res.Numeric.Warnings, strictf("%d malformed risk rows", len(res.Numeric.Skipped))
		}
		return res.Numeric.Warnings, nil
	})
	if err != nil {
		return res, err
	}
	if len(res.Numeric.Rows) == 0 {
		return res, fmt.Errorf("%w: every risk row was malformed", ErrEmptyScenario)
	}
	pBase := res.Numeric.Probs()

	err = r.stage(ctx, diag, StageBayes, func(context.Context) ([]string, error) {
		res.Bayes = bayes.Update(pBase, priors, r.cfg.PseudoN)
		diag.Defaults = append(diag.Defaults, res.Bayes.Defaults...)
		return nil, nil
	})
	if err != nil {
		return res, err
	}
	if res.Bayes.PosteriorProbs == nil {
		res.Bayes = bayes.Result{PosteriorProbs: copyProbs(pBase)}
	}

	index := scenario.RiskIndex()
	res.CCF = ccf.Result{Probs: copyProbs(res.Bayes.PosteriorProbs)}
	err = r.stage(ctx, diag, StageCCF, func(context.Context) ([]string, error) {
		var members []string
		for _, group := range scenario.CCFGroups {
			members = append(members, group.Members...)
		}
		diag.Defaults = append(diag.Defaults, undeclaredRisks(index, members)...)
		out := ccf.Apply(res.Bayes.PosteriorProbs, scenario.CCFGroups)
		if r.cfg.Strict && len(out.Problems) > 0 {
			return out.Warnings, strictf("%s", out.Problems[0])
		}
		res.CCF = out
		return out.Warnings, nil
	})
	if err != nil {
		return res, err
	}

	res.Cascade = cascade.Result{FinalProbs: copyProbs(res.CCF.Probs), Mode: r.cfg.Cascade.Mode}
	err = r.stage(ctx, diag, StageCascade, func(ctx context.Context) ([]string, error) {
		endpoints := make([]string, 0, 2*len(scenario.CascadeEdges))
		for _, edge := range scenario.CascadeEdges {
			endpoints = append(endpoints, edge.From, edge.To)
		}
		diag.Defaults = append(diag.Defaults, undeclaredRisks(index, endpoints)...)
		out, err := cascade.Propagate(ctx, res.CCF.Probs, scenario.CascadeEdges, r.cfg.Cascade)
		if err != nil {
			return nil, err
		}
		if r.cfg.Strict && len(out.Problems) > 0 {
			return out.Warnings, strictf("%s", out.Problems[0])
		}
		res.Cascade = out
		r.metrics.ObserveCascadeIterations(out.IterationsUsed)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String(semconv.AttrCascadeMode, out.Mode),
			attribute.Int(semconv.AttrCascadeIterations, out.IterationsUsed),
			attribute.Bool(semconv.AttrCascadeConverged, out.Converged),
		)
		warnings := out.Warnings
		if !out.Converged {
			warnings = append(warnings, fmt.Sprintf("cascade did not converge within %d iterations (max delta %.3g)", out.IterationsUsed, out.MaxDelta))
		}
		return warnings, nil
	})
	if err != nil {
		return res, err
	}
	final := res.Cascade.FinalProbs

	res.FaultTreeAnalytic = faulttree.Analytic{TopEvent: scenario.FaultTree.TopEvent, GateOutputs: map[string]float64{}}
	err = r.stage(ctx, diag, StageAnalytic, func(context.Context) ([]string, error) {
		if r.cfg.Strict {
			if err := checkTree(scenario.FaultTree, final); err != nil {
				return nil, err
			}
		}
		out, err := faulttree.Evaluate(scenario.FaultTree, final)
		if err != nil {
			return nil, err
		}
		res.FaultTreeAnalytic = out
		diag.Defaults = append(diag.Defaults, out.Defaults...)
		diag.Unresolved = out.Unresolved
		var warnings []string
		if len(out.Unresolved) > 0 {
			warnings = append(warnings, fmt.Sprintf("fault tree nodes resolved to 0: %v", out.Unresolved))
		}
		return warnings, nil
	})
	if err != nil {
		return res, err
	}

	res.FaultTreeMC = faulttree.MCResult{TopEvent: scenario.FaultTree.TopEvent, Requested: r.cfg.MonteCarlo.Iterations, Seed: r.cfg.MonteCarlo.Seed}
	err = r.stage(ctx, diag, StageMonteCarlo, func(ctx context.Context) ([]string, error) {
		out, err := faulttree.MonteCarlo(ctx, scenario.FaultTree, final, r.cfg.MonteCarlo)
		if err != nil {
			return nil, err
		}
		res.FaultTreeMC = out
		r.metrics.AddMCTrials(out.Iterations)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Float64(semconv.AttrMCMean, out.PTopMean),
			attribute.Int(semconv.AttrMCIterations, out.Iterations),
			attribute.Int64(semconv.AttrMCSeed, out.Seed),
		)
		if out.Truncated {
			return []string{fmt.Sprintf("monte carlo budget reached after %d of %d trials", out.Iterations, out.Requested)}, nil
		}
		return nil, nil
	})
	if err != nil {
		return res, err
	}

	err = r.stage(ctx, diag, StageReliability, func(context.Context) ([]string, error) {
		pTop := res.FaultTreeAnalytic.PTop
		res.Reliability = Reliability{PTop: pTop, Reliability: math.Max(0, 1-pTop)}
		return nil, nil
	})
	if err != nil {
		return res, err
	}

	sort.SliceStable(diag.Defaults, func(i, j int) bool {
		if diag.Defaults[i].Kind != diag.Defaults[j].Kind {
			return diag.Defaults[i].Kind < diag.Defaults[j].Kind
		}
		return diag.Defaults[i].Key < diag.Defaults[j].Key
	})
	for _, d := range diag.Defaults {
		r.logger.Debug("default applied", "kind", d.Kind, "key", d.Key, "reason", d.Reason)
	}
	return res, nil
}

// stage runs fn under a span and a timer. Errors and panics are fatal in
// strict mode or once ctx is done. Otherwise the stage is marked degraded
// and the run continues with the output the caller pre-filled.
func (r *Runner) stage(ctx context.Context, diag *Diagnostics, name string, fn func(context.Context) ([]string, error)) error {
	ctx, span := r.tracer.Start(ctx, "pipeline."+name, trace.WithAttributes(attribute.String(semconv.AttrStage, name)))
	defer span.End()

	start := time.Now()
	warnings, err := safeCall(ctx, fn)
	elapsed := time.Since(start)
	r.metrics.ObserveStage(name, elapsed)

	sd := StageDiagnostics{Stage: name, DurationMS: float64(elapsed.Microseconds()) / 1000, Warnings: warnings}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.cfg.Strict || errors.Is(err, ErrStrict) || ctx.Err() != nil {
			return &StageError{Stage: name, Err: err}
		}
		sd.Degraded = true
		sd.Warnings = append(sd.Warnings, fmt.Sprintf("stage degraded to input: %v", err))
		r.metrics.IncDegraded(name)
		r.logger.Warn("stage degraded", "stage", name, "error", err)
	}
	span.SetAttributes(attribute.Bool(semconv.AttrStageDegraded, sd.Degraded))
	for _, w := range sd.Warnings {
		diag.Warnings = append(diag.Warnings, name+": "+w)
	}
	diag.Stages = append(diag.Stages, sd)
	return nil
}

func safeCall(ctx context.Context, fn func(context.Context) ([]string, error)) (warnings []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// checkTree enforces strict fault-tree rules: a DAG, known gate types and
// no node ids that resolve to nothing.
func checkTree(tree schema.FaultTree, basic map[string]float64) error {
	ids := make([]string, 0, len(tree.Gates))
	for id := range tree.Gates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := schema.ParseGateType(tree.Gates[id].Type); !ok {
			return fmt.Errorf("%w: %w: gate %s has type %q", ErrStrict, schema.ErrUnknownGateType, id, tree.Gates[id].Type)
		}
	}

	set := make(map[string]struct{}, len(basic))
	for id := range basic {
		set[id] = struct{}{}
	}
	report, err := schema.ValidateFaultTree(tree, set)
	if err != nil {
		return err
	}
	if tree.TopEvent == "" {
		return strictf("fault tree has no top event")
	}
	if len(report.Unresolved) > 0 {
		return strictf("unresolved fault tree nodes %v", report.Unresolved)
	}
	return nil
}

// undeclaredRisks resolves ids referenced outside the risk table and
// returns one default per id that is not declared.
func undeclaredRisks(index map[string]schema.Risk, ids []string) []schema.AppliedDefault {
	var out []schema.AppliedDefault
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if applied, ok := schema.ResolveRisk(index, id).Applied(schema.KindRisk, id); ok {
			out = append(out, applied)
		}
	}
	return out
}

func strictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStrict, fmt.Sprintf(format, args...))
}

func copyProbs(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if !(cfg.PseudoN > 0) || math.IsInf(cfg.PseudoN, 0) {
		cfg.PseudoN = def.PseudoN
	}
	if cfg.Cascade.Mode == "" && cfg.Cascade.MaxIterations == 0 && cfg.Cascade.Damping == 0 && cfg.Cascade.Tolerance == 0 {
		cfg.Cascade = def.Cascade
	}
	if cfg.MonteCarlo.Iterations < 0 {
		cfg.MonteCarlo.Iterations = 0
	}
	return cfg
}
