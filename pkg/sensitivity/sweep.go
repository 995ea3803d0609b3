package sensitivity

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/faulttree"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/logging"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/semconv"
)

// DefaultFactors is the one-at-a-time multiplier sweep.
var DefaultFactors = []float64{0.5, 0.75, 1.0, 1.25, 1.5}

// Config controls a sweep.
type Config struct {
	Factors []float64 `yaml:"factors" json:"factors"`
	Workers int       `yaml:"workers" json:"workers"`
}

// FactorDelta is the top-event change for one multiplier.
type FactorDelta struct {
	Factor  float64 `json:"factor"`
	PTop    float64 `json:"p_top"`
	Delta   float64 `json:"delta_p_top"`
	Skipped bool    `json:"skipped,omitempty"`
}

// Record is the sweep of one risk.
type Record struct {
	ID           string        `json:"id"`
	Domain       string        `json:"domain,omitempty"`
	Name         string        `json:"name,omitempty"`
	BaseP        float64       `json:"base_p"`
	Deltas       []FactorDelta `json:"deltas"`
	DeltaPTopMax float64       `json:"delta_p_top_max"`
}

// Report ranks risks by their largest absolute effect on the top event.
type Report struct {
	Factors      []float64               `json:"factors"`
	BaselinePTop float64                 `json:"baseline_p_top"`
	Risks        []Record                `json:"risks"`
	Defaults     []schema.AppliedDefault `json:"defaults,omitempty"`
}

// Run scales one probability at a time by each factor, holding every other
// at its baseline, and re-evaluates the tree analytically. A factor whose
// evaluation fails contributes no delta. Every id in final is swept; ids
// missing from risks are swept without metadata and reported in Defaults.
func Run(ctx context.Context, tree schema.FaultTree, final map[string]float64, risks []schema.Risk, cfg Config) (Report, error) {
	logger := logging.New("sensitivity")
	ctx, span := otel.Tracer("praxis/sensitivity").Start(ctx, "sensitivity.run")
	defer span.End()

	factors := cfg.Factors
	if len(factors) == 0 {
		factors = DefaultFactors
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	baseline, err := faulttree.Evaluate(tree, final)
	if err != nil {
		return Report{}, fmt.Errorf("evaluate baseline: %w", err)
	}
	report := Report{Factors: append([]float64(nil), factors...), BaselinePTop: baseline.PTop}

	ids := make([]string, 0, len(final))
	for id := range final {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	index := schema.Scenario{Risks: risks}.RiskIndex()
	eligible := make([]schema.Risk, 0, len(ids))
	for _, id := range ids {
		resolved := schema.ResolveRisk(index, id)
		if applied, ok := resolved.Applied(schema.KindRisk, id); ok {
			report.Defaults = append(report.Defaults, applied)
		}
		eligible = append(eligible, resolved.Value)
	}

	records := make([]Record, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, risk := range eligible {
		i, risk := i, risk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = sweep(tree, final, risk, factors, baseline.PTop)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("sensitivity sweep: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].DeltaPTopMax != records[j].DeltaPTopMax {
			return records[i].DeltaPTopMax > records[j].DeltaPTopMax
		}
		return records[i].ID < records[j].ID
	})
	report.Risks = records
	if len(records) > 0 {
		span.SetAttributes(attribute.String(semconv.AttrRiskID, records[0].ID))
		logger.Debug("sensitivity ranked", "risks", len(records), "top_risk", records[0].ID, "delta_p_top_max", records[0].DeltaPTopMax)
	}
	return report, nil
}

func sweep(tree schema.FaultTree, final map[string]float64, risk schema.Risk, factors []float64, baselinePTop float64) Record {
	rec := Record{ID: risk.ID, Domain: risk.Domain, Name: risk.Name, BaseP: final[risk.ID]}
	perturbed := make(map[string]float64, len(final))
	for id, p := range final {
		perturbed[id] = p
	}
	for _, factor := range factors {
		perturbed[risk.ID] = numeric.Clamp01(rec.BaseP * factor)
		out, err := faulttree.Evaluate(tree, perturbed)
		if err != nil {
			rec.Deltas = append(rec.Deltas, FactorDelta{Factor: factor, Skipped: true})
			continue
		}
		delta := out.PTop - baselinePTop
		rec.Deltas = append(rec.Deltas, FactorDelta{Factor: factor, PTop: out.PTop, Delta: delta})
		rec.DeltaPTopMax = math.Max(rec.DeltaPTopMax, math.Abs(delta))
	}
	return rec
}
