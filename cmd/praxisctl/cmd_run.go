package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/bayes"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/logging"
	praxisotel "github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/otel"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/pipeline"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/sensitivity"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/telemetry"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/twin"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/webhook"
)

type runFlags struct {
	scenarioPath     string
	priorsPath       string
	outputPath       string
	writePriorsPath  string
	strict           bool
	mcIterations     int
	seed             int64
	twinSeed         int64
	twins            bool
	sensitivity      bool
	metricsTextfile  string
	trace            bool
	otlpEndpoint     string
	otlpLogsEndpoint string
	topRisks         int
	alertURL         string
	alertThreshold   float64
}

// runOutput is the single document a run writes.
type runOutput struct {
	RunID         string              `json:"run_id"`
	ScenarioName  string              `json:"scenario_name"`
	ConfigVersion string              `json:"config_version"`
	Baseline      pipeline.Result     `json:"baseline"`
	Sensitivity   *sensitivity.Report `json:"sensitivity,omitempty"`
	Twins         *twin.Report        `json:"twins,omitempty"`
}

func newRunCmd(global *globalFlags) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a scenario and stress it with sensitivity sweeps and twins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, global, &flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.scenarioPath, "scenario", "", "Scenario file, YAML or JSON (required)")
	f.StringVar(&flags.priorsPath, "priors", "", "Priors file mapping risk id to {alpha, beta}")
	f.StringVarP(&flags.outputPath, "output", "o", "", "Write the result document here instead of stdout")
	f.StringVar(&flags.writePriorsPath, "write-priors", "", "Write posteriors as next-run priors to this path")
	f.BoolVar(&flags.strict, "strict", false, "Fail on silent defaults and degraded stages")
	f.IntVar(&flags.mcIterations, "mc-iterations", 0, "Monte Carlo trials; 0 disables the estimator (overrides config)")
	f.Int64Var(&flags.seed, "seed", 0, "Monte Carlo base seed (overrides config)")
	f.Int64Var(&flags.twinSeed, "twin-seed", 0, "Twin base seed (overrides config)")
	f.BoolVar(&flags.twins, "twins", true, "Run adversarial twins")
	f.BoolVar(&flags.sensitivity, "sensitivity", true, "Run the one-at-a-time sensitivity sweep")
	f.StringVar(&flags.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics in textfile format")
	f.BoolVar(&flags.trace, "trace", false, "Export spans (to stderr unless --otlp-endpoint is set)")
	f.StringVar(&flags.otlpEndpoint, "otlp-endpoint", "", "OTLP/gRPC trace collector address")
	f.StringVar(&flags.otlpLogsEndpoint, "otlp-logs-endpoint", "", "OTLP/HTTP logs URL receiving run summaries")
	f.IntVar(&flags.topRisks, "top-risks", 10, "Sensitivity records exported as run events")
	f.StringVar(&flags.alertURL, "alert-url", "", "Webhook receiving threshold alerts (overrides config)")
	f.Float64Var(&flags.alertThreshold, "alert-threshold", 0, "Alert when p_top reaches this value (overrides config)")

	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runRun(cmd *cobra.Command, global *globalFlags, flags *runFlags) error {
	cfg, err := loadConfig(cmd, global)
	if err != nil {
		return err
	}
	changed := cmd.Flags().Changed
	if changed("strict") {
		cfg.Strict = flags.strict
	}
	if changed("mc-iterations") {
		cfg.MonteCarlo.Iterations = max(flags.mcIterations, 0)
	}
	if changed("seed") {
		cfg.MonteCarlo.Seed = flags.seed
	}
	if changed("twin-seed") {
		cfg.Twins.Seed = flags.twinSeed
	}
	if flags.metricsTextfile != "" {
		cfg.Telemetry.MetricsTextfile = flags.metricsTextfile
	}
	if flags.otlpLogsEndpoint != "" {
		cfg.Telemetry.LogsEndpoint = flags.otlpLogsEndpoint
	}
	if flags.trace {
		cfg.Telemetry.Tracing.Enabled = true
	}
	if flags.otlpEndpoint != "" {
		cfg.Telemetry.Tracing.Enabled = true
		cfg.Telemetry.Tracing.Endpoint = flags.otlpEndpoint
	}
	if flags.alertURL != "" {
		cfg.Alerting.URL = flags.alertURL
	}
	if changed("alert-threshold") {
		cfg.Alerting.Threshold = flags.alertThreshold
	}
	cfg.Telemetry.Tracing.Writer = cmd.ErrOrStderr()

	logger := logging.New("praxisctl")
	ctx := cmd.Context()

	shutdown, err := telemetry.SetupTracerProvider(ctx, cfg.Telemetry.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", "err", err)
		}
	}()

	scenario, err := schema.LoadScenario(flags.scenarioPath)
	if err != nil {
		return err
	}
	if err := schema.ValidateScenario(scenario); err != nil {
		return fmt.Errorf("scenario %s: %w", flags.scenarioPath, err)
	}
	priors, err := schema.LoadPriors(flags.priorsPath)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	runner := pipeline.New(cfg.Pipeline(), pipeline.WithMetrics(metrics))
	started := time.Now()
	baseline, err := runner.Run(ctx, scenario, priors)
	if err != nil {
		return fmt.Errorf("baseline pipeline: %w", err)
	}

	out := runOutput{
		RunID:         baseline.RunID,
		ScenarioName:  baseline.ScenarioName,
		ConfigVersion: baseline.ConfigVersion,
		Baseline:      baseline,
	}

	if flags.sensitivity {
		report, err := sensitivity.Run(ctx, scenario.FaultTree, baseline.Cascade.FinalProbs, scenario.Risks, cfg.Sensitivity)
		if err != nil {
			if ctx.Err() != nil || cfg.Strict {
				return err
			}
			logger.Warn("sensitivity sweep skipped", "err", err)
		} else {
			out.Sensitivity = &report
		}
	}

	if flags.twins {
		report, err := twin.New(runner, cfg.Twins).Run(ctx, scenario, priors, baseline.FaultTreeAnalytic.PTop)
		if err != nil {
			return err
		}
		out.Twins = &report
	}

	logger.Info("run complete",
		"run_id", out.RunID,
		"scenario", out.ScenarioName,
		"p_top", baseline.FaultTreeAnalytic.PTop,
		"degraded", baseline.Diagnostics.Degraded(),
		"elapsed", time.Since(started).String(),
	)

	if err := writeJSON(cmd, flags.outputPath, out); err != nil {
		return err
	}
	if flags.writePriorsPath != "" {
		if err := schema.WritePriors(flags.writePriorsPath, bayes.RollForward(baseline.Bayes)); err != nil {
			return err
		}
	}
	if cfg.Telemetry.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.Telemetry.MetricsTextfile); err != nil {
			return err
		}
	}
	if cfg.Telemetry.LogsEndpoint != "" {
		exporter := praxisotel.NewRunEventExporter(cfg.Telemetry.LogsEndpoint, cfg.Telemetry.Tracing.ServiceName, "praxis/praxisctl", cfg.Telemetry.LogsTimeout)
		events := praxisotel.EventsFromRun(baseline, out.Twins, out.Sensitivity, flags.topRisks, started)
		if err := exporter.ExportBatch(ctx, events); err != nil {
			logger.Warn("run event export failed", "endpoint", cfg.Telemetry.LogsEndpoint, "err", err)
		}
	}
	if cfg.Alerting.Enabled() {
		if alert, ok := webhook.Evaluate(baseline, out.Twins, out.Sensitivity, cfg.Alerting.Threshold, started); ok {
			exporter := webhook.New(cfg.Alerting.URL, cfg.Alerting.Secret, webhook.Format(cfg.Alerting.Format), cfg.Alerting.TimeoutMS)
			exporter.MaxRetry = cfg.Alerting.MaxRetry
			if err := exporter.Send(ctx, alert); err != nil {
				return fmt.Errorf("send alert: %w", err)
			}
			logger.Warn("risk alert sent", "trigger", alert.Trigger, "p_top", alert.PTop, "threshold", alert.Threshold)
		}
	}
	return nil
}

func writeJSON(cmd *cobra.Command, path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result %s: %w", path, err)
	}
	return nil
}
