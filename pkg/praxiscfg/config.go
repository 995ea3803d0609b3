package praxiscfg

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/bayes"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/cascade"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/faulttree"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/pipeline"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/sensitivity"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/telemetry"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/twin"
)

const (
	APIVersion = "praxis.dev/v1alpha1"
	Kind       = "EngineConfig"
)

// EngineConfig mirrors config/praxis.yaml.
type EngineConfig struct {
	APIVersion  string             `yaml:"apiVersion"`
	Kind        string             `yaml:"kind"`
	Numeric     numeric.Config     `yaml:"numeric"`
	Bayes       BayesConfig        `yaml:"bayes"`
	Cascade     cascade.Config     `yaml:"cascade"`
	MonteCarlo  faulttree.MCConfig `yaml:"monte_carlo"`
	Twins       twin.Config        `yaml:"twins"`
	Sensitivity sensitivity.Config `yaml:"sensitivity"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Alerting    AlertingConfig     `yaml:"alerting"`
	Logging     LoggingConfig      `yaml:"logging"`
	Strict      bool               `yaml:"strict"`
}

// BayesConfig holds the observation weight of scenario likelihoods.
type BayesConfig struct {
	PseudoN float64 `yaml:"pseudo_n"`
}

// TelemetryConfig selects metrics and trace sinks.
type TelemetryConfig struct {
	Tracing         telemetry.TracingConfig `yaml:"tracing"`
	MetricsTextfile string                  `yaml:"metrics_textfile"`
	// LogsEndpoint is an OTLP/HTTP logs URL receiving run summaries.
	LogsEndpoint string        `yaml:"logs_endpoint"`
	LogsTimeout  time.Duration `yaml:"logs_timeout"`
}

// AlertingConfig posts a webhook when p_top reaches Threshold in the
// baseline or any twin. A zero threshold or empty URL disables it.
type AlertingConfig struct {
	URL       string  `yaml:"url"`
	Secret    string  `yaml:"secret"`
	Format    string  `yaml:"format"`
	Threshold float64 `yaml:"threshold"`
	TimeoutMS int     `yaml:"timeout_ms"`
	MaxRetry  int     `yaml:"max_retry"`
}

// Enabled reports whether alerts should be sent.
func (a AlertingConfig) Enabled() bool {
	return a.URL != "" && a.Threshold > 0
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns v1alpha1 defaults.
func Default() EngineConfig {
	return EngineConfig{
		APIVersion: APIVersion,
		Kind:       Kind,
		Numeric:    numeric.DefaultConfig(),
		Bayes: BayesConfig{
			PseudoN: bayes.DefaultPseudoN,
		},
		Cascade:    cascade.DefaultConfig(),
		MonteCarlo: faulttree.DefaultMCConfig(),
		Twins:      twin.DefaultConfig(),
		Sensitivity: sensitivity.Config{
			Factors: append([]float64(nil), sensitivity.DefaultFactors...),
		},
		Telemetry: TelemetryConfig{
			Tracing: telemetry.TracingConfig{
				ServiceName: "praxis-engine",
			},
			LogsTimeout: 5 * time.Second,
		},
		Alerting: AlertingConfig{
			Format:    "generic",
			TimeoutMS: 5000,
			MaxRetry:  3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load parses and normalizes an engine config file. An empty path yields
// the defaults.
func Load(path string) (EngineConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if cfg.Kind != "" && cfg.Kind != Kind {
		return cfg, fmt.Errorf("config %s: unsupported kind %q", path, cfg.Kind)
	}
	normalize(&cfg)
	return cfg, nil
}

// Pipeline returns the pipeline settings carried by the config.
func (c EngineConfig) Pipeline() pipeline.Config {
	return pipeline.Config{
		Version:    pipeline.Version,
		Numeric:    c.Numeric,
		PseudoN:    c.Bayes.PseudoN,
		Cascade:    c.Cascade,
		MonteCarlo: c.MonteCarlo,
		Strict:     c.Strict,
	}
}

func normalize(cfg *EngineConfig) {
	def := Default()
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.Kind == "" {
		cfg.Kind = def.Kind
	}
	if !(cfg.Bayes.PseudoN > 0) || math.IsInf(cfg.Bayes.PseudoN, 0) {
		cfg.Bayes.PseudoN = def.Bayes.PseudoN
	}
	if strings.TrimSpace(cfg.Cascade.Mode) == "" {
		cfg.Cascade.Mode = def.Cascade.Mode
	}
	if cfg.Cascade.MaxIterations <= 0 {
		cfg.Cascade.MaxIterations = def.Cascade.MaxIterations
	}
	if !(cfg.Cascade.Tolerance > 0) {
		cfg.Cascade.Tolerance = def.Cascade.Tolerance
	}
	if cfg.MonteCarlo.Iterations < 0 {
		cfg.MonteCarlo.Iterations = def.MonteCarlo.Iterations
	}
	if cfg.MonteCarlo.Seed == 0 {
		cfg.MonteCarlo.Seed = def.MonteCarlo.Seed
	}
	if cfg.Twins.Seed == 0 {
		cfg.Twins.Seed = def.Twins.Seed
	}
	if len(cfg.Sensitivity.Factors) == 0 {
		cfg.Sensitivity.Factors = def.Sensitivity.Factors
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = def.Telemetry.Tracing.ServiceName
	}
	if cfg.Telemetry.LogsTimeout <= 0 {
		cfg.Telemetry.LogsTimeout = def.Telemetry.LogsTimeout
	}
	switch cfg.Alerting.Format {
	case "generic", "pagerduty", "opsgenie":
	default:
		cfg.Alerting.Format = def.Alerting.Format
	}
	if cfg.Alerting.TimeoutMS <= 0 {
		cfg.Alerting.TimeoutMS = def.Alerting.TimeoutMS
	}
	if cfg.Alerting.MaxRetry <= 0 {
		cfg.Alerting.MaxRetry = def.Alerting.MaxRetry
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}
