package semconv

// Span and log attribute keys.
const (
	AttrRunID             = "praxis.run.id"
	AttrScenarioName      = "praxis.scenario.name"
	AttrConfigVersion     = "praxis.config.version"
	AttrRiskCount         = "praxis.scenario.risk_count"
	AttrStage             = "praxis.stage"
	AttrStageDegraded     = "praxis.stage.degraded"
	AttrCascadeMode       = "praxis.cascade.mode"
	AttrCascadeIterations = "praxis.cascade.iterations_used"
	AttrCascadeConverged  = "praxis.cascade.converged"
	AttrPTop              = "praxis.fault_tree.p_top"
	AttrReliability       = "praxis.fault_tree.reliability"
	AttrMCMean            = "praxis.fault_tree.mc.p_top_mean"
	AttrMCIterations      = "praxis.fault_tree.mc.iterations"
	AttrMCSeed            = "praxis.fault_tree.mc.seed"
	AttrRiskID            = "praxis.risk.id"
	AttrTwinID            = "praxis.twin.id"
	AttrTwinMode          = "praxis.twin.mode"
	AttrTwinSeed          = "praxis.twin.seed"
)
