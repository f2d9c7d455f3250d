package core

// NewDefaultRulesEngine builds a rules engine with the built-in policy set:
// plate capacity, workflow transition legality, and batch lineage integrity.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewPlateCapacityRule())
	engine.Register(NewWorkflowTransitionRule())
	engine.Register(NewBatchLineageRule())
	return engine
}
