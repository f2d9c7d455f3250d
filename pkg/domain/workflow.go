package domain

// The specimen workflow is an explicit edge table: every legal transition is
// listed, and anything absent is illegal. Two additional blanket edges apply
// to every non-terminal state: entry into rerun_required on quality failure
// and into failed on non-recoverable failure.

var forwardPath = []WorkflowState{
	StateRegistered,
	StateSampleCollected,
	StatePCRReady,
	StatePCRBatched,
	StatePCRCompleted,
	StateElectroReady,
	StateElectroBatched,
	StateElectroCompleted,
	StateAnalysisReady,
	StateInAnalysis,
	StateAnalysisCompleted,
	StateReportGenerated,
	StateDelivered,
}

var terminalStates = toSet(StateDelivered, StateFailed)

var workflowEdges = buildWorkflowEdges()

func buildWorkflowEdges() map[WorkflowState]map[WorkflowState]struct{} {
	edges := make(map[WorkflowState]map[WorkflowState]struct{})
	add := func(from, to WorkflowState) {
		set, ok := edges[from]
		if !ok {
			set = make(map[WorkflowState]struct{})
			edges[from] = set
		}
		set[to] = struct{}{}
	}
	for i := 0; i < len(forwardPath)-1; i++ {
		add(forwardPath[i], forwardPath[i+1])
	}
	// Rerun branch re-enters the main path after a successful rerun batch.
	add(StateRerunRequired, StateRerunBatched)
	add(StateRerunBatched, StatePCRCompleted)
	for _, s := range AllWorkflowStates() {
		if IsTerminalState(s) {
			continue
		}
		if s != StateRerunRequired && s != StateRerunBatched {
			add(s, StateRerunRequired)
		}
		add(s, StateFailed)
	}
	return edges
}

// AllWorkflowStates lists every workflow state, forward path first.
func AllWorkflowStates() []WorkflowState {
	out := make([]WorkflowState, 0, len(forwardPath)+3)
	out = append(out, forwardPath...)
	out = append(out, StateRerunRequired, StateRerunBatched, StateFailed)
	return out
}

// IsWorkflowState reports whether s is a known workflow state.
func IsWorkflowState(s WorkflowState) bool {
	if _, ok := workflowEdges[s]; ok {
		return true
	}
	_, ok := terminalStates[s]
	return ok
}

// IsTerminalState reports whether s admits no further transitions.
func IsTerminalState(s WorkflowState) bool {
	_, ok := terminalStates[s]
	return ok
}

// CanTransition reports whether the edge from -> to is legal.
func CanTransition(from, to WorkflowState) bool {
	set, ok := workflowEdges[from]
	if !ok {
		return false
	}
	_, ok = set[to]
	return ok
}

// ForwardStep returns the next state on the main path after s, and false if
// s is not on the main path or is the final state.
func ForwardStep(s WorkflowState) (WorkflowState, bool) {
	for i := 0; i < len(forwardPath)-1; i++ {
		if forwardPath[i] == s {
			return forwardPath[i+1], true
		}
	}
	return "", false
}

// BatchEntryState returns the workflow state a specimen must hold to be
// eligible for a batch of type t.
func BatchEntryState(t BatchType) WorkflowState {
	switch t {
	case BatchAmplification:
		return StatePCRReady
	case BatchSeparation:
		return StateElectroReady
	case BatchRerun:
		return StateRerunRequired
	default:
		return ""
	}
}

// BatchedState returns the workflow state a specimen enters when it is
// allocated into a batch of type t.
func BatchedState(t BatchType) WorkflowState {
	switch t {
	case BatchAmplification:
		return StatePCRBatched
	case BatchSeparation:
		return StateElectroBatched
	case BatchRerun:
		return StateRerunBatched
	default:
		return ""
	}
}

func toSet(states ...WorkflowState) map[WorkflowState]struct{} {
	set := make(map[WorkflowState]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}
