package domain

// Stage identifies one step of the task-processing pipeline.
// The set of stages is closed: routing switches over these values
// exhaustively, so adding a stage is a compile-time-checked change.
type Stage string

// Pipeline stages in execution order.
const (
	StageAnalyze   Stage = "analyze-task"
	StagePlan      Stage = "generate-plan"
	StageDecompose Stage = "decompose-task"
)

// pipelineOrder records the required execution order of stages for a
// task. Stage dependencies are looked up here explicitly rather than
// being implied by queue priorities alone, so an inverted or duplicated
// priority cannot silently reorder the pipeline.
var pipelineOrder = []Stage{
	StageAnalyze,
	StagePlan,
	StageDecompose,
}

// Base queue priorities per stage. Higher runs sooner; each stage sits
// below its precursor so chained work for one task never overtakes
// earlier stages of another.
const (
	PriorityAnalyze   = 8
	PriorityPlan      = 7
	PriorityDecompose = 6
)

// PipelineStages returns the stages in execution order.
func PipelineStages() []Stage {
	stages := make([]Stage, len(pipelineOrder))
	copy(stages, pipelineOrder)
	return stages
}

// IsValid reports whether s names a known pipeline stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageAnalyze, StagePlan, StageDecompose:
		return true
	}
	return false
}

// Precursor returns the stage that must have completed before s may
// run, and false for the first stage of the pipeline.
func (s Stage) Precursor() (Stage, bool) {
	for i, stage := range pipelineOrder {
		if stage == s {
			if i == 0 {
				return "", false
			}
			return pipelineOrder[i-1], true
		}
	}
	return "", false
}

// Next returns the stage that follows s in the pipeline, and false for
// the final stage.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range pipelineOrder {
		if stage == s {
			if i == len(pipelineOrder)-1 {
				return "", false
			}
			return pipelineOrder[i+1], true
		}
	}
	return "", false
}

// Priority returns the base queue priority for the stage.
func (s Stage) Priority() int {
	switch s {
	case StageAnalyze:
		return PriorityAnalyze
	case StagePlan:
		return PriorityPlan
	case StageDecompose:
		return PriorityDecompose
	default:
		return 0
	}
}
