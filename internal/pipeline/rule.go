package pipeline

import (
	"maps"
	"time"
)

// Stage is one ordered phase of the pipeline. Stages always run in the
// order filtered, enriched, prioritized.
type Stage string

const (
	StageFiltered    Stage = "filtered"
	StageEnriched    Stage = "enriched"
	StagePrioritized Stage = "prioritized"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageFiltered, StageEnriched, StagePrioritized}

// Strategy selects how matching rules combine within one stage.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyBatch      Strategy = "batch"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategySequential, StrategyParallel, StrategyBatch:
		return Strategy(s), true
	default:
		return "", false
	}
}

// Payload is the result document flowing through the pipeline.
type Payload map[string]any

// Condition decides whether a rule applies to a payload.
type Condition func(Payload) bool

// Action transforms a payload. Returning nil drops the payload under the
// sequential strategy and contributes nothing under parallel or batch.
type Action func(Payload) Payload

// Rule is one registered transformation.
type Rule struct {
	Name        string
	Description string
	Stage       Stage
	Condition   Condition
	Action      Action
	Priority    int
	Enabled     bool

	// seq preserves registration order for deterministic tie-breaks.
	seq int
}

// Context carries per-result processing metadata. History is the
// append-only log of completed stages.
type Context struct {
	AgentID   string
	ResultID  string
	Timestamp time.Time
	Metadata  map[string]any
	History   []HistoryEntry
}

// HistoryEntry records one completed stage.
type HistoryEntry struct {
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// NewContext creates a processing context for one result.
func NewContext(agentID, resultID string) *Context {
	return &Context{
		AgentID:   agentID,
		ResultID:  resultID,
		Timestamp: time.Now(),
		Metadata:  map[string]any{},
	}
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return Payload{}
	}
	return maps.Clone(p)
}
