// Package pipeline normalizes raw result payloads through ordered
// filter/enrich/prioritize stages before they reach the store.
package pipeline

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Processor owns the rule registry and runs payloads through the stages.
type Processor struct {
	mu       sync.RWMutex
	rules    map[Stage][]*Rule
	strategy Strategy
	nextSeq  int
	logger   *zap.Logger
}

// NewProcessor creates a processor with the default rules registered:
// filter_empty in the filtered stage and add_timestamp in the enriched
// stage. The default strategy is sequential.
func NewProcessor(logger *zap.Logger) *Processor {
	p := &Processor{
		rules:    make(map[Stage][]*Rule),
		strategy: StrategySequential,
		logger:   logger,
	}
	for _, s := range Stages {
		p.rules[s] = nil
	}

	p.AddRule(&Rule{
		Name:        "filter_empty",
		Description: "Drop payloads with no content",
		Stage:       StageFiltered,
		Condition:   func(r Payload) bool { return len(r) == 0 },
		Action:      func(Payload) Payload { return nil },
		Priority:    100,
		Enabled:     true,
	})
	p.AddRule(&Rule{
		Name:        "add_timestamp",
		Description: "Attach a processing timestamp when missing",
		Stage:       StageEnriched,
		Condition: func(r Payload) bool {
			_, ok := r["timestamp"]
			return !ok
		},
		Action: func(r Payload) Payload {
			out := clonePayload(r)
			out["timestamp"] = time.Now().Unix()
			return out
		},
		Priority: 100,
		Enabled:  true,
	})
	return p
}

// AddRule registers a rule into its stage.
func (p *Processor) AddRule(r *Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSeq++
	r.seq = p.nextSeq
	p.rules[r.Stage] = append(p.rules[r.Stage], r)
}

// RemoveRule deletes a rule by name, reporting whether it existed.
func (p *Processor) RemoveRule(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for stage, rules := range p.rules {
		for i, r := range rules {
			if r.Name == name {
				p.rules[stage] = append(rules[:i], rules[i+1:]...)
				return true
			}
		}
	}
	return false
}

// EnableRule marks a rule enabled, reporting whether it existed.
func (p *Processor) EnableRule(name string) bool { return p.setEnabled(name, true) }

// DisableRule marks a rule disabled, reporting whether it existed.
func (p *Processor) DisableRule(name string) bool { return p.setEnabled(name, false) }

func (p *Processor) setEnabled(name string, enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rules := range p.rules {
		for _, r := range rules {
			if r.Name == name {
				r.Enabled = enabled
				return true
			}
		}
	}
	return false
}

// Rules returns the rules of one stage, or of every stage when stage is
// empty.
func (p *Processor) Rules(stage Stage) []*Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if stage != "" {
		return append([]*Rule(nil), p.rules[stage]...)
	}
	var out []*Rule
	for _, s := range Stages {
		out = append(out, p.rules[s]...)
	}
	return out
}

// SetStrategy selects the intra-stage combination mode.
func (p *Processor) SetStrategy(s Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = s
}

// Strategy returns the active combination mode.
func (p *Processor) Strategy() Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

// ProcessResult runs one payload through the stages. A nil return means
// the payload was dropped. After each completed stage a history entry is
// appended to pctx.
func (p *Processor) ProcessResult(payload Payload, pctx *Context) Payload {
	current := clonePayload(payload)

	for _, stage := range Stages {
		matching := p.matchingRules(stage, current)
		if len(matching) > 0 {
			current = p.runStage(stage, matching, current)
			if len(current) == 0 {
				// The dropping stage still ran; it belongs in the history.
				pctx.History = append(pctx.History, HistoryEntry{Stage: stage, Timestamp: time.Now()})
				p.logger.Debug("payload dropped",
					zap.String("stage", string(stage)),
					zap.String("result_id", pctx.ResultID))
				return nil
			}
		}
		pctx.History = append(pctx.History, HistoryEntry{Stage: stage, Timestamp: time.Now()})
	}
	return current
}

// ProcessResults maps ProcessResult over many payloads, preserving order
// and discarding dropped ones.
func (p *Processor) ProcessResults(payloads []Payload) []Payload {
	out := make([]Payload, 0, len(payloads))
	for i, payload := range payloads {
		pctx := NewContext("", "")
		pctx.Metadata["batch_index"] = i
		if processed := p.ProcessResult(payload, pctx); processed != nil {
			out = append(out, processed)
		}
	}
	return out
}

// matchingRules snapshots the enabled rules of stage whose condition
// matches payload, in priority order (registration order breaks ties).
func (p *Processor) matchingRules(stage Stage, payload Payload) []*Rule {
	p.mu.RLock()
	rules := append([]*Rule(nil), p.rules[stage]...)
	p.mu.RUnlock()

	var matching []*Rule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if p.safeMatch(r, payload) {
			matching = append(matching, r)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].Priority != matching[j].Priority {
			return matching[i].Priority > matching[j].Priority
		}
		return matching[i].seq < matching[j].seq
	})
	return matching
}

func (p *Processor) runStage(stage Stage, rules []*Rule, input Payload) Payload {
	switch p.Strategy() {
	case StrategyParallel:
		return p.runParallel(rules, input)
	case StrategyBatch:
		return p.runBatch(rules, input)
	default:
		return p.runSequential(rules, input)
	}
}

// runSequential threads the evolving payload through each rule in turn.
// A rule returning nil (or emptying the payload) drops it.
func (p *Processor) runSequential(rules []*Rule, input Payload) Payload {
	current := input
	for _, r := range rules {
		out, ok := p.safeApply(r, current)
		if !ok {
			continue
		}
		if len(out) == 0 {
			return nil
		}
		current = out
	}
	return current
}

// runParallel applies every rule to the stage's input snapshot
// concurrently and merges the outputs in registration order, so
// overlapping fields resolve deterministically even though execution
// order does not. Rules must not depend on seeing each other's effects.
func (p *Processor) runParallel(rules []*Rule, input Payload) Payload {
	outputs := make([]Payload, len(rules))
	var wg sync.WaitGroup
	for i, r := range rules {
		wg.Add(1)
		go func(i int, r *Rule) {
			defer wg.Done()
			if out, ok := p.safeApply(r, clonePayload(input)); ok {
				outputs[i] = out
			}
		}(i, r)
	}
	wg.Wait()

	merged := clonePayload(input)
	for _, out := range outputs {
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged
}

// runBatch applies each rule to the stage's input snapshot in descending
// priority order, folding every output into one accumulating payload.
func (p *Processor) runBatch(rules []*Rule, input Payload) Payload {
	merged := clonePayload(input)
	for _, r := range rules {
		out, ok := p.safeApply(r, clonePayload(input))
		if !ok {
			continue
		}
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged
}

// safeMatch evaluates a condition, treating a panic as no-match.
func (p *Processor) safeMatch(r *Rule, payload Payload) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("rule condition panicked",
				zap.String("rule", r.Name), zap.Any("panic", rec))
			matched = false
		}
	}()
	return r.Condition(payload)
}

// safeApply runs an action, isolating panics so one failing rule cannot
// corrupt the run. ok is false when the rule was skipped.
func (p *Processor) safeApply(r *Rule, payload Payload) (out Payload, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("rule action panicked",
				zap.String("rule", r.Name), zap.Any("panic", rec))
			out, ok = nil, false
		}
	}()
	return r.Action(payload), true
}
