package eligibility

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// ReasonNoRules is the reason attached to the fail-open ALLOW returned
// for a release without any rule description.  Releases without rules
// are open to everyone; this is a deliberate product choice.
const ReasonNoRules = "No eligibility rules defined"

// RuleSource supplies the persisted rule description of a release.
type RuleSource interface {
	RuleDescription(ctx context.Context, releaseID uint64) (json.RawMessage, error)
}

// ContextBuilder assembles the evaluation snapshot for a user/release
// pair.  Implementations query current state; the engine never caches
// the result.
type ContextBuilder interface {
	Build(ctx context.Context, userID, releaseID uint64) (*EvaluationContext, error)
}

// Engine orchestrates rule fetching, parsing, context building and
// evaluation for a (user, release) pair.  It is safe for concurrent use.
type Engine struct {
	rules    RuleSource
	contexts ContextBuilder
	eval     *Evaluator
}

// NewEngine builds an Engine.  The custom registry may be nil.
func NewEngine(rules RuleSource, contexts ContextBuilder, custom map[string]CustomFunc) *Engine {
	return &Engine{
		rules:    rules,
		contexts: contexts,
		eval:     NewEvaluator(custom),
	}
}

// Evaluate decides whether userID may enter releaseID.  A release with
// no rule description evaluates to ALLOW.  Parse and structural errors
// are returned as errors; rule outcomes, including DENY and WAITLIST,
// are returned in the Result.
func (e *Engine) Evaluate(ctx context.Context, userID, releaseID uint64) (*Result, error) {
	raw, err := e.rules.RuleDescription(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if emptyRules(raw) {
		res := allow(ReasonNoRules)
		return &res, nil
	}
	node, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	ec, err := e.contexts.Build(ctx, userID, releaseID)
	if err != nil {
		return nil, err
	}
	res, err := e.eval.Evaluate(node, ec)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// BatchItem is the per-user outcome of a batch evaluation.
type BatchItem struct {
	Result *Result
	Err    error
}

// EvaluateBatch evaluates many users against one release as independent
// parallel evaluations.  Each user gets a fresh context snapshot and no
// state is shared between evaluations.
func (e *Engine) EvaluateBatch(ctx context.Context, releaseID uint64, userIDs []uint64) map[uint64]BatchItem {
	out := make(map[uint64]BatchItem, len(userIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, uid := range userIDs {
		wg.Add(1)
		go func(uid uint64) {
			defer wg.Done()
			res, err := e.Evaluate(ctx, uid, releaseID)
			mu.Lock()
			out[uid] = BatchItem{Result: res, Err: err}
			mu.Unlock()
		}(uid)
	}
	wg.Wait()
	return out
}

// Validate parses a rule description without evaluating it, so rule
// authors can catch structural errors before publishing.  An empty
// description is valid (it means no rules).
func (e *Engine) Validate(raw json.RawMessage) error {
	if emptyRules(raw) {
		return nil
	}
	_, err := Parse(raw)
	return err
}

func emptyRules(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	switch string(trimmed) {
	case "null", "{}":
		return true
	}
	return false
}
