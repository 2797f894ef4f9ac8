package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuleSource struct {
	rules map[uint64]json.RawMessage
	err   error
}

func (f *fakeRuleSource) RuleDescription(_ context.Context, releaseID uint64) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules[releaseID], nil
}

type fakeContextBuilder struct {
	mu       sync.Mutex
	contexts map[uint64]*EvaluationContext
	err      error
	builds   int
}

func (f *fakeContextBuilder) Build(_ context.Context, userID, releaseID uint64) (*EvaluationContext, error) {
	f.mu.Lock()
	f.builds++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ec, ok := f.contexts[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	ec.ReleaseID = releaseID
	return ec, nil
}

func studentContext(userID uint64, groups ...string) *EvaluationContext {
	gs := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		gs[g] = struct{}{}
	}
	return &EvaluationContext{
		UserID: userID,
		Role:   "STUDENT",
		Groups: gs,
		Now:    time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestEngine_Evaluate_NoRulesFailsOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  json.RawMessage
	}{
		{"nil description", nil},
		{"empty description", json.RawMessage(``)},
		{"whitespace only", json.RawMessage("  \n\t ")},
		{"JSON null", json.RawMessage(`null`)},
		{"empty object", json.RawMessage(`{}`)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rules := &fakeRuleSource{rules: map[uint64]json.RawMessage{1: tt.raw}}
			contexts := &fakeContextBuilder{}
			e := NewEngine(rules, contexts, nil)

			res, err := e.Evaluate(context.Background(), 10, 1)
			require.NoError(t, err)
			assert.Equal(t, DecisionAllow, res.Decision)
			assert.Equal(t, ReasonNoRules, res.Reason)
			assert.Zero(t, contexts.builds, "no context should be built when there are no rules")
		})
	}
}

func TestEngine_Evaluate(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: map[uint64]json.RawMessage{
		1: json.RawMessage(`{"operator": "group_member", "group": "cohort-2026"}`),
	}}
	contexts := &fakeContextBuilder{contexts: map[uint64]*EvaluationContext{
		10: studentContext(10, "cohort-2026"),
		11: studentContext(11),
	}}
	e := NewEngine(rules, contexts, nil)

	res, err := e.Evaluate(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, res.Decision)

	res, err = e.Evaluate(context.Background(), 11, 1)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, res.Decision)
}

func TestEngine_Evaluate_Errors(t *testing.T) {
	t.Parallel()

	t.Run("rule source failure", func(t *testing.T) {
		t.Parallel()
		e := NewEngine(&fakeRuleSource{err: errors.New("db down")}, &fakeContextBuilder{}, nil)
		_, err := e.Evaluate(context.Background(), 10, 1)
		require.Error(t, err)
	})

	t.Run("malformed rules surface as parse error", func(t *testing.T) {
		t.Parallel()
		rules := &fakeRuleSource{rules: map[uint64]json.RawMessage{
			1: json.RawMessage(`{"operator": "teleport"}`),
		}}
		contexts := &fakeContextBuilder{}
		e := NewEngine(rules, contexts, nil)

		_, err := e.Evaluate(context.Background(), 10, 1)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Zero(t, contexts.builds, "parse failure must precede context building")
	})

	t.Run("context builder failure", func(t *testing.T) {
		t.Parallel()
		rules := &fakeRuleSource{rules: map[uint64]json.RawMessage{
			1: json.RawMessage(`{"operator": "role", "role": "STUDENT"}`),
		}}
		e := NewEngine(rules, &fakeContextBuilder{err: errors.New("db down")}, nil)
		_, err := e.Evaluate(context.Background(), 10, 1)
		require.Error(t, err)
	})
}

func TestEngine_EvaluateBatch(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: map[uint64]json.RawMessage{
		1: json.RawMessage(`{"operator": "group_member", "group": "cohort-2026"}`),
	}}
	contexts := &fakeContextBuilder{contexts: map[uint64]*EvaluationContext{
		10: studentContext(10, "cohort-2026"),
		11: studentContext(11),
	}}
	e := NewEngine(rules, contexts, nil)

	out := e.EvaluateBatch(context.Background(), 1, []uint64{10, 11, 12})
	require.Len(t, out, 3)

	require.NoError(t, out[10].Err)
	assert.Equal(t, DecisionAllow, out[10].Result.Decision)

	require.NoError(t, out[11].Err)
	assert.Equal(t, DecisionDeny, out[11].Result.Decision)

	// Unknown users fail individually without poisoning the batch.
	require.Error(t, out[12].Err)
	assert.Nil(t, out[12].Result)
}

func TestEngine_Validate(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeRuleSource{}, &fakeContextBuilder{}, nil)

	assert.NoError(t, e.Validate(nil))
	assert.NoError(t, e.Validate(json.RawMessage(`{}`)))
	assert.NoError(t, e.Validate(json.RawMessage(`{"operator": "role", "role": "STUDENT"}`)))

	err := e.Validate(json.RawMessage(`{"operator": "and"}`))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "$", pe.Path)
}
