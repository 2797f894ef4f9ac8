package eligibility

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optID(v uint64) *uint64 { return &v }

func testContext() *EvaluationContext {
	return &EvaluationContext{
		UserID:    10,
		ReleaseID: 1,
		Role:      "STUDENT",
		Metadata:  map[string]string{"year": "3", "major": "computer science"},
		Groups:    map[string]struct{}{"cohort-2026": {}, "honors": {}},
		Prior: map[uint64]PriorParticipation{
			5: {ReleaseID: 5, Submitted: true, Approved: true},
			6: {ReleaseID: 6, Submitted: true},
		},
		Documents: []DocumentStatus{
			{Type: "consent", Verified: true},
			{Type: "transcript", OptionID: optID(3), Verified: false},
		},
		Quota: []QuotaView{
			{RuleKey: "cohort-2026", Available: 2},
			{RuleKey: "alumni", Available: 50},
		},
		Now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func mustParse(t *testing.T, raw string) *Node {
	t.Helper()
	n, err := Parse(json.RawMessage(raw))
	require.NoError(t, err)
	return n
}

func TestEvaluate_Leaves(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Decision
	}{
		{"group member present", `{"operator": "group_member", "group": "honors"}`, DecisionAllow},
		{"group member absent", `{"operator": "group_member", "group": "alumni"}`, DecisionDeny},
		{"role match", `{"operator": "role", "role": "STUDENT"}`, DecisionAllow},
		{"role mismatch", `{"operator": "role", "role": "ADMIN"}`, DecisionDeny},
		{"prior survey completed", `{"operator": "survey_completed", "release_id": 6}`, DecisionAllow},
		{"prior survey not approved", `{"operator": "survey_approved", "release_id": 6}`, DecisionDeny},
		{"prior survey approved", `{"operator": "survey_approved", "release_id": 5}`, DecisionAllow},
		{"no prior participation at all", `{"operator": "survey_completed", "release_id": 99}`, DecisionDeny},
		{"not allocated anywhere", `{"operator": "survey_allocated", "release_id": 5}`, DecisionDeny},
		{"inside time window", `{"operator": "time_window", "start": "2026-03-01T00:00:00Z", "end": "2026-04-01T00:00:00Z"}`, DecisionAllow},
		{"window already closed", `{"operator": "time_window", "start": "2026-01-01T00:00:00Z", "end": "2026-02-01T00:00:00Z"}`, DecisionDeny},
		{"before deadline", `{"operator": "time_before", "at": "2026-06-01T00:00:00Z"}`, DecisionAllow},
		{"deadline passed", `{"operator": "time_before", "at": "2026-01-01T00:00:00Z"}`, DecisionDeny},
		{"after opening", `{"operator": "time_after", "at": "2026-01-01T00:00:00Z"}`, DecisionAllow},
	}

	ev := NewEvaluator(nil)
	ec := testContext()

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := ev.Evaluate(mustParse(t, tt.raw), ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Decision)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestEvaluate_Metadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Decision
	}{
		{"eq match", `{"operator": "metadata", "key": "year", "cmp": "eq", "value": "3"}`, DecisionAllow},
		{"eq mismatch", `{"operator": "metadata", "key": "year", "cmp": "eq", "value": "4"}`, DecisionDeny},
		{"contains", `{"operator": "metadata", "key": "major", "cmp": "contains", "value": "computer"}`, DecisionAllow},
		{"missing key denies", `{"operator": "metadata", "key": "gpa", "cmp": "eq", "value": "4"}`, DecisionDeny},
		{"numeric gt", `{"operator": "metadata", "key": "year", "cmp": "gt", "value": "2"}`, DecisionAllow},
		{"numeric lt fails", `{"operator": "metadata", "key": "year", "cmp": "lt", "value": "3"}`, DecisionDeny},
		{"numeric gte boundary", `{"operator": "metadata", "key": "year", "cmp": "gte", "value": "3"}`, DecisionAllow},
		{"numeric lte boundary", `{"operator": "metadata", "key": "year", "cmp": "lte", "value": "3"}`, DecisionAllow},
		{"non-numeric value under ordering comparator", `{"operator": "metadata", "key": "major", "cmp": "gt", "value": "2"}`, DecisionDeny},
	}

	ev := NewEvaluator(nil)
	ec := testContext()

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := ev.Evaluate(mustParse(t, tt.raw), ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Decision)
		})
	}
}

func TestEvaluate_Documents(t *testing.T) {
	t.Parallel()

	ev := NewEvaluator(nil)
	ec := testContext()

	t.Run("verified document allows", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "document_verified", "document_type": "consent"}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllow, res.Decision)
	})

	t.Run("uploaded but unverified yields requirement", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "document_verified", "document_type": "transcript", "option_id": 3}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllowWithRequirements, res.Decision)
		require.Len(t, res.Requirements, 1)
		assert.Equal(t, RequirementTypeDocument, res.Requirements[0].Type)
		assert.Equal(t, "transcript", res.Requirements[0].DocumentType)
	})

	t.Run("missing document yields requirement not deny", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "document_uploaded", "document_type": "visa"}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllowWithRequirements, res.Decision)
		require.Len(t, res.Requirements, 1)
		assert.Equal(t, "visa", res.Requirements[0].DocumentType)
	})

	t.Run("uploaded check passes regardless of verification", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "document_uploaded", "document_type": "transcript", "option_id": 3}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllow, res.Decision)
	})

	t.Run("wrong option scope does not match", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "document_uploaded", "document_type": "transcript", "option_id": 9}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllowWithRequirements, res.Decision)
	})
}

func TestEvaluate_Quota(t *testing.T) {
	t.Parallel()

	ev := NewEvaluator(nil)
	ec := testContext()

	t.Run("enough quota in the user's groups", func(t *testing.T) {
		t.Parallel()
		// Only the cohort-2026 bucket counts; the alumni bucket belongs to
		// a group the user is not in.
		res, err := ev.Evaluate(mustParse(t, `{"operator": "quota_available", "min": 2}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllow, res.Decision)
	})

	t.Run("insufficient quota waitlists with available count", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "quota_available", "min": 5}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionWaitlist, res.Decision)
		assert.Equal(t, 2, res.Metadata["available"])
	})

	t.Run("omitted min means at least one", func(t *testing.T) {
		t.Parallel()
		empty := testContext()
		empty.Quota = nil
		res, err := ev.Evaluate(mustParse(t, `{"operator": "quota_available"}`), empty)
		require.NoError(t, err)
		assert.Equal(t, DecisionWaitlist, res.Decision)
	})
}

func TestEvaluate_And(t *testing.T) {
	t.Parallel()

	ev := NewEvaluator(nil)
	ec := testContext()

	t.Run("all allow", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "and", "children": [
			{"operator": "role", "role": "STUDENT"},
			{"operator": "group_member", "group": "honors"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllow, res.Decision)
	})

	t.Run("first deny short-circuits", func(t *testing.T) {
		t.Parallel()

		// The custom child would error if reached; the preceding DENY must
		// stop evaluation before it.
		called := false
		tripwire := map[string]CustomFunc{
			"tripwire": func(json.RawMessage, *EvaluationContext) (Result, error) {
				called = true
				return allow("reached"), nil
			},
		}
		res, err := NewEvaluator(tripwire).Evaluate(mustParse(t, `{"operator": "and", "children": [
			{"operator": "role", "role": "ADMIN"},
			{"operator": "custom", "name": "tripwire"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionDeny, res.Decision)
		assert.False(t, called, "children after a DENY must not be evaluated")
	})

	t.Run("requirements merge across children", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "and", "children": [
			{"operator": "document_verified", "document_type": "transcript", "option_id": 3},
			{"operator": "document_uploaded", "document_type": "visa"},
			{"operator": "role", "role": "STUDENT"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllowWithRequirements, res.Decision)
		assert.Len(t, res.Requirements, 2)
	})

	t.Run("waitlist child wins over requirements", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "and", "children": [
			{"operator": "document_uploaded", "document_type": "visa"},
			{"operator": "quota_available", "min": 100}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionWaitlist, res.Decision)
		// Requirements from sibling children ride along on the waitlist
		// result so the user still sees what is outstanding.
		assert.Len(t, res.Requirements, 1)
	})

	t.Run("deny beats waitlist", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "and", "children": [
			{"operator": "quota_available", "min": 100},
			{"operator": "role", "role": "ADMIN"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionDeny, res.Decision)
	})
}

func TestEvaluate_Or(t *testing.T) {
	t.Parallel()

	ev := NewEvaluator(nil)
	ec := testContext()

	t.Run("first allow short-circuits", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "or", "children": [
			{"operator": "group_member", "group": "honors"},
			{"operator": "custom", "name": "never_registered"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllow, res.Decision)
	})

	t.Run("requirements branch counts as allowing", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "or", "children": [
			{"operator": "role", "role": "ADMIN"},
			{"operator": "document_uploaded", "document_type": "visa"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllowWithRequirements, res.Decision)
	})

	t.Run("waitlist preferred over deny", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "or", "children": [
			{"operator": "role", "role": "ADMIN"},
			{"operator": "quota_available", "min": 100}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionWaitlist, res.Decision)
	})

	t.Run("all deny joins the reasons", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "or", "children": [
			{"operator": "role", "role": "ADMIN"},
			{"operator": "group_member", "group": "alumni"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionDeny, res.Decision)
		assert.Contains(t, res.Reason, "; ")
	})
}

func TestEvaluate_Not(t *testing.T) {
	t.Parallel()

	ev := NewEvaluator(nil)
	ec := testContext()

	t.Run("inverts deny", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "not", "children": [
			{"operator": "group_member", "group": "alumni"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllow, res.Decision)
	})

	t.Run("inverts allow", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "not", "children": [
			{"operator": "role", "role": "STUDENT"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionDeny, res.Decision)
	})

	t.Run("requirement result negates to deny", func(t *testing.T) {
		t.Parallel()
		res, err := ev.Evaluate(mustParse(t, `{"operator": "not", "children": [
			{"operator": "document_uploaded", "document_type": "visa"}
		]}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionDeny, res.Decision)
		assert.Empty(t, res.Requirements)
	})
}

func TestEvaluate_Custom(t *testing.T) {
	t.Parallel()

	ec := testContext()

	t.Run("registered function receives params and context", func(t *testing.T) {
		t.Parallel()
		var gotParams json.RawMessage
		var gotUser uint64
		ev := NewEvaluator(map[string]CustomFunc{
			"min_year": func(params json.RawMessage, ec *EvaluationContext) (Result, error) {
				gotParams = params
				gotUser = ec.UserID
				return allow("custom check passed"), nil
			},
		})
		res, err := ev.Evaluate(mustParse(t, `{"operator": "custom", "name": "min_year", "params": {"min": 3}}`), ec)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllow, res.Decision)
		assert.JSONEq(t, `{"min": 3}`, string(gotParams))
		assert.Equal(t, uint64(10), gotUser)
	})

	t.Run("unregistered function is a structural error", func(t *testing.T) {
		t.Parallel()
		ev := NewEvaluator(nil)
		_, err := ev.Evaluate(mustParse(t, `{"operator": "custom", "name": "ghost"}`), ec)
		require.Error(t, err)

		var se *StructuralError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, OpCustom, se.Op)
		assert.Equal(t, "ghost", se.Name)
		assert.Contains(t, se.Error(), "ghost")
	})

	t.Run("structural error propagates out of composites", func(t *testing.T) {
		t.Parallel()
		ev := NewEvaluator(nil)
		_, err := ev.Evaluate(mustParse(t, `{"operator": "or", "children": [
			{"operator": "role", "role": "ADMIN"},
			{"operator": "custom", "name": "ghost"}
		]}`), ec)
		var se *StructuralError
		require.True(t, errors.As(err, &se))
	})
}
