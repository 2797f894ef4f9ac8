package eligibility

import "time"

// PriorParticipation summarizes the outcome of a user's participation in
// an earlier release, for prerequisite rules.
type PriorParticipation struct {
	ReleaseID uint64
	State     string
	Submitted bool
	Approved  bool
	Allocated bool
}

// DocumentStatus is the snapshot form of an uploaded document.
type DocumentStatus struct {
	Type     string
	OptionID *uint64 // nil when the document is not scoped to an option
	Verified bool
}

// QuotaView is the snapshot of one quota bucket belonging to an option
// of the release under evaluation.
type QuotaView struct {
	RuleKey   string // group name the bucket is reserved for
	Available int    // quota - held - filled at snapshot time
}

// EvaluationContext is an immutable snapshot of everything the evaluator
// may consult: user attributes, group memberships, prior participations,
// documents, quota availability and the evaluation time.  It is built
// fresh for every evaluation and never cached, since eligibility must
// reflect current state.
type EvaluationContext struct {
	UserID    uint64
	ReleaseID uint64
	Role      string
	Metadata  map[string]string
	Groups    map[string]struct{}           // group names the user belongs to
	Prior     map[uint64]PriorParticipation // keyed by prerequisite release id
	Documents []DocumentStatus
	Quota     []QuotaView
	Now       time.Time
}

// InGroup reports whether the user belongs to the named group.
func (ec *EvaluationContext) InGroup(name string) bool {
	_, ok := ec.Groups[name]
	return ok
}

// QuotaAvailable sums the available units across all quota buckets that
// are reserved for one of the user's groups.
func (ec *EvaluationContext) QuotaAvailable() int {
	total := 0
	for _, q := range ec.Quota {
		if ec.InGroup(q.RuleKey) {
			total += q.Available
		}
	}
	return total
}

// FindDocument returns the user's document matching the given type and,
// when optionID is non-nil, the same option scope.  A document with no
// option scope satisfies an option-scoped lookup.
func (ec *EvaluationContext) FindDocument(docType string, optionID *uint64) (DocumentStatus, bool) {
	for _, d := range ec.Documents {
		if d.Type != docType {
			continue
		}
		if optionID != nil && d.OptionID != nil && *d.OptionID != *optionID {
			continue
		}
		return d, true
	}
	return DocumentStatus{}, false
}
