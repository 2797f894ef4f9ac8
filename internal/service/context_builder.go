package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/survey-participation/internal/eligibility"
	"github.com/iliyamo/survey-participation/internal/lifecycle"
	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/repository"
)

// ContextBuilder assembles eligibility evaluation snapshots from the
// repositories.  Every Build is a fresh read of current state; nothing
// is cached, because eligibility must reflect what is true right now.
type ContextBuilder struct {
	users          *repository.UserRepo
	groups         *repository.GroupRepo
	participations *repository.ParticipationRepo
	documents      *repository.DocumentRepo
	quotas         *repository.QuotaRepo
}

// NewContextBuilder wires a ContextBuilder.
func NewContextBuilder(users *repository.UserRepo, groups *repository.GroupRepo,
	participations *repository.ParticipationRepo, documents *repository.DocumentRepo,
	quotas *repository.QuotaRepo) *ContextBuilder {
	return &ContextBuilder{
		users:          users,
		groups:         groups,
		participations: participations,
		documents:      documents,
		quotas:         quotas,
	}
}

// Build implements eligibility.ContextBuilder.
func (b *ContextBuilder) Build(ctx context.Context, userID, releaseID uint64) (*eligibility.EvaluationContext, error) {
	user, err := b.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found", userID)
	}

	names, err := b.groups.NamesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]struct{}, len(names))
	for _, n := range names {
		groups[n] = struct{}{}
	}

	prior, err := b.participations.PriorByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	priors := make(map[uint64]eligibility.PriorParticipation, len(prior))
	for rid, p := range prior {
		priors[rid] = eligibility.PriorParticipation{
			ReleaseID: p.ReleaseID,
			State:     p.State,
			Submitted: p.SubmittedAt != nil,
			Approved:  p.ApprovedAt != nil || p.State == string(lifecycle.StateApproved) || p.State == string(lifecycle.StateAllocated),
			Allocated: p.AllocatedAt != nil || p.State == string(lifecycle.StateAllocated),
		}
	}

	docs, err := b.documents.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	documents := make([]eligibility.DocumentStatus, 0, len(docs))
	for _, d := range docs {
		if d.Status == model.DocumentStatusRejected {
			continue
		}
		documents = append(documents, eligibility.DocumentStatus{
			Type:     d.Type,
			OptionID: d.OptionID,
			Verified: d.Status == model.DocumentStatusVerified,
		})
	}

	buckets, err := b.quotas.ListByRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	quota := make([]eligibility.QuotaView, 0, len(buckets))
	for _, bk := range buckets {
		quota = append(quota, eligibility.QuotaView{
			RuleKey:   bk.RuleKey,
			Available: bk.Available(),
		})
	}

	return &eligibility.EvaluationContext{
		UserID:    userID,
		ReleaseID: releaseID,
		Role:      user.Role,
		Metadata:  metadataMap(user.Metadata),
		Groups:    groups,
		Prior:     priors,
		Documents: documents,
		Quota:     quota,
		Now:       time.Now().UTC(),
	}, nil
}

// metadataMap flattens the user's JSON attribute document into string
// values.  Numeric rule comparisons coerce the strings back as needed.
func metadataMap(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
