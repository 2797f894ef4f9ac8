package model

import (
	"encoding/json"
	"time"
)

// Release is a published instance of a survey.  Each release carries its
// own eligibility rule description, its own time window and an optional
// approval workflow.  Students participate in releases, never in the
// underlying survey directly.
//
// Fields:
//  ID               – primary key identifier.
//  SurveyID         – survey this release was published from.
//  Title            – display title shown to participants.
//  RuleDescription  – JSON eligibility rule description (nullable; absent
//                     means no rules, which evaluates fail-open to ALLOW).
//  RequiresApproval – whether submissions enter an approval workflow.
//  OpensAt          – when participation opens.
//  ClosesAt         – when participation closes.
//  CreatedBy        – admin user who published the release.
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp.
type Release struct {
	ID               uint64          // releases.id
	SurveyID         uint64          // releases.survey_id
	Title            string          // releases.title
	RuleDescription  json.RawMessage // releases.rule_description (nullable JSON)
	RequiresApproval bool            // releases.requires_approval
	OpensAt          time.Time       // releases.opens_at
	ClosesAt         time.Time       // releases.closes_at
	CreatedBy        uint64          // releases.created_by
	CreatedAt        time.Time       // releases.created_at
	UpdatedAt        time.Time       // releases.updated_at
}
