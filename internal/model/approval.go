package model

import "time"

// Approval decisions as stored in approvals.decision.
const (
	ApprovalDecisionApproved = "APPROVED"
	ApprovalDecisionRejected = "REJECTED"
)

// ApprovalStep is one required sign-off in a release's approval
// workflow.  A release with RequiresApproval owns one or more ordered
// steps; a submission is approved once every step has a recorded
// APPROVED decision.
//
// Fields:
//  ID        – primary key identifier.
//  ReleaseID – release this step belongs to.
//  Name      – display name of the step (e.g. "advisor sign-off").
//  Position  – ordering of the step within the workflow.
//  CreatedAt – creation timestamp.
type ApprovalStep struct {
	ID        uint64    // approval_steps.id
	ReleaseID uint64    // approval_steps.release_id
	Name      string    // approval_steps.name
	Position  uint32    // approval_steps.position
	CreatedAt time.Time // approval_steps.created_at
}

// Approval records one approver's decision on a participation for a
// specific workflow step.
//
// Fields:
//  ID              – primary key identifier.
//  ParticipationID – participation being decided on.
//  StepID          – workflow step the decision belongs to.
//  ApproverID      – user who made the decision.
//  Decision        – APPROVED or REJECTED.
//  Reason          – free-form reason, mainly for rejections.
//  CreatedAt       – creation timestamp.
type Approval struct {
	ID              uint64    // approvals.id
	ParticipationID uint64    // approvals.participation_id
	StepID          uint64    // approvals.step_id
	ApproverID      uint64    // approvals.approver_id
	Decision        string    // approvals.decision
	Reason          string    // approvals.reason
	CreatedAt       time.Time // approvals.created_at
}
