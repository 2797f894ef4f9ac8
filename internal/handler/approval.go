package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/survey-participation/internal/lifecycle"
	"github.com/iliyamo/survey-participation/internal/repository"
	"github.com/iliyamo/survey-participation/internal/service"
)

// ApprovalHandler exposes the approver surface: reviewing pending
// submissions and recording decisions.
type ApprovalHandler struct {
	Svc            *service.ParticipationService
	Approvals      *repository.ApprovalRepo
	Participations *repository.ParticipationRepo
}

func NewApprovalHandler(svc *service.ParticipationService, approvals *repository.ApprovalRepo, participations *repository.ParticipationRepo) *ApprovalHandler {
	return &ApprovalHandler{Svc: svc, Approvals: approvals, Participations: participations}
}

type decisionReq struct {
	StepID uint64 `json:"step_id"`
	Reason string `json:"reason,omitempty"`
}

type decisionResp struct {
	StepID     uint64    `json:"step_id"`
	ApproverID uint64    `json:"approver_id"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// ListPending returns the release's submissions awaiting approval in
// submission order.
func (h *ApprovalHandler) ListPending(c echo.Context) error {
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ps, err := h.Participations.ListPendingByRelease(ctx, releaseID, string(lifecycle.StatePendingApproval))
	if err != nil {
		return writeError(c, err)
	}
	out := make([]participationResp, 0, len(ps))
	for i := range ps {
		out = append(out, toParticipationResp(&ps[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// Approve records an APPROVED decision on one workflow step.
func (h *ApprovalHandler) Approve(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	participationID, err := pathID(c, "participation_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req decisionReq
	if err := c.Bind(&req); err != nil || req.StepID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "step_id required"})
	}
	p, err := h.Svc.Approve(c.Request().Context(), uid, participationID, req.StepID, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toParticipationResp(p))
}

// Reject records a REJECTED decision and releases the submission's
// filled units.
func (h *ApprovalHandler) Reject(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	participationID, err := pathID(c, "participation_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req decisionReq
	if err := c.Bind(&req); err != nil || req.StepID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "step_id required"})
	}
	p, err := h.Svc.Reject(c.Request().Context(), uid, participationID, req.StepID, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toParticipationResp(p))
}

// Decisions lists the recorded decisions for one participation.
func (h *ApprovalHandler) Decisions(c echo.Context) error {
	participationID, err := pathID(c, "participation_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	decisions, err := h.Approvals.DecisionsByParticipation(ctx, participationID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]decisionResp, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, decisionResp{
			StepID:     d.StepID,
			ApproverID: d.ApproverID,
			Decision:   d.Decision,
			Reason:     d.Reason,
			DecidedAt:  d.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}
