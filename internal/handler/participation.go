package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/repository"
	"github.com/iliyamo/survey-participation/internal/service"
)

// ParticipationHandler exposes the student-facing participation flow.
type ParticipationHandler struct {
	Svc *service.ParticipationService
}

func NewParticipationHandler(svc *service.ParticipationService) *ParticipationHandler {
	return &ParticipationHandler{Svc: svc}
}

// ----- DTOs -----

type holdReq struct {
	OptionID      uint64  `json:"option_id"`
	QuotaBucketID *uint64 `json:"quota_bucket_id,omitempty"`
}

type submitReq struct {
	Selections []uint64        `json:"selections"`
	Answers    json.RawMessage `json:"answers,omitempty"`
}

type participationResp struct {
	ID          uint64          `json:"id"`
	ReleaseID   uint64          `json:"release_id"`
	State       string          `json:"state"`
	Eligibility json.RawMessage `json:"eligibility,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	AllocatedAt *time.Time      `json:"allocated_at,omitempty"`
}

type holdResp struct {
	ID            uint64    `json:"id"`
	OptionID      uint64    `json:"option_id"`
	QuotaBucketID *uint64   `json:"quota_bucket_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func toParticipationResp(p *model.Participation) participationResp {
	return participationResp{
		ID:          p.ID,
		ReleaseID:   p.ReleaseID,
		State:       p.State,
		Eligibility: p.EligibilityResult,
		SubmittedAt: p.SubmittedAt,
		ApprovedAt:  p.ApprovedAt,
		AllocatedAt: p.AllocatedAt,
	}
}

// CheckEligibility evaluates the caller against the release's rules
// without side effects.
func (h *ParticipationHandler) CheckEligibility(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	res, err := h.Svc.CheckEligibility(c.Request().Context(), uid, releaseID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Start creates the caller's participation on the release.
func (h *ParticipationHandler) Start(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	p, result, err := h.Svc.StartParticipation(c.Request().Context(), uid, releaseID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"participation": toParticipationResp(p),
		"decision":      result,
	})
}

// Hold claims one unit of an option's capacity for the caller.
func (h *ParticipationHandler) Hold(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req holdReq
	if err := c.Bind(&req); err != nil || req.OptionID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "option_id required"})
	}
	hld, err := h.Svc.HoldOption(c.Request().Context(), uid, releaseID, req.OptionID, req.QuotaBucketID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, holdResp{
		ID:            hld.ID,
		OptionID:      hld.OptionID,
		QuotaBucketID: hld.QuotaBucketID,
		ExpiresAt:     hld.ExpiresAt,
	})
}

// ReleaseHold voluntarily gives back the caller's active holds.
func (h *ParticipationHandler) ReleaseHold(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	p, err := h.Svc.ReleaseHold(c.Request().Context(), uid, releaseID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toParticipationResp(p))
}

// Submit converts the caller's holds into a submission.
func (h *ParticipationHandler) Submit(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req submitReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if len(req.Selections) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "selections required"})
	}
	p, err := h.Svc.SubmitSurvey(c.Request().Context(), uid, releaseID, req.Selections, req.Answers)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toParticipationResp(p))
}

// GetMine returns the caller's participation on a release.
func (h *ParticipationHandler) GetMine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	p, err := h.Svc.GetMine(c.Request().Context(), uid, releaseID)
	if err != nil {
		if err == repository.ErrParticipationNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no participation"})
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toParticipationResp(p))
}

// ListMine returns all of the caller's participations.
func (h *ParticipationHandler) ListMine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ps, err := h.Svc.ListMine(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]participationResp, 0, len(ps))
	for i := range ps {
		out = append(out, toParticipationResp(&ps[i]))
	}
	return c.JSON(http.StatusOK, out)
}
