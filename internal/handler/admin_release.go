package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/survey-participation/internal/eligibility"
	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/repository"
	"github.com/iliyamo/survey-participation/internal/service"
)

// AdminHandler exposes release management: publishing releases, editing
// rules, defining options, quota buckets and workflow steps, and running
// the allocation pass.
type AdminHandler struct {
	Releases  *repository.ReleaseRepo
	Options   *repository.OptionRepo
	Quotas    *repository.QuotaRepo
	Approvals *repository.ApprovalRepo
	Groups    *repository.GroupRepo
	Documents *repository.DocumentRepo
	Engine    *eligibility.Engine
	Svc       *service.ParticipationService
}

func NewAdminHandler(releases *repository.ReleaseRepo, options *repository.OptionRepo,
	quotas *repository.QuotaRepo, approvals *repository.ApprovalRepo,
	groups *repository.GroupRepo, documents *repository.DocumentRepo,
	engine *eligibility.Engine, svc *service.ParticipationService) *AdminHandler {
	return &AdminHandler{
		Releases:  releases,
		Options:   options,
		Quotas:    quotas,
		Approvals: approvals,
		Groups:    groups,
		Documents: documents,
		Engine:    engine,
		Svc:       svc,
	}
}

// ----- DTOs -----

type createReleaseReq struct {
	SurveyID         uint64          `json:"survey_id"`
	Title            string          `json:"title"`
	Rules            json.RawMessage `json:"rules,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	OpensAt          time.Time       `json:"opens_at"`
	ClosesAt         time.Time       `json:"closes_at"`
}

type rulesReq struct {
	Rules json.RawMessage `json:"rules"`
}

type createOptionReq struct {
	Name     string `json:"name"`
	Position uint32 `json:"position"`
	Capacity uint32 `json:"capacity"`
}

type createBucketReq struct {
	RuleKey string `json:"rule_key"` // group name the bucket is reserved for
	Quota   uint32 `json:"quota"`
}

type createStepReq struct {
	Name     string `json:"name"`
	Position uint32 `json:"position"`
}

type allocateReq struct {
	OptionID uint64 `json:"option_id"`
}

// CreateRelease publishes a new release.  Rules are validated before the
// release is stored so a broken description never reaches evaluation.
func (h *AdminHandler) CreateRelease(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createReleaseReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Title == "" || req.SurveyID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "survey_id/title required"})
	}
	if !req.ClosesAt.After(req.OpensAt) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "closes_at must be after opens_at"})
	}
	if err := h.Engine.Validate(req.Rules); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rel := &model.Release{
		SurveyID:         req.SurveyID,
		Title:            req.Title,
		RuleDescription:  req.Rules,
		RequiresApproval: req.RequiresApproval,
		OpensAt:          req.OpensAt,
		ClosesAt:         req.ClosesAt,
		CreatedBy:        uid,
	}
	if err := h.Releases.Create(ctx, rel); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": rel.ID})
}

// UpdateRules replaces a release's rule description after validating it.
func (h *AdminHandler) UpdateRules(c echo.Context) error {
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req rulesReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := h.Engine.Validate(req.Rules); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Releases.UpdateRules(ctx, releaseID, req.Rules); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ValidateRules checks a rule description without storing anything, so
// rule authors can iterate before publishing.
func (h *AdminHandler) ValidateRules(c echo.Context) error {
	var req rulesReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := h.Engine.Validate(req.Rules); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true})
}

// CreateOption adds an option with its capacity to a release.
func (h *AdminHandler) CreateOption(c echo.Context) error {
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req createOptionReq
	if err := c.Bind(&req); err != nil || req.Name == "" || req.Capacity == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and a positive capacity required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	opt := &model.Option{ReleaseID: releaseID, Name: req.Name, Position: req.Position}
	if err := h.Options.CreateWithCapacity(ctx, opt, req.Capacity); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": opt.ID})
}

// CreateBucket adds a quota bucket to an option.
func (h *AdminHandler) CreateBucket(c echo.Context) error {
	optionID, err := pathID(c, "option_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req createBucketReq
	if err := c.Bind(&req); err != nil || req.RuleKey == "" || req.Quota == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "rule_key and a positive quota required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	bucket := &model.QuotaBucket{OptionID: optionID, RuleKey: req.RuleKey, Quota: req.Quota}
	if err := h.Quotas.Create(ctx, bucket); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": bucket.ID})
}

// CreateStep adds an approval workflow step to a release.
func (h *AdminHandler) CreateStep(c echo.Context) error {
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req createStepReq
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	step := &model.ApprovalStep{ReleaseID: releaseID, Name: req.Name, Position: req.Position}
	if err := h.Approvals.CreateStep(ctx, step); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": step.ID})
}

// BatchEligibility evaluates a set of users against a release, for
// admins previewing who a rule change would admit.
func (h *AdminHandler) BatchEligibility(c echo.Context) error {
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req struct {
		UserIDs []uint64 `json:"user_ids"`
	}
	if err := c.Bind(&req); err != nil || len(req.UserIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_ids required"})
	}
	items := h.Engine.EvaluateBatch(c.Request().Context(), releaseID, req.UserIDs)
	out := make(map[uint64]any, len(items))
	for uid, item := range items {
		if item.Err != nil {
			out[uid] = echo.Map{"error": item.Err.Error()}
			continue
		}
		out[uid] = item.Result
	}
	return c.JSON(http.StatusOK, out)
}

// Allocate assigns an option to an approved participation and moves it
// to ALLOCATED.
func (h *AdminHandler) Allocate(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	participationID, err := pathID(c, "participation_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req allocateReq
	if err := c.Bind(&req); err != nil || req.OptionID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "option_id required"})
	}
	p, err := h.Svc.Allocate(c.Request().Context(), uid, participationID, req.OptionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toParticipationResp(p))
}

// Waitlist parks an approved participation that was not allocated.
func (h *AdminHandler) Waitlist(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	participationID, err := pathID(c, "participation_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	p, err := h.Svc.Waitlist(c.Request().Context(), uid, participationID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toParticipationResp(p))
}

// CreateGroup registers a user group for rule and quota matching.
func (h *AdminHandler) CreateGroup(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	g := &model.Group{Name: req.Name}
	if err := h.Groups.Create(ctx, g); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": g.ID})
}

// AddGroupMember links a user to a group.
func (h *AdminHandler) AddGroupMember(c echo.Context) error {
	groupID, err := pathID(c, "group_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req struct {
		UserID uint64 `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil || req.UserID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Groups.AddMember(ctx, groupID, req.UserID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// VerifyDocument marks an uploaded document VERIFIED or REJECTED.
func (h *AdminHandler) VerifyDocument(c echo.Context) error {
	documentID, err := pathID(c, "document_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Status != model.DocumentStatusVerified && req.Status != model.DocumentStatusRejected {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be VERIFIED or REJECTED"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Documents.SetStatus(ctx, documentID, req.Status); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
