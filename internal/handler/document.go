package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/repository"
)

// DocumentHandler lets students record uploaded documents that satisfy
// eligibility requirements.  Verification is an admin action.
type DocumentHandler struct {
	Documents *repository.DocumentRepo
}

func NewDocumentHandler(documents *repository.DocumentRepo) *DocumentHandler {
	return &DocumentHandler{Documents: documents}
}

type uploadDocumentReq struct {
	Type     string  `json:"type"`
	OptionID *uint64 `json:"option_id,omitempty"`
}

type documentResp struct {
	ID         uint64     `json:"id"`
	Type       string     `json:"type"`
	OptionID   *uint64    `json:"option_id,omitempty"`
	Status     string     `json:"status"`
	UploadedAt time.Time  `json:"uploaded_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Upload records a document in UPLOADED status.
func (h *DocumentHandler) Upload(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req uploadDocumentReq
	if err := c.Bind(&req); err != nil || req.Type == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "type required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	d := &model.Document{UserID: uid, Type: req.Type, OptionID: req.OptionID}
	if err := h.Documents.Create(ctx, d); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": d.ID, "status": d.Status})
}

// ListMine returns the caller's documents.
func (h *DocumentHandler) ListMine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	docs, err := h.Documents.ListByUser(ctx, uid)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]documentResp, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentResp{
			ID:         d.ID,
			Type:       d.Type,
			OptionID:   d.OptionID,
			Status:     d.Status,
			UploadedAt: d.UploadedAt,
			VerifiedAt: d.VerifiedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}
