// This file defines the public browsing API: unauthenticated users can
// list open releases and inspect option availability.  Rule descriptions
// and other management fields are filtered from responses.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/survey-participation/internal/repository"
)

// PublicHandler aggregates the repositories needed for unauthenticated
// browsing.
type PublicHandler struct {
	Releases *repository.ReleaseRepo
	Options  *repository.OptionRepo
	Quotas   *repository.QuotaRepo
}

func NewPublicHandler(releases *repository.ReleaseRepo, options *repository.OptionRepo, quotas *repository.QuotaRepo) *PublicHandler {
	return &PublicHandler{Releases: releases, Options: options, Quotas: quotas}
}

// PublicRelease is a release exposed via the public API.
type PublicRelease struct {
	ID               uint64    `json:"id"`
	Title            string    `json:"title"`
	OpensAt          time.Time `json:"opens_at"`
	ClosesAt         time.Time `json:"closes_at"`
	RequiresApproval bool      `json:"requires_approval"`
}

// PublicOption is an option with its live availability.  The figure is
// an unlocked read and only indicative; the authoritative check happens
// when a hold is attempted.
type PublicOption struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Total     uint32 `json:"total_capacity"`
	Available int    `json:"available"`
}

// ListReleases returns the releases whose window is currently open.
func (h *PublicHandler) ListReleases(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	releases, err := h.Releases.ListOpen(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]PublicRelease, 0, len(releases))
	for _, r := range releases {
		out = append(out, PublicRelease{
			ID:               r.ID,
			Title:            r.Title,
			OpensAt:          r.OpensAt,
			ClosesAt:         r.ClosesAt,
			RequiresApproval: r.RequiresApproval,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// GetRelease returns one release with its options and availability.
func (h *PublicHandler) GetRelease(c echo.Context) error {
	releaseID, err := pathID(c, "release_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rel, err := h.Releases.GetByID(ctx, releaseID)
	if err != nil {
		if err == repository.ErrReleaseNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "release not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	items, err := h.Options.ListByRelease(ctx, releaseID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	options := make([]PublicOption, 0, len(items))
	for _, it := range items {
		options = append(options, PublicOption{
			ID:        it.Option.ID,
			Name:      it.Option.Name,
			Total:     it.Total,
			Available: it.Available,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"release": PublicRelease{
			ID:               rel.ID,
			Title:            rel.Title,
			OpensAt:          rel.OpensAt,
			ClosesAt:         rel.ClosesAt,
			RequiresApproval: rel.RequiresApproval,
		},
		"options": options,
	})
}
