package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/survey-participation/internal/eligibility"
	"github.com/iliyamo/survey-participation/internal/hold"
	"github.com/iliyamo/survey-participation/internal/lifecycle"
	"github.com/iliyamo/survey-participation/internal/repository"
	"github.com/iliyamo/survey-participation/internal/service"
)

// writeError maps service errors onto HTTP responses.  Recoverable
// conflicts (capacity full, duplicate hold, guard refusals) carry a
// machine-readable code so clients can branch without parsing messages;
// anything unrecognized is a 500 with a generic body.
func writeError(c echo.Context, err error) error {
	var (
		capFull   *hold.CapacityFullError
		quotaOut  *hold.QuotaExhaustedError
		dupHold   *hold.DuplicateHoldError
		expired   *hold.HoldExpiredError
		guard     *lifecycle.GuardError
		invalid   *lifecycle.InvalidTransitionError
		parseErr  *eligibility.ParseError
		structErr *eligibility.StructuralError
	)
	switch {
	case errors.As(err, &capFull):
		return c.JSON(http.StatusConflict, echo.Map{"code": "CAPACITY_FULL", "error": capFull.Error()})
	case errors.As(err, &quotaOut):
		return c.JSON(http.StatusConflict, echo.Map{"code": "QUOTA_EXHAUSTED", "error": quotaOut.Error()})
	case errors.As(err, &dupHold):
		return c.JSON(http.StatusConflict, echo.Map{"code": "DUPLICATE_HOLD", "error": dupHold.Error()})
	case errors.As(err, &expired):
		return c.JSON(http.StatusConflict, echo.Map{"code": "HOLD_EXPIRED", "error": expired.Error()})
	case errors.As(err, &guard):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"code": guard.Code, "error": guard.Reason})
	case errors.As(err, &invalid):
		return c.JSON(http.StatusConflict, echo.Map{"code": "INVALID_TRANSITION", "error": invalid.Error()})
	case errors.As(err, &parseErr):
		return c.JSON(http.StatusBadRequest, echo.Map{"code": "RULE_PARSE", "error": parseErr.Error()})
	case errors.As(err, &structErr):
		return c.JSON(http.StatusBadRequest, echo.Map{"code": "RULE_STRUCTURE", "error": structErr.Error()})
	case errors.Is(err, service.ErrReleaseClosed):
		return c.JSON(http.StatusConflict, echo.Map{"code": "RELEASE_CLOSED", "error": err.Error()})
	case errors.Is(err, service.ErrAlreadyParticipating):
		return c.JSON(http.StatusConflict, echo.Map{"code": "ALREADY_PARTICIPATING", "error": err.Error()})
	case errors.Is(err, repository.ErrReleaseNotFound),
		errors.Is(err, repository.ErrOptionNotFound),
		errors.Is(err, repository.ErrParticipationNotFound),
		errors.Is(err, repository.ErrCapacityNotFound),
		errors.Is(err, repository.ErrQuotaBucketNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"code": "CONFLICT", "error": "conflicting state"})
	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
