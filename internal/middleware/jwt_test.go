package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/survey-participation/internal/utils"
)

func doAuthed(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec, c
}

func TestJWTAuth(t *testing.T) {
	t.Parallel()

	const secret = "test-secret"

	t.Run("valid token populates identity", func(t *testing.T) {
		t.Parallel()
		at, err := utils.NewAccessToken(secret, 42, "STUDENT", 15)
		require.NoError(t, err)

		rec, c := doAuthed(t, JWTAuth(secret), "Bearer "+at.Token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, uint64(42), c.Get("user_id"))
		assert.Equal(t, "STUDENT", c.Get("role"))
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		rec, _ := doAuthed(t, JWTAuth(secret), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		t.Parallel()
		rec, _ := doAuthed(t, JWTAuth(secret), "Token abc")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		at, err := utils.NewAccessToken("other-secret", 42, "STUDENT", 15)
		require.NoError(t, err)

		rec, _ := doAuthed(t, JWTAuth(secret), "Bearer "+at.Token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		at, err := utils.NewAccessToken(secret, 42, "STUDENT", -1)
		require.NoError(t, err)

		rec, _ := doAuthed(t, JWTAuth(secret), "Bearer "+at.Token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, mw echo.MiddlewareFunc, role any) *httptest.ResponseRecorder {
		t.Helper()
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if role != nil {
			c.Set("role", role)
		}
		handler := mw(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		require.NoError(t, handler(c))
		return rec
	}

	t.Run("allowed role passes", func(t *testing.T) {
		t.Parallel()
		rec := run(t, RequireRole("ADMIN", "STUDENT"), "STUDENT")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("disallowed role forbidden", func(t *testing.T) {
		t.Parallel()
		rec := run(t, RequireRole("ADMIN"), "STUDENT")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing role forbidden", func(t *testing.T) {
		t.Parallel()
		rec := run(t, RequireRole("ADMIN"), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
