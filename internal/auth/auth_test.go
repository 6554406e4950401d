package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"qrgate/internal/errs"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "qrgate-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("operator_1", RoleOperator, "", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Second)

	claims, err := Parse(tok.Value, testKey, testIssuer)
	require.NoError(t, err)
	require.Equal(t, "operator_1", claims.Subject)
	require.Equal(t, RoleOperator, claims.Role)
}

func TestParseRejects(t *testing.T) {
	tok, err := Issue("admin@school.mx", RoleAdmin, "Admin", testIssuer, testKey, time.Hour)
	require.NoError(t, err)

	_, err = Parse(tok.Value, "other-key", testIssuer)
	require.Error(t, err)

	_, err = Parse(tok.Value, testKey, "someone-else")
	require.Error(t, err)

	expired, err := Issue("op", RoleOperator, "", testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired.Value, testKey, testIssuer)
	require.Error(t, err)

	bogus, err := Issue("op", Role("root"), "", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	_, err = Parse(bogus.Value, testKey, testIssuer)
	require.Error(t, err)

	_, err = Issue("", RoleOperator, "", testIssuer, testKey, time.Hour)
	require.Error(t, err)
}

func TestRoleAllows(t *testing.T) {
	require.True(t, RoleOperator.Allows(RoleOperator))
	require.True(t, RoleAdmin.Allows(RoleOperator))
	require.True(t, RoleAdmin.Allows(RoleAdmin))
	require.False(t, RoleOperator.Allows(RoleAdmin))
	require.False(t, Role("").Allows(RoleOperator))
}

func TestBearerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Bearer(testKey, testIssuer))
	r.GET("/", func(c *gin.Context) {
		claims, ok := FromContext(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, string(claims.Role))
	})

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "anonymous", w.Body.String())

	tok, err := Issue("admin@school.mx", RoleAdmin, "", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	w = do("Bearer " + tok.Value)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "admin", w.Body.String())

	expired, err := Issue("operator_1", RoleOperator, "", testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	for _, header := range []string{"Bearer nope", "Basic abc", "Bearer " + expired.Value} {
		w := do(header)
		require.Equal(t, http.StatusUnauthorized, w.Code, header)
		var body struct {
			Status string `json:"status"`
			Code   string `json:"code"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, "error", body.Status)
		require.Equal(t, "unauthorized", body.Code)
		require.ErrorIs(t, errs.FromCode(body.Code), errs.ErrUnauthorized)
	}
}
