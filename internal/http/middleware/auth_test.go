// README: Tests for bearer auth middleware and role checks.
package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrun/internal/http/middleware"
	"foodrun/internal/infra"
	"foodrun/internal/modules/order"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uid":     middleware.CallerUID(c),
			"role":    middleware.CallerRole(c),
			"courier": middleware.CallerCourier(c),
		})
	})
	r.GET("/couriers-only", middleware.RequireRole(order.RoleCourier), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	assert.Equal(t, http.StatusUnauthorized, get(r, "/test", "").Code)
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	assert.Equal(t, http.StatusUnauthorized, get(r, "/test", "Token sometoken").Code)
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	assert.Equal(t, http.StatusUnauthorized, get(r, "/test", "Bearer invalidtoken").Code)
}

func TestAuth_QueryTokenForWebSocket(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "cust1"}})
	assert.Equal(t, http.StatusOK, get(r, "/test?access_token=abc", "").Code)
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "courier123",
		Claims: map[string]interface{}{"role": "courier", "name": "Ravi", "phone_number": "+9100000"},
	}
	w := get(newTestRouter(&stubVerifier{token: token}), "/test", "Bearer validtoken")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		UID     string        `json:"uid"`
		Role    string        `json:"role"`
		Courier order.Courier `json:"courier"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "courier123", body.UID)
	assert.Equal(t, "courier", body.Role)
	assert.Equal(t, "Ravi", body.Courier.Name)
	assert.Equal(t, "+9100000", body.Courier.Mobile)
}

func TestAuth_ValidToken_NoRoleClaim(t *testing.T) {
	token := &infra.FirebaseToken{UID: "customer456", Claims: map[string]interface{}{}}
	r := newTestRouter(&stubVerifier{token: token})

	w := get(r, "/test", "Bearer validtoken")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "customer456")

	assert.Equal(t, http.StatusForbidden, get(r, "/couriers-only", "Bearer validtoken").Code)
}

func TestRequireRole(t *testing.T) {
	courier := &infra.FirebaseToken{UID: "c1", Claims: map[string]interface{}{"role": "courier"}}
	owner := &infra.FirebaseToken{UID: "o1", Claims: map[string]interface{}{"role": "owner"}}

	assert.Equal(t, http.StatusNoContent, get(newTestRouter(&stubVerifier{token: courier}), "/couriers-only", "Bearer t").Code)
	assert.Equal(t, http.StatusForbidden, get(newTestRouter(&stubVerifier{token: owner}), "/couriers-only", "Bearer t").Code)
}

func TestRecoveryAnswers500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Metrics())
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := get(r, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal error")
}
