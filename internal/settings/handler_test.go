package settings

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/internal/notifications"
)

func TestHandlerValidatesAddresses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := auth.NewTokenVerifier("test-secret", "")
	r := gin.New()
	api := r.Group("/api/v1", auth.Middleware(verifier, zap.NewNop()))
	NewHandler(NewService(notifications.NewMemoryStore()), zap.NewNop()).RegisterRoutes(api)

	bearer, err := verifier.Sign(auth.Claims{
		Role:             "editor",
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.New().String()},
	})
	require.NoError(t, err)

	put := func(body map[string]interface{}) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/notifications", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearer)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for name, body := range map[string]map[string]interface{}{
		"email":    {"email": "not an address"},
		"endpoint": {"push_endpoint": "https://push.example.com"},
	} {
		w := put(body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}

	w := put(map[string]interface{}{
		"email":         "editor@example.com",
		"push_endpoint": "arn:aws:sns:eu-west-1:123456789012:endpoint/GCM/app/0f1e",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var prefs NotificationPreferences
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	assert.Equal(t, "editor@example.com", prefs.Email)

	w = put(map[string]interface{}{"email": ""})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	assert.Empty(t, prefs.Email)
	assert.NotEmpty(t, prefs.PushEndpoint)
}
