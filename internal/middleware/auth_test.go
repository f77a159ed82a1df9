package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/urban-services/internal/auth"
	"github.com/ukydev/urban-services/internal/config"
	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(config.AuthConfig{JWTSecret: "middleware-test-secret", JWTExpiry: time.Hour})
	require.NoError(t, err)
	return svc
}

func tokenFor(t *testing.T, svc *auth.Service, role models.Role) string {
	t.Helper()
	user := &models.User{ID: primitive.NewObjectID(), Name: "Test " + string(role), Role: role}
	token, err := svc.GenerateToken(user, nil)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	authService := newAuthService(t)
	middleware := NewAuthMiddleware(authService)

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/bookings/mine", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, models.RolePartner))
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			claims, ok := GetUserFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, models.RolePartner, claims.Role)
			assert.Equal(t, "Test partner", claims.Name)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	rejected := []struct {
		name   string
		header string
	}{
		{"missing authorization header", ""},
		{"not a bearer header", "Basic dXNlcjpwYXNz"},
		{"invalid token", "Bearer invalid-token"},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/bookings/mine", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.False(t, handlerCalled)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"`+errorMessage(tc.header)+`"}`, w.Body.String())
		})
	}

	for _, path := range []string{"/api/auth/login", "/api/auth/register", "/health", "/metrics", "/ws"} {
		t.Run("skip auth "+path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.True(t, handlerCalled)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}

	t.Run("lookalike path is not skipped", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/wsx", nil)
		w := httptest.NewRecorder()
		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func errorMessage(header string) string {
	switch header {
	case "":
		return "Authorization header required"
	case "Bearer invalid-token":
		return "Invalid token"
	default:
		return "Invalid authorization header"
	}
}

func TestRequireRole(t *testing.T) {
	authService := newAuthService(t)
	middleware := NewAuthMiddleware(authService)

	tests := []struct {
		role models.Role
		want int
	}{
		{models.RoleAdmin, http.StatusOK},
		{models.RolePartner, http.StatusOK},
		{models.RoleOperator, http.StatusForbidden},
		{models.RoleCustomer, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/bookings/available", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, tc.role))
			w := httptest.NewRecorder()

			handler := middleware.Authenticate(RequireRole(models.RolePartner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
			handler.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}

	t.Run("no user in context", func(t *testing.T) {
		w := httptest.NewRecorder()
		RequireRole(models.RolePartner)(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequirePermission(t *testing.T) {
	tests := []struct {
		name   string
		role   models.Role
		action string
		want   int
	}{
		{"admin assigns", models.RoleAdmin, models.PermAssignPartner, http.StatusOK},
		{"operator assigns", models.RoleOperator, models.PermAssignPartner, http.StatusOK},
		{"partner cannot assign", models.RolePartner, models.PermAssignPartner, http.StatusForbidden},
		{"partner updates status", models.RolePartner, models.PermUpdateStatus, http.StatusOK},
		{"customer creates booking", models.RoleCustomer, models.PermCreateBooking, http.StatusOK},
		{"customer cannot browse pool", models.RoleCustomer, models.PermViewAvailable, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("PUT", "/api/bookings/x", nil)
			req = req.WithContext(WithUser(req.Context(), &models.Claims{UserID: primitive.NewObjectID().Hex(), Role: tc.role}))
			w := httptest.NewRecorder()

			RequirePermission(tc.action)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
