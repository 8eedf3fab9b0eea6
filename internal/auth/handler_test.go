package auth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexofis/lexofis/internal/auth"
)

type observedOp struct {
	operation string
	failed    bool
}

type handlerFixture struct {
	*fixture
	router   chi.Router
	observed []observedOp
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	hf := &handlerFixture{fixture: newFixture(t)}
	handler := auth.NewHandler(
		slog.New(slog.NewTextHandler(testWriter{t}, nil)),
		hf.manager,
		func(operation string, err error) {
			hf.observed = append(hf.observed, observedOp{operation, err != nil})
		},
	)
	hf.router = chi.NewRouter()
	hf.router.Route("/auth", handler.MountRoutes)
	return hf
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func (hf *handlerFixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	hf.router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerLogin(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.backend.exchangeFn = func(ctx context.Context, email, password string) (*auth.Grant, error) {
		return grantFor(testUserID, 1, baseTime.Add(time.Hour)), nil
	}

	rec := hf.request(t, http.MethodPost, "/auth/login",
		`{"email": "avukat@lexofis.local", "password": "parola-123", "remember_me": true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		User *auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.User)
	assert.Equal(t, testUserID, resp.User.ID)
	assert.Equal(t, "Deniz Avukat", resp.User.Name)

	assert.True(t, hf.manager.IsAuthenticated())
	assert.Equal(t, []observedOp{{"sign_in", false}}, hf.observed)
}

func TestHandlerLoginBadCredentials(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.backend.exchangeFn = func(ctx context.Context, email, password string) (*auth.Grant, error) {
		return nil, fmt.Errorf("exchange: %w", auth.ErrInvalidCredentials)
	}

	rec := hf.request(t, http.MethodPost, "/auth/login",
		`{"email": "avukat@lexofis.local", "password": "yanlis-parola"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, []observedOp{{"sign_in", true}}, hf.observed)
}

func TestHandlerLoginValidation(t *testing.T) {
	hf := newHandlerFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"email": `},
		{"missing email", `{"password": "parola-123"}`},
		{"bad email", `{"email": "not-an-email", "password": "parola-123"}`},
		{"short password", `{"email": "a@b.co", "password": "kisa"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := hf.request(t, http.MethodPost, "/auth/login", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	// Nothing reached the manager.
	assert.Empty(t, hf.observed)
}

func TestHandlerLoginProfileMissing(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.backend.exchangeFn = func(ctx context.Context, email, password string) (*auth.Grant, error) {
		return grantFor("ghost", 1, baseTime.Add(time.Hour)), nil
	}

	rec := hf.request(t, http.MethodPost, "/auth/login",
		`{"email": "ghost@lexofis.local", "password": "parola-123"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerLoginBackendDown(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.backend.exchangeFn = func(ctx context.Context, email, password string) (*auth.Grant, error) {
		return nil, fmt.Errorf("exchange: %w", auth.ErrNetwork)
	}

	rec := hf.request(t, http.MethodPost, "/auth/login",
		`{"email": "avukat@lexofis.local", "password": "parola-123"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandlerRegister(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.backend.registerFn = func(ctx context.Context, email, password string) (*auth.Grant, error) {
		return &auth.Grant{UserID: "user-3"}, nil
	}

	rec := hf.request(t, http.MethodPost, "/auth/register",
		`{"email": "yeni@lexofis.local", "password": "parola-123", "name": "Yeni Üye", "role": "professional"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		User *auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.User)
	assert.Equal(t, auth.RoleProfessional, resp.User.Role)
}

func TestHandlerRegisterRejectsUnknownRole(t *testing.T) {
	hf := newHandlerFixture(t)
	rec := hf.request(t, http.MethodPost, "/auth/register",
		`{"email": "yeni@lexofis.local", "password": "parola-123", "name": "Yeni Üye", "role": "partner"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRegisterProfileCreateConflict(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.backend.registerFn = func(ctx context.Context, email, password string) (*auth.Grant, error) {
		return &auth.Grant{UserID: "user-3"}, nil
	}
	hf.profiles.createErr = fmt.Errorf("create: %w", auth.ErrStorage)

	rec := hf.request(t, http.MethodPost, "/auth/register",
		`{"email": "yeni@lexofis.local", "password": "parola-123", "name": "Yeni Üye"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerLogout(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.signIn(t, true)

	rec := hf.request(t, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, hf.manager.IsAuthenticated())

	// Logging out again is still a 204.
	rec = hf.request(t, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlerRefresh(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.signIn(t, true)
	hf.backend.refreshFn = func(ctx context.Context, refreshToken string) (*auth.Grant, error) {
		return grantFor("", 2, baseTime.Add(2*time.Hour)), nil
	}

	rec := hf.request(t, http.MethodPost, "/auth/refresh", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "access-2", hf.manager.AccessToken())
}

func TestHandlerRefreshWithoutSession(t *testing.T) {
	hf := newHandlerFixture(t)
	rec := hf.request(t, http.MethodPost, "/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerResetPassword(t *testing.T) {
	hf := newHandlerFixture(t)
	rec := hf.request(t, http.MethodPost, "/auth/password/reset",
		`{"email": "avukat@lexofis.local"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandlerChangePassword(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.signIn(t, false)

	rec := hf.request(t, http.MethodPost, "/auth/password/change",
		`{"new_password": "yeni-parola-123"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	hf.backend.mu.Lock()
	defer hf.backend.mu.Unlock()
	require.Len(t, hf.backend.changes, 1)
}

func TestHandlerChangePasswordWithoutSession(t *testing.T) {
	hf := newHandlerFixture(t)
	rec := hf.request(t, http.MethodPost, "/auth/password/change",
		`{"new_password": "yeni-parola-123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerUpdateProfile(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.signIn(t, true)

	rec := hf.request(t, http.MethodPatch, "/auth/profile",
		`{"name": "Deniz A.", "grant_consents": ["marketing"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		User *auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.User)
	assert.Equal(t, "Deniz A.", resp.User.Name)
	assert.Contains(t, resp.User.PrivacyConsents, "marketing")
}

func TestHandlerUpdateProfileEmptyPatch(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.signIn(t, true)

	rec := hf.request(t, http.MethodPatch, "/auth/profile", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerMe(t *testing.T) {
	hf := newHandlerFixture(t)

	rec := hf.request(t, http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Authenticated bool       `json:"authenticated"`
		User          *auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Authenticated)
	assert.Nil(t, status.User)

	hf.signIn(t, true)

	rec = hf.request(t, http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Authenticated)
	require.NotNil(t, status.User)
	assert.Equal(t, testUserID, status.User.ID)
}

func TestHandlerLoginRateLimited(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.backend.exchangeFn = func(ctx context.Context, email, password string) (*auth.Grant, error) {
		return nil, fmt.Errorf("exchange: %w", auth.ErrInvalidCredentials)
	}

	body := `{"email": "avukat@lexofis.local", "password": "yanlis-parola"}`
	var last int
	for i := 0; i < 12; i++ {
		last = hf.request(t, http.MethodPost, "/auth/login", body).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
