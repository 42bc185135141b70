package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/auth-service/internal/handler"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/repository/memstore"
	"github.com/iliyamo/auth-service/internal/service"
)

type outbox struct {
	mu     sync.Mutex
	events []queue.OTPRequestedEvent
}

func (o *outbox) PublishOTP(_ context.Context, ev queue.OTPRequestedEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
	return nil
}

func (o *outbox) last(email, purpose string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.events) - 1; i >= 0; i-- {
		if o.events[i].Email == email && o.events[i].Purpose == purpose {
			return o.events[i].Code
		}
	}
	return ""
}

type app struct {
	e     *echo.Echo
	svc   *service.Manager
	store *memstore.Store
	out   *outbox
}

func newApp(t *testing.T) *app {
	t.Helper()
	reg := prometheus.NewRegistry()
	a := &app{store: memstore.New(), out: &outbox{}}
	a.svc = service.New(service.Deps{
		Users:    a.store.Users(),
		Tokens:   a.store.Tokens(),
		OTPs:     a.store.OTPs(),
		Notifier: a.out,
		Metrics:  metrics.NewAuth(reg),
	}, service.Options{
		JWTSecret:      "router-secret",
		Issuer:         "auth-test",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     24 * time.Hour,
		RememberMeTTL:  30 * 24 * time.Hour,
		RevokeOnReuse:  true,
		BcryptCost:     bcrypt.MinCost,
		OTPLength:      6,
		OTPTTL:         10 * time.Minute,
		OTPMaxAttempts: 5,
	})
	ah := handler.NewAuthHandler(a.svc, time.Second, nil)
	a.e = New(Deps{
		Auth:      ah,
		Admin:     handler.NewAdminHandler(ah),
		Validator: a.svc,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return a
}

func (a *app) call(t *testing.T, method, path string, body any, token string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

// verifiedLogin registers, verifies and logs in, returning the login body.
func (a *app) verifiedLogin(t *testing.T, email, device string) map[string]any {
	t.Helper()
	code, _ := a.call(t, http.MethodPost, "/auth/register", map[string]any{"email": email, "password": "P@ssw0rd"}, "")
	require.Equal(t, http.StatusCreated, code)
	a.svc.Wait()
	code, _ = a.call(t, http.MethodPost, "/auth/verify-otp", map[string]any{"email": email, "code": a.out.last(email, "email_verify")}, "")
	require.Equal(t, http.StatusOK, code)
	code, body := a.call(t, http.MethodPost, "/auth/login", map[string]any{"email": email, "password": "P@ssw0rd", "device_id": device}, "")
	require.Equal(t, http.StatusOK, code, body)
	return body
}

func TestSessionScenarioOverHTTP(t *testing.T) {
	a := newApp(t)

	code, body := a.call(t, http.MethodPost, "/auth/register", map[string]any{"email": "a@x.com", "password": "P@ssw0rd"}, "")
	require.Equal(t, http.StatusCreated, code)
	user := body["user"].(map[string]any)
	assert.Equal(t, false, user["is_verified"])

	a.svc.Wait()
	code, _ = a.call(t, http.MethodPost, "/auth/verify-otp", map[string]any{"email": "a@x.com", "code": a.out.last("a@x.com", "email_verify")}, "")
	require.Equal(t, http.StatusOK, code)

	code, login := a.call(t, http.MethodPost, "/auth/login", map[string]any{"email": "a@x.com", "password": "P@ssw0rd", "device_id": "deviceA"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Bearer", login["token_type"])
	oldRefresh := login["refresh_token"].(string)

	code, pair := a.call(t, http.MethodPost, "/auth/refresh", map[string]any{"refresh_token": oldRefresh}, "")
	require.Equal(t, http.StatusOK, code)
	newRefresh := pair["refresh_token"].(string)
	access := pair["access_token"].(string)

	code, me := a.call(t, http.MethodGet, "/auth/me", nil, access)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a@x.com", me["email"])

	code, body = a.call(t, http.MethodPost, "/auth/refresh", map[string]any{"refresh_token": oldRefresh}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "INVALID_TOKEN", body["error"])

	code, _ = a.call(t, http.MethodPost, "/auth/logout", map[string]any{"refresh_token": newRefresh, "all_devices": true}, "")
	assert.Equal(t, http.StatusOK, code)

	code, body = a.call(t, http.MethodGet, "/auth/me", nil, access)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "INVALID_TOKEN", body["error"])
}

func TestAuthenticatedEndpoints(t *testing.T) {
	a := newApp(t)
	login := a.verifiedLogin(t, "a@x.io", "phone")
	access := login["access_token"].(string)

	code, info := a.call(t, http.MethodGet, "/auth/token-info", nil, access)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "phone", info["device_id"])
	assert.NotEmpty(t, info["jti"])

	code, body := a.call(t, http.MethodGet, "/auth/sessions", nil, access)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["sessions"], 1)

	code, body = a.call(t, http.MethodPost, "/auth/password/change",
		map[string]any{"current_password": "nope", "new_password": "N3w-passw0rd"}, access)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])

	code, body = a.call(t, http.MethodPost, "/auth/password/change",
		map[string]any{"current_password": "P@ssw0rd", "new_password": "N3w-passw0rd"}, access)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["revoked"])

	code, _ = a.call(t, http.MethodGet, "/auth/sessions", nil, access)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.call(t, http.MethodGet, "/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	a := newApp(t)
	a.verifiedLogin(t, "a@x.io", "phone")

	code, _ := a.call(t, http.MethodPost, "/auth/password/reset", map[string]any{"email": "ghost@x.io"}, "")
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = a.call(t, http.MethodPost, "/auth/password/reset", map[string]any{"email": "a@x.io"}, "")
	assert.Equal(t, http.StatusAccepted, code)
	a.svc.Wait()
	otp := a.out.last("a@x.io", "password_reset")
	require.NotEmpty(t, otp)

	code, body := a.call(t, http.MethodPost, "/auth/password/reset/confirm",
		map[string]any{"email": "a@x.io", "code": otp, "new_password": "N3w-passw0rd"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["revoked"])

	code, body = a.call(t, http.MethodPost, "/auth/password/reset/confirm",
		map[string]any{"email": "a@x.io", "code": otp, "new_password": "N3w-passw0rd"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ALREADY_CONSUMED", body["error"])
}

func TestErrorShapes(t *testing.T) {
	a := newApp(t)

	code, body := a.call(t, http.MethodPost, "/auth/login", map[string]any{"email": "a@x.io", "password": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
	assert.Equal(t, "device_id is required", body["message"])

	code, body = a.call(t, http.MethodPost, "/auth/login", map[string]any{"email": "a@x.io", "password": "x", "device_id": "d"}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTHENTICATION_ERROR", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewBufferString("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	code, body = a.call(t, http.MethodGet, "/nowhere", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", body["error"])

	a.verifiedLogin(t, "a@x.io", "d")
	code, body = a.call(t, http.MethodPost, "/auth/register", map[string]any{"email": "A@x.io", "password": "P@ssw0rd"}, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", body["error"])
}

func TestAdminRoutes(t *testing.T) {
	ctx := context.Background()
	a := newApp(t)
	target := a.verifiedLogin(t, "user@x.io", "phone")
	targetID := uint64(target["user"].(map[string]any)["id"].(float64))
	staffLogin := a.verifiedLogin(t, "staff@x.io", "desk")
	staffID := uint64(staffLogin["user"].(map[string]any)["id"].(float64))
	require.NoError(t, a.store.Users().SetRole(ctx, staffID, model.RoleStaff, time.Now()))
	staff := staffLogin["access_token"].(string)
	userAccess := target["access_token"].(string)

	path := "/admin/users/" + strconv.FormatUint(targetID, 10) + "/status"
	code, body := a.call(t, http.MethodPatch, path, map[string]any{"active": false}, userAccess)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body["error"])

	code, body = a.call(t, http.MethodPatch, path, map[string]any{}, staff)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "active is required", body["message"])

	code, body = a.call(t, http.MethodPatch, path, map[string]any{"active": false}, staff)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "user suspended", body["message"])

	code, _ = a.call(t, http.MethodGet, "/auth/me", nil, userAccess)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.call(t, http.MethodPost, "/auth/refresh", map[string]any{"refresh_token": target["refresh_token"]}, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.call(t, http.MethodPatch, "/admin/users/"+strconv.FormatUint(targetID, 10)+"/role", map[string]any{"role": "staff"}, staff)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.call(t, http.MethodPatch, "/admin/users/abc/status", map[string]any{"active": true}, staff)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newApp(t)
	a.verifiedLogin(t, "a@x.io", "phone")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `auth_logins_total{result="ok"} 1`)
}
