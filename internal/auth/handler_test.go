package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/httputil"
)

type stubLimiter struct {
	exceeded bool
	recorded []string
}

func (s *stubLimiter) CheckIPRateLimitWithPurpose(_ context.Context, _, _ string) (bool, error) {
	return s.exceeded, nil
}

func (s *stubLimiter) RecordIPRequestWithPurpose(_ context.Context, _, purpose string) error {
	s.recorded = append(s.recorded, purpose)
	return nil
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestHandler_Register(t *testing.T) {
	f := newServiceFixture(t)
	limiter := &stubLimiter{}
	h := NewHandler(f.svc, limiter)

	rec := doJSON(t, h.Register, http.MethodPost, "/auth/register",
		`{"email":"ana@example.com","password":"secret1","name":"Ana","role":"teacher"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "ana@example.com", user["email"])
	assert.Equal(t, "teacher", user["role"])
	assert.Equal(t, false, user["emailVerified"])
	assert.NotContains(t, user, "passwordHash")
	assert.Equal(t, []string{"register"}, limiter.recorded)

	rec = doJSON(t, h.Register, http.MethodPost, "/auth/register",
		`{"email":"ana@example.com","password":"secret1","name":"Ana"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeDuplicateEmail, errorCode(t, rec))
}

func TestHandler_RegisterErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", `{"email":`, httputil.CodeInvalidRequestBody},
		{"unknown field", `{"email":"a@b.co","password":"secret1","name":"A","admin":true}`, httputil.CodeInvalidRequestBody},
		{"weak password", `{"email":"a@b.co","password":"123","name":"A"}`, httputil.CodeWeakPassword},
		{"bad email", `{"email":"nope","password":"secret1","name":"A"}`, httputil.CodeValidationFailed},
		{"bad role", `{"email":"a@b.co","password":"secret1","name":"A","role":"admin"}`, httputil.CodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(newServiceFixture(t).svc, nil)
			rec := doJSON(t, h.Register, http.MethodPost, "/auth/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestHandler_RateLimited(t *testing.T) {
	h := NewHandler(newServiceFixture(t).svc, &stubLimiter{exceeded: true})

	rec := doJSON(t, h.Login, http.MethodPost, "/auth/login", `{"email":"a@b.co","password":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, httputil.CodeTooManyRequests, errorCode(t, rec))
}

func TestHandler_LoginAndRefresh(t *testing.T) {
	f := newServiceFixture(t)
	f.registerVerified(t, "ana@example.com")
	f.register(t, "pending@example.com")
	h := NewHandler(f.svc, nil)

	rec := doJSON(t, h.Login, http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"wrong1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httputil.CodeInvalidCredentials, errorCode(t, rec))

	rec = doJSON(t, h.Login, http.MethodPost, "/auth/login", `{"email":"pending@example.com","password":"secret1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httputil.CodeEmailNotVerified, errorCode(t, rec))

	rec = doJSON(t, h.Login, http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var session SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = doJSON(t, h.Refresh, http.MethodPost, "/auth/refresh-token", `{"refreshToken":"`+session.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.Refresh, http.MethodPost, "/auth/refresh-token", `{"refreshToken":"`+session.RefreshToken+`"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeInvalidRefreshToken, errorCode(t, rec))
}

func TestHandler_VerifyEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ana@example.com")
	sent, _ := f.email.last("verify")
	h := NewHandler(f.svc, nil)

	rec := doJSON(t, h.VerifyEmail, http.MethodGet, "/auth/verify-email?token=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidToken, errorCode(t, rec))

	rec = doJSON(t, h.VerifyEmail, http.MethodGet, "/auth/verify-email?token="+sent.token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ResendVerification(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ana@example.com")
	h := NewHandler(f.svc, nil)

	rec := doJSON(t, h.ResendVerification, http.MethodPost, "/auth/resend-verification", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httputil.CodeAccountNotFound, errorCode(t, rec))

	rec = doJSON(t, h.ResendVerification, http.MethodPost, "/auth/resend-verification", `{"email":"ana@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeVerificationPending, errorCode(t, rec))
}

func TestHandler_ForgotAndResetPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.registerVerified(t, "ana@example.com")
	h := NewHandler(f.svc, nil)

	unknown := doJSON(t, h.ForgotPassword, http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`)
	known := doJSON(t, h.ForgotPassword, http.MethodPost, "/auth/forgot-password", `{"email":"ana@example.com"}`)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, unknown.Body.String(), known.Body.String(), "no enumeration")

	reset, _ := f.email.last("reset")

	rec := doJSON(t, h.ResetPassword, http.MethodPost, "/auth/reset-password", `{"token":"`+reset.token+`","newPassword":"123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeWeakPassword, errorCode(t, rec))

	rec = doJSON(t, h.ResetPassword, http.MethodPost, "/auth/reset-password", `{"token":"`+reset.token+`","newPassword":"brand-new"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.email.err = assert.AnError
	rec = doJSON(t, h.ForgotPassword, http.MethodPost, "/auth/forgot-password", `{"email":"ana@example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, httputil.CodeEmailDispatchFailed, errorCode(t, rec))
}

func TestHandler_Logout(t *testing.T) {
	f := newServiceFixture(t)
	acc := f.registerVerified(t, "ana@example.com")
	h := NewHandler(f.svc, nil)

	rec := doJSON(t, h.Logout, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(account.WithIdentity(req.Context(), account.Identity{AccountID: acc.ID}))
	rec = httptest.NewRecorder()
	h.Logout(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RequireAuth(t *testing.T) {
	f := newServiceFixture(t)
	acc, tokens := f.register(t, "ana@example.com")
	expired, err := f.svc.tokenService.CreateAccessToken(acc.ID, acc.Email, -time.Minute)
	require.NoError(t, err)

	var seen account.Identity
	protected := NewMiddleware(f.svc).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = account.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing", "", http.StatusUnauthorized, httputil.CodeMissingAuth},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, httputil.CodeInvalidAuthHeader},
		{"garbage", "Bearer abc", http.StatusUnauthorized, httputil.CodeInvalidToken},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, httputil.CodeTokenExpired},
		{"refresh token", "Bearer " + tokens.RefreshToken, http.StatusUnauthorized, httputil.CodeInvalidToken},
		{"valid", "Bearer " + tokens.AccessToken, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, rec))
			}
		})
	}

	assert.Equal(t, acc.ID, seen.AccountID)
}
