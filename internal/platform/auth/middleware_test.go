package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	token *firebaseauth.Token
	err   error
	delay time.Duration
}

func (s stubVerifier) VerifyIDToken(ctx context.Context, _ string) (*firebaseauth.Token, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.token, s.err
}

func serve(t *testing.T, auth *Authenticator, header string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := auth.RequireFirebaseAuth(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/rewards/balance", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestRequireFirebaseAuth_DefaultsToUserRole(t *testing.T) {
	auth := NewAuthenticator(stubVerifier{token: &firebaseauth.Token{
		UID:    "member-1",
		Claims: map[string]any{"email": "m1@example.com"},
	}})

	rr, identity := serve(t, auth, "Bearer token", RoleUser)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, identity)
	assert.Equal(t, "member-1", identity.UID)
	assert.Equal(t, "m1@example.com", identity.Email)
	assert.Equal(t, []string{RoleUser}, identity.Roles)
}

func TestRequireFirebaseAuth_RoleClaimShapes(t *testing.T) {
	cases := map[string]any{
		"string":   "Staff, admin",
		"list":     []any{"staff", "ADMIN"},
		"bool map": map[string]any{"staff": true, "admin": true, "user": false},
	}
	for name, claim := range cases {
		t.Run(name, func(t *testing.T) {
			auth := NewAuthenticator(stubVerifier{token: &firebaseauth.Token{
				UID:    "ops-1",
				Claims: map[string]any{"role": claim},
			}})
			rr, identity := serve(t, auth, "Bearer token", RoleAdmin)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.ElementsMatch(t, []string{RoleStaff, RoleAdmin}, identity.Roles)
		})
	}
}

func TestRequireFirebaseAuth_InsufficientRoleForbidden(t *testing.T) {
	auth := NewAuthenticator(stubVerifier{token: &firebaseauth.Token{UID: "member-1"}})

	rr, identity := serve(t, auth, "Bearer token", RoleStaff, RoleAdmin)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "insufficient_role", errorCode(t, rr))
	assert.Nil(t, identity)
}

func TestRequireFirebaseAuth_NoFallbackRole(t *testing.T) {
	auth := NewAuthenticator(stubVerifier{token: &firebaseauth.Token{UID: "member-1"}}, WithFallbackRole(""))

	rr, _ := serve(t, auth, "Bearer token")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "missing_role", errorCode(t, rr))
}

func TestRequireFirebaseAuth_Failures(t *testing.T) {
	cases := []struct {
		name       string
		verifier   TokenVerifier
		header     string
		opts       []Option
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing header",
			verifier:   stubVerifier{},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthenticated",
		},
		{
			name:       "basic scheme",
			verifier:   stubVerifier{},
			header:     "Basic abc",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthenticated",
		},
		{
			name:       "no verifier",
			header:     "Bearer token",
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "verification_unavailable",
		},
		{
			name:       "verifier error",
			verifier:   stubVerifier{err: errors.New("bad signature")},
			header:     "Bearer token",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "token_invalid",
		},
		{
			name:       "timeout",
			verifier:   stubVerifier{delay: time.Second, token: &firebaseauth.Token{UID: "x"}},
			header:     "Bearer token",
			opts:       []Option{WithVerificationTimeout(10 * time.Millisecond)},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "verification_unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, identity := serve(t, NewAuthenticator(tc.verifier, tc.opts...), tc.header)
			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantCode, errorCode(t, rr))
			assert.Nil(t, identity)
		})
	}
}

func TestActorIDPrefersMember(t *testing.T) {
	ctx := WithServiceIdentity(context.Background(), &ServiceIdentity{Subject: "svc"})
	assert.Equal(t, "svc", ActorID(ctx))

	ctx = WithIdentity(ctx, &Identity{UID: "member-1"})
	assert.Equal(t, "member-1", ActorID(ctx))

	assert.Empty(t, ActorID(context.Background()))
}
