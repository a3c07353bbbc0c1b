// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authguard.
//
// go-authguard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/correlation"
	"github.com/jeremyhahn/go-authguard/pkg/ratelimit"
	"github.com/jeremyhahn/go-authguard/pkg/sanitize"
	"github.com/jeremyhahn/go-authguard/pkg/session"
	"github.com/jeremyhahn/go-authguard/pkg/storage"
	"github.com/jeremyhahn/go-authguard/pkg/token"
	"github.com/jeremyhahn/go-authguard/pkg/webauthn"
)

type pipelineFixture struct {
	pipeline *Pipeline
	sessions *session.Manager
	tokens   *token.Service
	auditor  *audit.MemoryAuditor
	now      time.Time
}

func newPipelineFixture(t *testing.T, rlConfig *ratelimit.Config) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	sessions, err := session.NewManager(session.NewStore(storage.NewMemoryStore()), &session.Config{
		Clock: clock,
	})
	require.NoError(t, err)
	f.sessions = sessions

	tokens, err := token.NewService(&token.Config{
		AccessSecret:  []byte("access-secret-0123456789abcdef01"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdef0"),
		Issuer:        "authguard-test",
		Audience:      "authguard-clients",
		Clock:         clock,
	})
	require.NoError(t, err)
	f.tokens = tokens

	if rlConfig == nil {
		rlConfig = &ratelimit.Config{Enabled: false}
	}
	f.auditor = audit.NewMemoryAuditor()

	p, err := New(&Params{
		Limiter:  ratelimit.New(rlConfig),
		Sessions: sessions,
		Tokens:   tokens,
		Auditor:  f.auditor,
		CORS: CORSPolicy{
			AllowedOrigins: []string{"https://app.example.com"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Authorization", "X-CSRF-Token"},
			MaxAge:         300,
		},
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

// loggedIn creates a session and a matching access token.
func (f *pipelineFixture) loggedIn(t *testing.T) (*session.Record, string) {
	t.Helper()
	record, err := f.sessions.Create(context.Background(), session.CreateParams{
		UserID: "user-1",
		Roles:  []string{"user"},
	})
	require.NoError(t, err)

	pair, err := f.tokens.IssuePair(token.Payload{
		SubjectID: "user-1",
		Roles:     []string{"user"},
		SessionID: record.ID,
	})
	require.NoError(t, err)
	return record, pair.AccessToken
}

func echoHandler(captured **http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = r
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestPipelineAnonymousRequest(t *testing.T) {
	f := newPipelineFixture(t, nil)

	var seen *http.Request
	handler := f.pipeline.Middleware(echoHandler(&seen))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get(correlation.RequestIDHeader))

	require.NotNil(t, seen)
	assert.Nil(t, auth.GetIdentity(seen.Context()))
	sc := GetSecurityContext(seen)
	require.NotNil(t, sc)
	assert.Nil(t, sc.Identity)
}

func TestPipelinePropagatesRequestID(t *testing.T) {
	f := newPipelineFixture(t, nil)
	handler := f.pipeline.Middleware(echoHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(correlation.RequestIDHeader, "req-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get(correlation.RequestIDHeader))

	events, err := f.auditor.GetEvents(context.Background(), &audit.EventQuery{
		EventTypes: []audit.EventType{audit.EventRequestCompleted},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "req-abc", events[0].RequestID)
}

func TestPipelineBearerAuthentication(t *testing.T) {
	f := newPipelineFixture(t, nil)
	record, accessToken := f.loggedIn(t)

	var seen *http.Request
	handler := f.pipeline.Middleware(echoHandler(&seen))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)

	identity := auth.GetIdentity(seen.Context())
	require.NotNil(t, identity)
	assert.Equal(t, "user-1", identity.Subject)

	sc := GetSecurityContext(seen)
	require.NotNil(t, sc)
	require.NotNil(t, sc.Session)
	assert.Equal(t, record.ID, sc.Session.ID)
	assert.False(t, sc.RotationRequired)
}

func TestPipelineInvalidTokenContinuesAnonymous(t *testing.T) {
	f := newPipelineFixture(t, nil)

	for _, header := range []string{"Bearer garbage", "Basic dXNlcjpwYXNz"} {
		var seen *http.Request
		handler := f.pipeline.Middleware(echoHandler(&seen))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		// Bad credentials downgrade to anonymous; the route guard, not
		// the pipeline, decides whether anonymous may pass.
		assert.Equal(t, http.StatusOK, rec.Code, header)
		require.NotNil(t, seen, header)
		assert.Nil(t, auth.GetIdentity(seen.Context()), header)

		sc := GetSecurityContext(seen)
		require.NotNil(t, sc, header)
		assert.Nil(t, sc.Identity, header)
		assert.ErrorIs(t, sc.AuthError, ErrUnauthenticated, header)
	}
}

func TestPipelineDeadSessionContinuesAnonymous(t *testing.T) {
	f := newPipelineFixture(t, nil)
	record, accessToken := f.loggedIn(t)
	require.NoError(t, f.sessions.Invalidate(context.Background(), record.ID))

	var seen *http.Request
	handler := f.pipeline.Middleware(echoHandler(&seen))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Nil(t, auth.GetIdentity(seen.Context()))

	sc := GetSecurityContext(seen)
	require.NotNil(t, sc)
	assert.Nil(t, sc.Session)
	assert.ErrorIs(t, sc.AuthError, ErrUnauthenticated)
}

func TestPipelineRotationHeader(t *testing.T) {
	f := newPipelineFixture(t, nil)
	_, accessToken := f.loggedIn(t)

	f.now = f.now.Add(session.DefaultRotationInterval + time.Minute)

	var seen *http.Request
	handler := f.pipeline.Middleware(echoHandler(&seen))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Session-Rotation-Required"))
	sc := GetSecurityContext(seen)
	require.NotNil(t, sc)
	assert.True(t, sc.RotationRequired)
}

func TestPipelineRateLimited(t *testing.T) {
	f := newPipelineFixture(t, &ratelimit.Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             2,
	})
	handler := f.pipeline.Middleware(echoHandler(nil))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", "203.0.113.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	events, err := f.auditor.GetEvents(context.Background(), &audit.EventQuery{
		EventTypes: []audit.EventType{audit.EventRateLimited},
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPipelineCSRF(t *testing.T) {
	f := newPipelineFixture(t, nil)
	record, _ := f.loggedIn(t)

	handler := f.pipeline.Middleware(echoHandler(nil))

	newPost := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: record.ID})
		return req
	}

	// Missing token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newPost())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Wrong token.
	req := newPost()
	req.Header.Set(DefaultCSRFHeader, "not-the-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Matching token.
	req = newPost()
	req.Header.Set(DefaultCSRFHeader, record.CSRFToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Safe methods skip the check entirely.
	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	getReq.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: record.ID})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, getReq)
	assert.Equal(t, http.StatusOK, rec.Code)

	events, err := f.auditor.GetEvents(context.Background(), &audit.EventQuery{
		EventTypes: []audit.EventType{audit.EventCSRFRejected},
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPipelineCSRFWithoutCookieIsExempt(t *testing.T) {
	f := newPipelineFixture(t, nil)
	handler := f.pipeline.Middleware(echoHandler(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipelineSanitizesQuery(t *testing.T) {
	f := newPipelineFixture(t, nil)

	var seen *http.Request
	handler := f.pipeline.Middleware(echoHandler(&seen))

	req := httptest.NewRequest(http.MethodGet, "/search?q=%3Cscript%3Ealert(1)%3C/script%3Ehello", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "hello", seen.URL.Query().Get("q"))

	sc := GetSecurityContext(seen)
	require.NotNil(t, sc)
	assert.True(t, sc.Sanitization.Modified)

	events, err := f.auditor.GetEvents(context.Background(), &audit.EventQuery{
		EventTypes: []audit.EventType{audit.EventInputSanitized},
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPipelineSanitizesBody(t *testing.T) {
	f := newPipelineFixture(t, nil)

	var seen *http.Request
	handler := f.pipeline.Middleware(echoHandler(&seen))

	payload := "name=\x00<script>alert(1)</script>bob&" +
		strings.Repeat("a", sanitize.MaxValueLength+5000)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)

	body, err := io.ReadAll(seen.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "\x00")
	assert.NotContains(t, string(body), "<script>")
	assert.Contains(t, string(body), "bob")
	assert.LessOrEqual(t, len(body), sanitize.MaxValueLength)
	assert.Equal(t, int64(len(body)), seen.ContentLength)

	sc := GetSecurityContext(seen)
	require.NotNil(t, sc)
	assert.True(t, sc.Sanitization.Modified)

	events, err := f.auditor.GetEvents(context.Background(), &audit.EventQuery{
		EventTypes: []audit.EventType{audit.EventInputSanitized},
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPipelineCORSPreflight(t *testing.T) {
	f := newPipelineFixture(t, nil)
	handler := f.pipeline.Middleware(echoHandler(nil))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"))
}

func TestPipelineCORSDisallowedOrigin(t *testing.T) {
	f := newPipelineFixture(t, nil)
	handler := f.pipeline.Middleware(echoHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// The request still runs; the browser blocks it client-side because
	// no allow header is present.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrCSRFInvalid, http.StatusForbidden},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("%w: expired", ErrUnauthenticated), http.StatusUnauthorized},
		{session.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{webauthn.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}
