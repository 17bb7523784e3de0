package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apidirectory/internal/cache"
	"apidirectory/internal/core"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		token   string
		message string
	}{
		{name: "well formed", header: "Bearer admin-secret", token: "admin-secret"},
		{name: "empty token", header: "Bearer ", token: ""},
		{name: "missing", header: "", message: "missing authorization header"},
		{name: "no scheme", header: "admin-secret", message: "invalid authorization header format, expected 'Bearer <token>'"},
		{name: "lowercase scheme", header: "bearer admin-secret", message: "invalid authorization header format, expected 'Bearer <token>'"},
		{name: "basic scheme", header: "Basic YWRtaW46c2VjcmV0", message: "invalid authorization header format, expected 'Bearer <token>'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := bearerToken(tt.header)
			if tt.message == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.token, token)
				return
			}
			var dirErr *core.DirectoryError
			require.ErrorAs(t, err, &dirErr)
			assert.Equal(t, core.ErrorTypeAuthentication, dirErr.Type)
			assert.Equal(t, tt.message, dirErr.Message)
		})
	}
}

// warm fills the cache through the public routes
func warm(t *testing.T, ts *testServer) {
	t.Helper()
	require.Equal(t, http.StatusOK, ts.get(t, "/v1/providers").Code)
	require.Equal(t, http.StatusOK, ts.get(t, "/v1/apis").Code)
	require.Len(t, ts.store.Keys(t.Context()), 2)
}

func TestAdminAuth_RejectsBeforeTouchingCache(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		header  string
		message string
	}{
		{"stats without header", http.MethodGet, "/admin/cache", "", "missing authorization header"},
		{"clear without header", http.MethodDelete, "/admin/cache", "", "missing authorization header"},
		{"pattern without header", http.MethodDelete, "/admin/cache?pattern=triple:*", "", "missing authorization header"},
		{"clear with wrong key", http.MethodDelete, "/admin/cache", "Bearer wrong", "invalid admin key"},
		{"clear with empty token", http.MethodDelete, "/admin/cache", "Bearer ", "invalid admin key"},
		{"clear with raw key", http.MethodDelete, "/admin/cache", "admin-secret", "invalid authorization header format, expected 'Bearer <token>'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &Config{AdminKey: "admin-secret"})
			warm(t, ts)

			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ts.srv.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, `Bearer realm="admin"`, rec.Header().Get("WWW-Authenticate"))
			assert.NotEmpty(t, rec.Header().Get(core.RequestIDHeader))
			body := decode[map[string]map[string]string](t, rec)
			assert.Equal(t, "authentication_error", body["error"]["type"])
			assert.Equal(t, tt.message, body["error"]["message"])

			assert.Len(t, ts.store.Keys(t.Context()), 2, "rejected request must leave the cache alone")
		})
	}
}

func TestAdminAuth_AcceptsKey(t *testing.T) {
	ts := newTestServer(t, &Config{AdminKey: "admin-secret"})
	warm(t, ts)

	rec := ts.do(t, http.MethodGet, "/admin/cache", "admin-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[cache.Stats](t, rec).Keys)

	rec = ts.do(t, http.MethodDelete, "/admin/cache?pattern=triple:prov*", "admin-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pattern":"triple:prov*","removed":1}`, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/admin/cache", "admin-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.store.Keys(t.Context()))
}

func TestAdminAuth_DirectoryRoutesStayPublic(t *testing.T) {
	ts := newTestServer(t, &Config{AdminKey: "admin-secret"})

	assert.Equal(t, http.StatusOK, ts.get(t, "/v1/providers").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/providers", "wrong").Code)
	assert.Equal(t, http.StatusOK, ts.get(t, "/health").Code)
}

func TestAdminAuth_OpenWithoutKey(t *testing.T) {
	ts := newTestServer(t, &Config{})
	warm(t, ts)

	rec := ts.do(t, http.MethodDelete, "/admin/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Empty(t, ts.store.Keys(t.Context()))
}
