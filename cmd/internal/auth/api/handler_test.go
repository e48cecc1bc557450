package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandroom/cmd/identity"
	"bandroom/cmd/internal/auth/session"
	"bandroom/cmd/security/token"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	tm, err := token.NewManager(token.Config{
		Issuer:        "bandroom-test",
		AccessSecret:  "access-secret-0123456789-0123456789-abc",
		RefreshSecret: "refresh-secret-0123456789-0123456789-ab",
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := session.NewService(identity.NewMemoryStore(), tm, logger)
	require.NoError(t, err)

	h, err := NewHandler(logger, svc, Config{})
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

const registerBody = `{"email":"amy@example.com","password":"long enough pw","firstName":"Amy","lastName":"Bass"}`

func TestRegisterEndpoint(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/auth/register", registerBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "amy@example.com", resp.User.Email)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	// Duplicate registration conflicts.
	rec = doJSON(t, mux, http.MethodPost, "/auth/register", registerBody, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "email_taken")
}

func TestRegisterRejectsBadBodies(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "not-json"},
		{"unknown field", `{"email":"a@b.com","password":"long enough pw","firstName":"A","lastName":"B","admin":true}`},
		{"trailing data", registerBody + `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/auth/register", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := doJSON(t, mux, http.MethodPost, "/auth/register",
		`{"email":"a@b.com","password":"short","firstName":"A","lastName":"B"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestLoginEndpoint(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	require.Equal(t, http.StatusCreated,
		doJSON(t, mux, http.MethodPost, "/auth/register", registerBody, nil).Code)

	rec := doJSON(t, mux, http.MethodPost, "/auth/login",
		`{"email":"amy@example.com","password":"long enough pw"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Unknown email and wrong password produce byte-identical error bodies.
	recUnknown := doJSON(t, mux, http.MethodPost, "/auth/login",
		`{"email":"nobody@example.com","password":"long enough pw"}`, nil)
	recWrongPw := doJSON(t, mux, http.MethodPost, "/auth/login",
		`{"email":"amy@example.com","password":"wrong password!"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, recUnknown.Code)
	assert.Equal(t, http.StatusUnauthorized, recWrongPw.Code)
	assert.Equal(t, recUnknown.Body.String(), recWrongPw.Body.String())
}

func TestRefreshEndpoint(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/auth/register", registerBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var reg struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))

	rec = doJSON(t, mux, http.MethodPost, "/auth/refresh",
		`{"refreshToken":"`+reg.RefreshToken+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var refreshed map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.NotEmpty(t, refreshed["accessToken"])
	// Refresh never returns a new refresh token.
	_, rotated := refreshed["refreshToken"]
	assert.False(t, rotated)

	// An access token presented as a refresh token is rejected outright.
	rec = doJSON(t, mux, http.MethodPost, "/auth/refresh",
		`{"refreshToken":"`+reg.AccessToken+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/auth/refresh", `{"refreshToken":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeEndpoint(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/auth/register", registerBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var reg struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))

	hdr := http.Header{"Authorization": []string{"Bearer " + reg.AccessToken}}
	rec = doJSON(t, mux, http.MethodGet, "/users/me", "", hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"amy@example.com"`))

	// Missing, garbage, and wrong-namespace tokens are all 401.
	rec = doJSON(t, mux, http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	hdr = http.Header{"Authorization": []string{"Bearer garbage"}}
	rec = doJSON(t, mux, http.MethodGet, "/users/me", "", hdr)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	hdr = http.Header{"Authorization": []string{"Bearer " + reg.RefreshToken}}
	rec = doJSON(t, mux, http.MethodGet, "/users/me", "", hdr)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutEndpoint(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
