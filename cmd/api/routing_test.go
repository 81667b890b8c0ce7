package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"elibrary/internal/access"
	"elibrary/internal/config"
	"elibrary/internal/platform/crypto"
	"elibrary/internal/testutil"
	"elibrary/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:        config.DriverMemory,
		JWTSecret:          "routing-secret",
		AccessTokenTTL:     15 * time.Minute,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
		MaxBodyBytes:       1 << 20,
	}
}

type client struct {
	t      *testing.T
	server *httptest.Server
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Meta    map[string]interface{} `json:"meta"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (c client) do(method, path, token string, body interface{}) (int, envelope) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.server.URL+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func (c client) data(env envelope) map[string]interface{} {
	c.t.Helper()
	var m map[string]interface{}
	require.NoError(c.t, json.Unmarshal(env.Data, &m))
	return m
}

func (c client) login(email, password string) string {
	c.t.Helper()
	status, env := c.do(http.MethodPost, "/v1/users/login", "", map[string]string{"email": email, "password": password})
	require.Equal(c.t, http.StatusOK, status)
	return c.data(env)["access_token"].(string)
}

func setupServer(t *testing.T) client {
	t.Helper()
	st := memoryStores()
	a := newApp(testConfig(), st, zap.NewNop(), time.Now)

	hash, err := crypto.HashPassword("Librar1an!")
	require.NoError(t, err)
	_, err = user.NewService(st.users).Register(context.Background(), "librarian@example.com", "librarian", hash, access.RoleLibrarian)
	require.NoError(t, err)

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)
	return client{t: t, server: srv}
}

func TestHealthEndpoints(t *testing.T) {
	c := setupServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := c.server.Client().Get(c.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestV1Routing_TokenAndRoleGuards(t *testing.T) {
	c := setupServer(t)
	secret := testConfig().JWTSecret
	readerToken := testutil.GenerateTestToken(secret, testutil.Reader.UserID, access.RoleUser)
	librarianToken := testutil.GenerateTestToken(secret, testutil.Librarian.UserID, access.RoleLibrarian)

	status, env := c.do(http.MethodGet, "/v1/ebooks", testutil.GenerateExpiredToken(secret, testutil.Reader.UserID, access.RoleUser), nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, _ = c.do(http.MethodGet, "/v1/ebooks", testutil.GenerateTestToken("other-secret", testutil.Reader.UserID, access.RoleUser), nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/v1/requests"},
		{http.MethodPost, "/v1/ebooks"},
		{http.MethodPost, "/v1/ebooks/x/revoke"},
		{http.MethodPut, "/v1/ebooks/x"},
		{http.MethodDelete, "/v1/ebooks/x"},
		{http.MethodPut, "/v1/requests/approve-return/x"},
	} {
		status, env := c.do(route.method, route.path, readerToken, map[string]string{})
		assert.Equal(t, http.StatusForbidden, status, route.path)
		assert.Equal(t, "FORBIDDEN", env.Error.Code, route.path)
	}

	status, _ = c.do(http.MethodPost, "/v1/ebooks/x/request", librarianToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = c.do(http.MethodGet, "/v1/ebooks", readerToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestV1Routing_RequiresAuth(t *testing.T) {
	c := setupServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/v1/ebooks"},
		{http.MethodPost, "/v1/ebooks/x/request"},
		{http.MethodPut, "/v1/ebooks/x/return"},
		{http.MethodGet, "/v1/fines/x"},
		{http.MethodPut, "/v1/fines/pay/x"},
		{http.MethodPost, "/v1/pay-fine"},
		{http.MethodPut, "/v1/requests/approve-return/x"},
	} {
		status, env := c.do(route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, route.path)
		assert.Equal(t, "UNAUTHORIZED", env.Error.Code, route.path)
	}
}

func TestV1Routing_LendingFlow(t *testing.T) {
	c := setupServer(t)

	status, _ := c.do(http.MethodPost, "/v1/users/register", "", map[string]string{
		"email": "reader@example.com", "username": "reader", "password": "Passw0rd!",
	})
	require.Equal(t, http.StatusCreated, status)

	readerToken := c.login("reader@example.com", "Passw0rd!")
	libToken := c.login("librarian@example.com", "Librar1an!")

	status, _ = c.do(http.MethodPost, "/v1/ebooks", readerToken, map[string]interface{}{"title": "Dune", "authors": []string{"Frank Herbert"}})
	assert.Equal(t, http.StatusForbidden, status)

	status, env := c.do(http.MethodPost, "/v1/ebooks", libToken, map[string]interface{}{"title": "Dune", "authors": []string{"Frank Herbert"}})
	require.Equal(t, http.StatusCreated, status)
	ebookID := c.data(env)["id"].(string)

	status, _ = c.do(http.MethodPost, "/v1/ebooks/"+ebookID+"/request", libToken, nil)
	assert.Equal(t, http.StatusForbidden, status, "librarians do not borrow")

	status, env = c.do(http.MethodPost, "/v1/ebooks/"+ebookID+"/request", readerToken, nil)
	require.Equal(t, http.StatusOK, status)
	requestID := c.data(env)["id"].(string)

	status, _ = c.do(http.MethodGet, "/v1/requests", readerToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = c.do(http.MethodPut, "/v1/requests/"+requestID, libToken, map[string]string{"status": "granted"})
	require.Equal(t, http.StatusOK, status)

	status, _ = c.do(http.MethodPut, "/v1/requests/"+requestID, libToken, map[string]string{"status": "granted"})
	assert.Equal(t, http.StatusConflict, status)

	status, env = c.do(http.MethodGet, "/v1/me/issued-books", readerToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, env.Meta["count"])

	status, env = c.do(http.MethodPut, "/v1/ebooks/"+ebookID+"/return", readerToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, c.data(env)["fineAmount"])

	status, _ = c.do(http.MethodPut, "/v1/ebooks/"+ebookID+"/return", readerToken, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestV1Routing_LogoutRevokesToken(t *testing.T) {
	c := setupServer(t)
	token := c.login("librarian@example.com", "Librar1an!")

	status, _ := c.do(http.MethodGet, "/v1/me", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = c.do(http.MethodPost, "/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = c.do(http.MethodGet, "/v1/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/lib", redactDSN("postgres://user:pw@db:5432/lib"))
	assert.Equal(t, "mongodb://localhost:27017", redactDSN("mongodb://localhost:27017"))
}
