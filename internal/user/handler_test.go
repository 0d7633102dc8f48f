package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestHandlerRegisterLogin(t *testing.T) {
	s, _ := newTestService(t)
	h := NewHandler(s)
	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Get("/api/users/{id}", h.Get)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodPost, "/register", `{"name":"Ana","email":"ana@example.com","password":"longenough","role":"owner"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var u User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &u))
	require.NotContains(t, rr.Body.String(), "password")

	rr = do(http.MethodPost, "/register", `{"name":"Ana","email":"ana@example.com","password":"longenough"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(http.MethodPost, "/register", `{`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(http.MethodPost, "/login", `{"email":"ana@example.com","password":"longenough"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var res LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.NotEmpty(t, res.AccessToken)

	rr = do(http.MethodPost, "/login", `{"email":"ana@example.com","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(http.MethodGet, "/api/users/"+u.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(http.MethodGet, "/api/users/nope", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
