package message

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"petconnect/internal/auth"
	"petconnect/internal/middleware"
)

func asUser(id auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithIdentity(r.Context(), id)))
		})
	}
}

func TestHandlerFlow(t *testing.T) {
	s := newTestService(t, nil)
	h := NewHandler(s)

	routerFor := func(id auth.Identity) http.Handler {
		r := chi.NewRouter()
		r.Use(asUser(id))
		h.Routes(r)
		return r
	}
	ana, bo := routerFor(owner), routerFor(walker)

	do := func(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do(ana, http.MethodPost, "/api/messages", `{"receiverId":"u2","content":"hello"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var m Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	require.Equal(t, "u2", m.Receiver.ID)
	require.Contains(t, rr.Body.String(), `"receiver":{"_id":"u2","name":"Bo"}`)

	rr = do(ana, http.MethodPost, "/api/messages", `{"receiverId":"u2"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(ana, http.MethodPost, "/api/messages", `{"receiverId":"ghost","content":"x"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(bo, http.MethodGet, "/api/messages/unread/count", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"count":1}`, rr.Body.String())

	rr = do(bo, http.MethodGet, "/api/messages/u1?limit=10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var history []Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Len(t, history, 1)

	rr = do(bo, http.MethodGet, "/api/messages/u1?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(bo, http.MethodGet, "/api/messages/u1?before=yesterday", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(bo, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var summaries []Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, "u1_u2", summaries[0].ConversationID)

	rr = do(bo, http.MethodPut, "/api/messages/read", `{"messageIds":["`+m.ID+`"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"updated":1}`, rr.Body.String())

	rr = do(bo, http.MethodPut, "/api/messages/read", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
