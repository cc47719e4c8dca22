package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_LoginStoresTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@x.com", body["email"])

		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessToken":  "access-1",
			"refreshToken": "refresh-1",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	assert.NoError(t, c.Login(context.Background(), "a@x.com", "secret1"))

	access, refresh := c.Tokens()
	assert.Equal(t, "access-1", access)
	assert.Equal(t, "refresh-1", refresh)
}

func TestClient_RefreshAndRetryOnce(t *testing.T) {
	var refreshCalls, taskCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshCalls++
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "refresh-1", body["refreshToken"])
			_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "access-2"})
		case "/tasks":
			taskCalls++
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"message": map[string]string{"error": "invalid or expired access token", "code": "FORBIDDEN"},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(TaskPage{
				Tasks:      []Task{{ID: "t1", Title: "buy milk"}},
				Pagination: Pagination{Total: 1, Page: 1, Limit: 10, Pages: 1},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens("stale-access", "refresh-1")

	page, err := c.ListTasks(context.Background(), ListOptions{})
	assert.NoError(t, err)
	assert.Len(t, page.Tasks, 1)
	assert.Equal(t, "buy milk", page.Tasks[0].Title)

	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, 2, taskCalls)

	access, _ := c.Tokens()
	assert.Equal(t, "access-2", access)
}

func TestClient_FailedRefreshClearsSession(t *testing.T) {
	var refreshCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshCalls++
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message": map[string]string{"error": "invalid or expired refresh token", "code": "INVALID_REFRESH_TOKEN"},
			})
		case "/tasks":
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message": map[string]string{"error": "access token required", "code": "UNAUTHENTICATED"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens("stale-access", "revoked-refresh")

	_, err := c.ListTasks(context.Background(), ListOptions{})
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 1, refreshCalls)

	access, refresh := c.Tokens()
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestClient_NoRefreshWithoutRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEqual(t, "/auth/refresh", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"error": "access token required", "code": "UNAUTHENTICATED"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)

	_, err := c.GetTask(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestClient_APIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"error": "user already exists", "code": "USER_ALREADY_EXISTS"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)

	_, err := c.Register(context.Background(), "a@x.com", "secret1")
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "USER_ALREADY_EXISTS", apiErr.Code)
	assert.Equal(t, "user already exists", apiErr.Message)
}

func TestClient_PlainMessageDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid request body"})
	}))
	defer srv.Close()

	c := New(srv.URL)

	_, err := c.Register(context.Background(), "a@x.com", "secret1")
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid request body", apiErr.Message)
}

func TestClient_DeleteTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/tasks/t1", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens("access-1", "refresh-1")

	assert.NoError(t, c.DeleteTask(context.Background(), "t1"))
}

func TestClient_ListOptionsQuery(t *testing.T) {
	done := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("status"))
		assert.Equal(t, "milk", q.Get("search"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "5", q.Get("limit"))
		_ = json.NewEncoder(w).Encode(TaskPage{Tasks: []Task{}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens("access-1", "refresh-1")

	_, err := c.ListTasks(context.Background(), ListOptions{
		Status: &done,
		Search: "milk",
		Page:   2,
		Limit:  5,
	})
	assert.NoError(t, err)
}
