package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/model"
)

func activeSession(token string) *Session {
	return &Session{token: token, expiresAt: time.Now().Add(time.Hour), user: &model.User{ID: "u1"}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_ReturnsSession(t *testing.T) {
	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@campus.edu", body["email"])

		writeJSON(w, http.StatusOK, map[string]any{
			"token": "tok-1", "expiresAt": expires, "user": map[string]string{"id": "u1", "name": "A"},
		})
	}))
	defer srv.Close()

	s, err := New(srv.URL, srv.Client()).Login(context.Background(), "a@campus.edu", "pw")
	require.NoError(t, err)

	assert.Equal(t, "tok-1", s.Token())
	assert.True(t, s.ExpiresAt().Equal(expires))
	assert.Equal(t, "u1", s.User().ID)
	assert.True(t, s.Active())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid_credentials", "message": "invalid email or password",
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL, srv.Client()).Login(context.Background(), "a@campus.edu", "nope")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrInvalidCredential)
	assert.NotErrorIs(t, err, ErrSessionExpired, "no session was involved")
}

func TestUnauthorizedClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "unauthorized", "message": "session expired, please log in again",
		})
	}))
	defer srv.Close()

	s := activeSession("stale")
	_, err := New(srv.URL, srv.Client()).MyListings(context.Background(), s)

	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())
	assert.False(t, s.Active())
}

func TestProtectedCallWithoutSession(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())

	_, err := c.MyListings(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSession)

	cleared := activeSession("t")
	cleared.Clear()
	_, err = c.MarkSold(context.Background(), cleared, "l1")
	assert.ErrorIs(t, err, ErrNoSession)

	assert.Zero(t, hits.Load(), "no request may be sent without a token")
}

func TestNilSession(t *testing.T) {
	var s *Session

	assert.Empty(t, s.Token())
	assert.True(t, s.ExpiresAt().IsZero())
	assert.Nil(t, s.User())
	assert.False(t, s.Active())
	assert.NotPanics(t, s.Clear)
}

func TestLogout_ClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
	}))
	defer srv.Close()

	s := activeSession("tok")
	require.NoError(t, New(srv.URL, srv.Client()).Logout(context.Background(), s))
	assert.Empty(t, s.Token())
}

func TestGetListing_OptionalSession(t *testing.T) {
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"id": "l1", "title": "Desk", "seller": map[string]string{"id": "u1"}})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())

	d, err := c.GetListing(context.Background(), nil, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Desk", d.Title)
	assert.Equal(t, "u1", d.Seller.ID)

	_, err = c.GetListing(context.Background(), activeSession("tok"), "l1")
	require.NoError(t, err)

	assert.Equal(t, []string{"", "Bearer tok"}, gotAuth)
}

func TestBrowseParams(t *testing.T) {
	lo, hi := 10.0, 99.5
	v := BrowseParams{
		Category: "books", Query: "calc", Sort: "price-asc",
		MinPrice: &lo, MaxPrice: &hi, Page: 2, Limit: 20,
	}.values()

	assert.Equal(t, "books", v.Get("category"))
	assert.Equal(t, "calc", v.Get("q"))
	assert.Equal(t, "price-asc", v.Get("sort"))
	assert.Equal(t, "10", v.Get("minPrice"))
	assert.Equal(t, "99.5", v.Get("maxPrice"))
	assert.Equal(t, "2", v.Get("page"))
	assert.Equal(t, "20", v.Get("limit"))
	assert.False(t, v.Has("department"), "zero values are omitted")
	assert.Empty(t, BrowseParams{}.values())
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "validation_error", "message": "price must be greater than 0", "fields": []string{"price"},
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL, srv.Client()).CreateListing(context.Background(), activeSession("t"),
		model.ListingInput{Title: "x", Price: -5, Category: "c"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, []string{"price"}, apiErr.Fields)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestAPIError_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, srv.Client()).Browse(context.Background(), BrowseParams{})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}
