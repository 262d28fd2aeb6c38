// Package client is a Go client for the marketplace HTTP API.
//
// Authentication state is never global: Login returns a *Session and every
// protected call takes one explicitly. When the server answers 401 to a
// session-bearing call the session is cleared in place and the error wraps
// ErrSessionExpired, so callers can send the user back to the login screen.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/model"
)

var (
	// ErrSessionExpired is returned when the server rejects a session's
	// token. The session has been cleared by the time the caller sees it.
	ErrSessionExpired = errors.New("client: session expired, log in again")

	// ErrNoSession is returned when a protected call gets a nil or cleared
	// session. No request is sent.
	ErrNoSession = errors.New("client: not logged in")
)

// Client talks to one API server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL, e.g. "http://localhost:8080".
// A nil httpClient uses a client with a 30 second timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Session is the authenticated state of one user. A nil *Session is a
// logged-out one: every method is safe to call on it.
type Session struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	user      *model.User
}

// Token returns the bearer token, or "" once cleared.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ExpiresAt returns when the server will stop accepting the token.
func (s *Session) ExpiresAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// User returns the account the session belongs to.
func (s *Session) User() *model.User {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Active reports whether the session still holds an unexpired token.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && time.Now().Before(s.expiresAt)
}

// Clear forgets the token and user.
func (s *Session) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.user = nil
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the wire code back onto the domain sentinel, so callers can
// write errors.Is(err, apperror.ErrIllegalTransition).
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "validation_error":
		return apperror.ErrValidation
	case "conflict":
		return apperror.ErrConflict
	case "invalid_credentials":
		return apperror.ErrInvalidCredential
	case "unauthorized":
		return apperror.ErrUnauthorized
	case "forbidden":
		return apperror.ErrForbidden
	case "not_found":
		return apperror.ErrNotFound
	case "illegal_transition":
		return apperror.ErrIllegalTransition
	case "unavailable":
		return apperror.ErrUnavailable
	}
	return nil
}

// request is one API call.
type request struct {
	method      string
	path        string
	query       url.Values
	session     *Session
	auth        authMode
	contentType string
	body        io.Reader
}

type authMode int

const (
	authNone authMode = iota
	authOptional
	authRequired
)

// do sends req and decodes a 2xx body into out (when out is non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	token := req.session.Token()
	if req.auth == authRequired && token == "" {
		return ErrNoSession
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, req.body)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.auth != authNone && token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp)
		if resp.StatusCode == http.StatusUnauthorized && token != "" && req.auth != authNone {
			req.session.Clear()
			return fmt.Errorf("%w: %w", ErrSessionExpired, apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decoding %s %s response: %w", req.method, req.path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Error   string   `json:"error"`
		Message string   `json:"message"`
		Fields  []string `json:"fields"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
		apiErr.Fields = body.Fields
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("client: encoding request: %w", err)
	}
	return bytes.NewReader(raw), nil
}

// =========================================================================
// AUTH
// =========================================================================

// RegisterRequest is a new account.
type RegisterRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Department string `json:"department,omitempty"`
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, in RegisterRequest) (*model.User, error) {
	body, err := jsonBody(in)
	if err != nil {
		return nil, err
	}
	var user model.User
	err = c.do(ctx, request{
		method: http.MethodPost, path: "/api/auth/register",
		contentType: "application/json", body: body,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges credentials for a fresh session.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	body, err := jsonBody(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	var res struct {
		Token     string      `json:"token"`
		ExpiresAt time.Time   `json:"expiresAt"`
		User      *model.User `json:"user"`
	}
	err = c.do(ctx, request{
		method: http.MethodPost, path: "/api/auth/login",
		contentType: "application/json", body: body,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &Session{token: res.Token, expiresAt: res.ExpiresAt, user: res.User}, nil
}

// Logout revokes the session's token on the server and clears the session.
func (c *Client) Logout(ctx context.Context, s *Session) error {
	err := c.do(ctx, request{
		method: http.MethodPost, path: "/api/auth/logout",
		session: s, auth: authRequired,
	}, nil)
	if err != nil {
		return err
	}
	s.Clear()
	return nil
}

// VerifyEmail follows the link token sent at registration.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	var res struct {
		User *model.User `json:"user"`
	}
	err := c.do(ctx, request{
		method: http.MethodGet, path: "/api/auth/verify/" + url.PathEscape(token),
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.User, nil
}

// =========================================================================
// LISTINGS
// =========================================================================

// BrowseParams filters a browse request. Zero values are omitted.
type BrowseParams struct {
	Category   string
	Department string
	Semester   string
	MinPrice   *float64
	MaxPrice   *float64
	Query      string
	Sort       string
	Page       int
	Limit      int
}

func (p BrowseParams) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("category", p.Category)
	set("department", p.Department)
	set("semester", p.Semester)
	set("q", p.Query)
	set("sort", p.Sort)
	if p.MinPrice != nil {
		v.Set("minPrice", strconv.FormatFloat(*p.MinPrice, 'f', -1, 64))
	}
	if p.MaxPrice != nil {
		v.Set("maxPrice", strconv.FormatFloat(*p.MaxPrice, 'f', -1, 64))
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	return v
}

// Browse returns one page of active listings.
func (c *Client) Browse(ctx context.Context, p BrowseParams) (*model.ListingPage, error) {
	var page model.ListingPage
	err := c.do(ctx, request{method: http.MethodGet, path: "/api/items", query: p.values()}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// GetListing returns a listing's detail. s may be nil; with a session the
// owner can still see a sold or removed listing.
func (c *Client) GetListing(ctx context.Context, s *Session, id string) (*model.ListingDetail, error) {
	var detail model.ListingDetail
	err := c.do(ctx, request{
		method: http.MethodGet, path: "/api/items/" + url.PathEscape(id),
		session: s, auth: authOptional,
	}, &detail)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// Image is a file attached to a new listing.
type Image struct {
	Filename string
	Data     []byte
}

// CreateListing posts a listing. Without images the request is JSON; with
// images it is multipart/form-data.
func (c *Client) CreateListing(ctx context.Context, s *Session, in model.ListingInput, images ...Image) (*model.Listing, error) {
	var (
		body        io.Reader
		contentType string
		err         error
	)
	if len(images) == 0 {
		body, err = jsonBody(in)
		contentType = "application/json"
	} else {
		body, contentType, err = listingForm(in, images)
	}
	if err != nil {
		return nil, err
	}

	var listing model.Listing
	err = c.do(ctx, request{
		method: http.MethodPost, path: "/api/items",
		session: s, auth: authRequired,
		contentType: contentType, body: body,
	}, &listing)
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func listingForm(in model.ListingInput, images []Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"title", in.Title},
		{"description", in.Description},
		{"price", strconv.FormatFloat(in.Price, 'f', -1, 64)},
		{"category", in.Category},
		{"semester", in.Semester},
		{"department", in.Department},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("client: writing form: %w", err)
		}
	}
	for _, img := range images {
		part, err := mw.CreateFormFile("images", img.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("client: writing form: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", fmt.Errorf("client: writing form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("client: writing form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// UpdateListing edits an active listing the session owns.
func (c *Client) UpdateListing(ctx context.Context, s *Session, id string, patch model.ListingPatch) (*model.Listing, error) {
	body, err := jsonBody(patch)
	if err != nil {
		return nil, err
	}
	return c.listingCall(ctx, s, http.MethodPut, "/api/items/"+url.PathEscape(id), body)
}

// MarkSold moves an active listing the session owns to sold.
func (c *Client) MarkSold(ctx context.Context, s *Session, id string) (*model.Listing, error) {
	return c.listingCall(ctx, s, http.MethodPut, "/api/items/sold/"+url.PathEscape(id), nil)
}

// RemoveListing tombstones an active listing the session owns.
func (c *Client) RemoveListing(ctx context.Context, s *Session, id string) (*model.Listing, error) {
	return c.listingCall(ctx, s, http.MethodPut, "/api/items/remove/"+url.PathEscape(id), nil)
}

func (c *Client) listingCall(ctx context.Context, s *Session, method, path string, body io.Reader) (*model.Listing, error) {
	req := request{method: method, path: path, session: s, auth: authRequired, body: body}
	if body != nil {
		req.contentType = "application/json"
	}
	var listing model.Listing
	if err := c.do(ctx, req, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// MyListings returns the session owner's listings grouped by status.
func (c *Client) MyListings(ctx context.Context, s *Session) (*model.OwnListings, error) {
	var own model.OwnListings
	err := c.do(ctx, request{
		method: http.MethodGet, path: "/api/items/my",
		session: s, auth: authRequired,
	}, &own)
	if err != nil {
		return nil, err
	}
	return &own, nil
}

// =========================================================================
// PROFILES
// =========================================================================

// Profile returns the session owner's full account.
func (c *Client) Profile(ctx context.Context, s *Session) (*model.User, error) {
	var user model.User
	err := c.do(ctx, request{
		method: http.MethodGet, path: "/api/user/profile",
		session: s, auth: authRequired,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile applies a partial update to the session owner's profile.
func (c *Client) UpdateProfile(ctx context.Context, s *Session, patch model.ProfilePatch) (*model.User, error) {
	body, err := jsonBody(patch)
	if err != nil {
		return nil, err
	}
	var user model.User
	err = c.do(ctx, request{
		method: http.MethodPut, path: "/api/user/profile",
		session: s, auth: authRequired,
		contentType: "application/json", body: body,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// PublicProfile returns another user's public profile.
func (c *Client) PublicProfile(ctx context.Context, userID string) (*model.PublicProfile, error) {
	var p model.PublicProfile
	err := c.do(ctx, request{method: http.MethodGet, path: "/api/user/" + url.PathEscape(userID)}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
