package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/campus-market/internal/auth"
	"github.com/sakif/campus-market/internal/blob"
	"github.com/sakif/campus-market/internal/handler"
	"github.com/sakif/campus-market/internal/mailer"
	sqliteRepo "github.com/sakif/campus-market/internal/repository/sqlite"
	"github.com/sakif/campus-market/internal/service"
)

// testEnv is the handler package wired to a real in-memory database and a
// temporary upload directory. Routes mirror the server's.
type testEnv struct {
	router  http.Handler
	db      *sqliteRepo.DB
	uploads string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := discardLogger()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", 0)
	require.NoError(t, err)
	revoker := auth.NewMemoryRevoker()

	uploads := t.TempDir()
	store, err := blob.NewLocalStore(uploads, "/uploads")
	require.NoError(t, err)

	users, listings := db.Users(), db.Listings()
	authSvc := service.NewAuthService(users, tokens, auth.NewPasswordServiceForTest(bcrypt.MinCost),
		revoker, mailer.NewLogMailer(logger), service.AuthOptions{}, logger)
	guard := service.NewOwnershipGuard(listings, logger)
	listingSvc := service.NewListingService(listings, users, guard, store, service.ListingOptions{}, logger)
	profileSvc := service.NewProfileService(users, logger)

	authH := handler.NewAuthHandler(authSvc, logger)
	listingH := handler.NewListingHandler(listingSvc, logger)
	profileH := handler.NewProfileHandler(profileSvc, logger)
	healthH := handler.NewHealthHandler(db, logger)

	requireAuth := auth.RequireAuth(tokens, revoker)
	optionalAuth := auth.OptionalAuth(tokens, revoker)

	r := chi.NewRouter()
	r.Get("/health", healthH.HandleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", authH.HandleRegister)
		r.Post("/auth/login", authH.HandleLogin)
		r.Get("/auth/verify/{token}", authH.HandleVerify)
		r.With(requireAuth).Post("/auth/logout", authH.HandleLogout)

		r.Get("/items", listingH.HandleBrowse)
		r.With(optionalAuth).Get("/items/{id}", listingH.HandleGet)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/items/my", listingH.HandleMy)
			r.Post("/items", listingH.HandleCreate)
			r.Put("/items/{id}", listingH.HandleUpdate)
			r.Put("/items/sold/{id}", listingH.HandleMarkSold)
			r.Put("/items/remove/{id}", listingH.HandleRemove)
			r.Delete("/items/{id}", listingH.HandleRemove)
			r.Get("/user/profile", profileH.HandleGetOwn)
			r.Put("/user/profile", profileH.HandleUpdateOwn)
		})
		r.Get("/user/{id}", profileH.HandleGetPublic)
	})

	return &testEnv{router: r, db: db, uploads: uploads}
}

// do sends a request through the router. body may be nil, a string, or
// anything JSON-encodable.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// signup registers and logs in a user, returning the user ID and token.
func (e *testEnv) signup(t *testing.T, name, email string) (string, string) {
	t.Helper()

	rr := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "correct-horse", "department": "CSE",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res handler.LoginResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	return res.User.ID, res.Token
}

// createListing posts a JSON listing and returns its ID.
func (e *testEnv) createListing(t *testing.T, token, title string, price float64) string {
	t.Helper()

	rr := e.do(t, http.MethodPost, "/api/items", token, map[string]any{
		"title": title, "price": price, "category": "books",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	return created.ID
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var res handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res), rr.Body.String())
	return res
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return context.DeadlineExceeded }
