// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer, the composition root: it builds the
// store, the optional collaborators (Redis, S3, SMTP), the services and
// the handlers, then maps URLs onto handlers.
//
//	sqlite.DB ─► repositories ─► services ─► handlers ─► chi routes
//
// Each layer only receives what it needs: services get repository
// interfaces, handlers get services.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/campus-market/internal/auth"
	"github.com/sakif/campus-market/internal/blob"
	"github.com/sakif/campus-market/internal/config"
	"github.com/sakif/campus-market/internal/handler"
	"github.com/sakif/campus-market/internal/mailer"
	"github.com/sakif/campus-market/internal/middleware"
	sqliteRepo "github.com/sakif/campus-market/internal/repository/sqlite"
	"github.com/sakif/campus-market/internal/service"
)

// uploadsPrefix is where LocalStore images are served from.
const uploadsPrefix = "/uploads"

// Config holds everything the server needs to wire itself.
type Config struct {
	Port           int
	DBPath         string
	PublicBaseURL  string
	TrustedOrigins []string

	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	ExposeSellerEmail        bool
	RequireEmailVerification bool

	Redis   config.RedisConfig
	Storage config.StorageConfig
	Email   config.EmailConfig
}

// ConfigFrom maps the environment configuration onto the server's.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Port:                     c.Server.Port,
		DBPath:                   c.Server.DBPath,
		PublicBaseURL:            c.Server.PublicBaseURL,
		TrustedOrigins:           c.Server.TrustedOrigins,
		JWTSecret:                c.Auth.JWTSecret,
		TokenTTL:                 c.Auth.TokenTTL,
		BcryptCost:               c.Auth.BcryptCost,
		ExposeSellerEmail:        c.Policy.ExposeSellerEmail,
		RequireEmailVerification: c.Policy.RequireEmailVerification,
		Redis:                    c.Redis,
		Storage:                  c.Storage,
		Email:                    c.Email,
	}
}

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection and, when configured, the Redis
// client. Close releases both.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	redis  *redis.Client
}

// deps are the collaborators built from Config before routes are set up.
type deps struct {
	revoker auth.Revoker
	blobs   blob.Store
	local   *blob.LocalStore // nil when images go to S3
	mail    mailer.Mailer
}

// New creates a new Server with the given config.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	d, err := s.buildDeps()
	if err != nil {
		s.Close()
		return nil, err
	}

	if err := s.setupRoutes(d); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func (s *Server) buildDeps() (deps, error) {
	var d deps

	// === REVOCATION STORE ===
	// Redis when configured so logouts survive restarts and are shared by
	// every replica; process memory otherwise.
	if s.config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     s.config.Redis.Addr,
			Password: s.config.Redis.Password,
			DB:       s.config.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return d, fmt.Errorf("failed to ping Redis: %w", err)
		}
		s.redis = client
		d.revoker = auth.NewRedisRevoker(client)
		s.logger.Info("token revocation: redis", slog.String("addr", s.config.Redis.Addr))
	} else {
		d.revoker = auth.NewMemoryRevoker()
		s.logger.Warn("REDIS_ADDR not set: revoked tokens are kept in memory and forgotten on restart")
	}

	// === IMAGE STORAGE ===
	if s.config.Storage.UseS3() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    s.config.Storage.S3Bucket,
			Region:    s.config.Storage.S3Region,
			Endpoint:  s.config.Storage.S3Endpoint,
			AccessKey: s.config.Storage.S3AccessKey,
			SecretKey: s.config.Storage.S3SecretKey,
			PublicURL: s.config.Storage.S3PublicURL,
		})
		if err != nil {
			return d, fmt.Errorf("creating S3 store: %w", err)
		}
		d.blobs = store
		s.logger.Info("image storage: s3", slog.String("bucket", s.config.Storage.S3Bucket))
	} else {
		store, err := blob.NewLocalStore(s.config.Storage.UploadDir, s.config.PublicBaseURL+uploadsPrefix)
		if err != nil {
			return d, fmt.Errorf("creating upload directory: %w", err)
		}
		d.blobs = store
		d.local = store
		s.logger.Info("image storage: local disk", slog.String("dir", store.Dir()))
	}

	// === MAIL ===
	if s.config.Email.SMTPHost != "" {
		d.mail = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     s.config.Email.SMTPHost,
			Port:     s.config.Email.SMTPPort,
			User:     s.config.Email.SMTPUser,
			Password: s.config.Email.SMTPPassword,
			From:     s.config.Email.From,
		}, s.logger)
	} else {
		d.mail = mailer.NewLogMailer(s.logger)
	}

	return d, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /health                    → liveness + database ping
//	GET    /uploads/*                 → locally stored images (local store only)
//	POST   /api/auth/register         → create account
//	POST   /api/auth/login            → issue token (body + HttpOnly cookie)
//	POST   /api/auth/logout           → revoke token                [auth]
//	GET    /api/auth/verify/{token}   → confirm email address
//	GET    /api/items                 → browse active listings
//	GET    /api/items/my              → own listings by status      [auth]
//	GET    /api/items/{id}            → listing detail              [optional auth]
//	POST   /api/items, /api/items/add → create listing              [auth]
//	PUT    /api/items/{id}            → edit listing                [auth, owner]
//	PUT    /api/items/sold/{id}       → mark sold                   [auth, owner]
//	PUT    /api/items/remove/{id}     → remove                      [auth, owner]
//	DELETE /api/items/{id}            → remove                      [auth, owner]
//	GET    /api/user/profile          → own profile                 [auth]
//	PUT    /api/user/profile          → edit own profile            [auth]
//	GET    /api/user/{id}             → public profile
//
// MIDDLEWARE ORDER MATTERS:
// CORS runs first so preflight requests are answered before anything else.
// RequestID runs before Logger so every log line carries the ID.
func (s *Server) setupRoutes(d deps) error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return err
	}
	passwords := auth.NewPasswordService(s.config.BcryptCost)

	// === Global Middleware ===
	if len(s.config.TrustedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	s.router.Use(middleware.SecurityHeaders)
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Services ===
	users, listings := s.db.Users(), s.db.Listings()

	authService := service.NewAuthService(users, tokens, passwords, d.revoker, d.mail, service.AuthOptions{
		RequireEmailVerification: s.config.RequireEmailVerification,
		VerifyURL:                s.config.PublicBaseURL + "/api/auth/verify",
	}, s.logger)
	guard := service.NewOwnershipGuard(listings, s.logger)
	listingService := service.NewListingService(listings, users, guard, d.blobs, service.ListingOptions{
		ExposeSellerEmail: s.config.ExposeSellerEmail,
	}, s.logger)
	profileService := service.NewProfileService(users, s.logger)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(authService, s.logger)
	listingHandler := handler.NewListingHandler(listingService, s.logger)
	profileHandler := handler.NewProfileHandler(profileService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	requireAuth := auth.RequireAuth(tokens, d.revoker)
	optionalAuth := auth.OptionalAuth(tokens, d.revoker)

	s.router.Get("/health", healthHandler.HandleHealth)

	if d.local != nil {
		fileServer := http.FileServer(http.Dir(d.local.Dir()))
		s.router.Handle(uploadsPrefix+"/*", http.StripPrefix(uploadsPrefix+"/", fileServer))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Get("/verify/{token}", authHandler.HandleVerify)
			r.With(requireAuth).Post("/logout", authHandler.HandleLogout)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", listingHandler.HandleBrowse)
			r.With(optionalAuth).Get("/{id}", listingHandler.HandleGet)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				// Static segments win over {id} in chi, so /my is never
				// treated as a listing ID.
				r.Get("/my", listingHandler.HandleMy)
				r.Post("/", listingHandler.HandleCreate)
				r.Post("/add", listingHandler.HandleCreate)
				r.Put("/{id}", listingHandler.HandleUpdate)
				r.Put("/sold/{id}", listingHandler.HandleMarkSold)
				r.Put("/remove/{id}", listingHandler.HandleRemove)
				r.Delete("/{id}", listingHandler.HandleRemove)
			})
		})

		r.Route("/user", func(r chi.Router) {
			r.With(requireAuth).Get("/profile", profileHandler.HandleGetOwn)
			r.With(requireAuth).Put("/profile", profileHandler.HandleUpdateOwn)
			r.Get("/{id}", profileHandler.HandleGetPublic)
		})
	})

	return nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and the Redis client.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // multipart uploads of five images
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.PublicBaseURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
