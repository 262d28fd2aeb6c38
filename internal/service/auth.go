package service

// AuthService sits between the auth handlers and the user store:
//
//	AuthHandler (HTTP) → AuthService → UserRepository (DB)
//	                        ├─ PasswordService (bcrypt)
//	                        ├─ TokenService (JWT)
//	                        ├─ Revoker (logout)
//	                        └─ Mailer (verification link)

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/auth"
	"github.com/sakif/campus-market/internal/mailer"
	"github.com/sakif/campus-market/internal/model"
	"github.com/sakif/campus-market/internal/repository"
)

const (
	MinPasswordLength = 8
	MaxEmailLength    = 254
)

// AuthOptions are per-deployment switches for the account flow.
type AuthOptions struct {
	// RequireEmailVerification creates accounts unverified and refuses
	// their login until the emailed link is followed.
	RequireEmailVerification bool
	// VerifyURL is the prefix of the link sent by mail; the token is
	// appended as the last path segment.
	VerifyURL string
}

type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	revoker   auth.Revoker
	mail      mailer.Mailer
	opts      AuthOptions
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	revoker auth.Revoker,
	mail mailer.Mailer,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		revoker:   revoker,
		mail:      mail,
		opts:      opts,
		logger:    logger,
	}
}

// RegisterInput is a new account request.
type RegisterInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Department string `json:"department"`
}

// AuthResult is the outcome of a successful login.
type AuthResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// NormalizeEmail trims and lower-cases an address. Emails are compared and
// stored in this form only.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =========================================================================
// REGISTER
// =========================================================================

// Register creates an account. A second registration for the same email
// fails with DuplicateIdentity, whether it is caught by the lookup here or
// by the UNIQUE constraint when two requests race.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	in.Department = strings.TrimSpace(in.Department)

	var errs apperror.FieldErrors
	switch {
	case in.Name == "":
		errs.Add("name", "name is required")
	case utf8.RuneCountInString(in.Name) > MaxNameLength:
		errs.Add("name", fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	if !validEmail(in.Email) {
		errs.Add("email", "a valid email address is required")
	}
	switch {
	case len(in.Password) < MinPasswordLength:
		errs.Add("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	case len(in.Password) > auth.MaxPasswordBytes:
		errs.Add("password", fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	_, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, apperror.DuplicateIdentity()
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, storeError(s.logger, "auth.register.lookup", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user := &model.User{
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Department:   in.Department,
		Verified:     !s.opts.RequireEmailVerification,
	}
	if s.opts.RequireEmailVerification {
		user.VerificationToken = uuid.NewString()
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, storeError(s.logger, "auth.register.create", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.Bool("verified", user.Verified),
	)

	if s.opts.RequireEmailVerification {
		link := strings.TrimRight(s.opts.VerifyURL, "/") + "/" + user.VerificationToken
		if err := s.mail.SendVerification(ctx, user.Email, user.Name, link); err != nil {
			// The account exists either way; the user can ask support to resend.
			s.logger.Error("sending verification email failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return user, nil
}

// validEmail accepts a bare addr-spec only: "a@b.edu", not "A <a@b.edu>".
func validEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	_, domain, ok := strings.Cut(email, "@")
	return ok && strings.Contains(domain, ".")
}

// =========================================================================
// LOGIN / LOGOUT
// =========================================================================

// Login checks the credentials and issues a token. Unknown email and wrong
// password both yield the same InvalidCredential, and both cost one bcrypt
// comparison.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.passwords.VerifyAgainstNothing(password)
			return nil, apperror.InvalidCredential()
		}
		return nil, storeError(s.logger, "auth.login.lookup", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash is unreadable",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.InvalidCredential()
	}

	if s.opts.RequireEmailVerification && !user.Verified {
		return nil, apperror.Forbidden("verify your email address before logging in")
	}

	token, expiresAt, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))

	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Logout revokes the presented token until it would have expired.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.TokenID == "" {
		return apperror.Unauthorized("valid authentication required")
	}

	if err := s.revoker.Revoke(ctx, claims.TokenID, claims.ExpiresAt); err != nil {
		s.logger.Error("token revocation failed", slog.String("error", err.Error()))
		return apperror.Unavailable("session store", err)
	}

	s.logger.Info("user logged out", slog.String("userID", claims.UserID))
	return nil
}

// =========================================================================
// EMAIL VERIFICATION
// =========================================================================

// VerifyEmail marks the account holding token as verified. The token is
// single-use: it is cleared on success.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.ValidationFailed("token", "verification token is required")
	}

	user, err := s.users.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrNotFound,
				Message: "verification link is invalid or already used",
			}
		}
		return nil, storeError(s.logger, "auth.verify.lookup", err)
	}

	user.Verified = true
	user.VerificationToken = ""
	if err := s.users.Update(ctx, user); err != nil {
		return nil, storeError(s.logger, "auth.verify.update", err)
	}

	s.logger.Info("email verified", slog.String("userID", user.ID))
	return user, nil
}

// GetUserByID returns the full account for an authenticated caller.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("valid authentication required")
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(s.logger, "auth.user", err)
	}
	return user, nil
}
