package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/auth"
)

type authFixture struct {
	svc     *AuthService
	users   *fakeUserRepo
	tokens  *auth.TokenService
	revoker *auth.MemoryRevoker
	mail    *fakeMailer
}

func newTestAuthService(t *testing.T, opts AuthOptions) *authFixture {
	t.Helper()

	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	f := &authFixture{
		users:   newFakeUserRepo(),
		tokens:  ts,
		revoker: auth.NewMemoryRevoker(),
		mail:    &fakeMailer{},
	}
	f.svc = NewAuthService(f.users, ts, auth.NewPasswordServiceForTest(bcrypt.MinCost), f.revoker, f.mail, opts, testLogger())
	return f
}

func validRegistration() RegisterInput {
	return RegisterInput{
		Name:       "Asha Rahman",
		Email:      "asha@campus.edu",
		Password:   "correct-horse",
		Department: "CSE",
	}
}

// =========================================================================
// REGISTER
// =========================================================================

func TestRegister_Success(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{})

	in := validRegistration()
	in.Email = "  Asha@Campus.EDU "
	user, err := f.svc.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Register() did not assign an ID")
	}
	if user.Email != "asha@campus.edu" {
		t.Errorf("Email = %q, want normalised %q", user.Email, "asha@campus.edu")
	}
	if user.PasswordHash == "" || user.PasswordHash == in.Password {
		t.Error("password was not hashed")
	}
	if !user.Verified {
		t.Error("users are created verified when verification is off")
	}
	if len(f.mail.sent) != 0 {
		t.Errorf("no mail expected, got %v", f.mail.sent)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{})
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, validRegistration()); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	again := validRegistration()
	again.Email = "ASHA@campus.edu"
	_, err := f.svc.Register(ctx, again)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second Register() error = %v, want ErrConflict", err)
	}
	if len(f.users.users) != 1 {
		t.Errorf("users stored = %d, want 1", len(f.users.users))
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*RegisterInput)
		wantFields []string
	}{
		{"missing name", func(in *RegisterInput) { in.Name = "  " }, []string{"name"}},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, []string{"email"}},
		{"display name form", func(in *RegisterInput) { in.Email = "Asha <asha@campus.edu>" }, []string{"email"}},
		{"short password", func(in *RegisterInput) { in.Password = "short" }, []string{"password"}},
		{"long password", func(in *RegisterInput) { in.Password = strings.Repeat("p", 73) }, []string{"password"}},
		{"everything wrong", func(in *RegisterInput) {
			in.Name, in.Email, in.Password = "", "", ""
		}, []string{"name", "email", "password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestAuthService(t, AuthOptions{})
			in := validRegistration()
			tt.mutate(&in)

			_, err := f.svc.Register(context.Background(), in)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Register() error = %v, want ErrValidation", err)
			}

			var appErr *apperror.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("error is not an AppError: %T", err)
			}
			if strings.Join(appErr.Fields, ",") != strings.Join(tt.wantFields, ",") {
				t.Errorf("Fields = %v, want %v", appErr.Fields, tt.wantFields)
			}
			if len(f.users.users) != 0 {
				t.Error("an invalid registration stored a user")
			}
		})
	}
}

func TestRegister_StoreDown(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{})
	f.users.err = errors.New("disk I/O error")

	_, err := f.svc.Register(context.Background(), validRegistration())
	if !errors.Is(err, apperror.ErrUnavailable) {
		t.Fatalf("Register() error = %v, want ErrUnavailable", err)
	}
}

// =========================================================================
// LOGIN
// =========================================================================

func TestLogin_Success(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{})
	ctx := context.Background()
	registered, _ := f.svc.Register(ctx, validRegistration())

	result, err := f.svc.Login(ctx, "ASHA@campus.edu", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.User.ID != registered.ID {
		t.Errorf("User.ID = %q, want %q", result.User.ID, registered.ID)
	}

	claims, err := f.tokens.Validate(result.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.UserID != registered.ID {
		t.Errorf("token subject = %q, want %q", claims.UserID, registered.ID)
	}
	if result.ExpiresAt.Before(time.Now()) {
		t.Error("ExpiresAt is in the past")
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{})
	ctx := context.Background()
	_, _ = f.svc.Register(ctx, validRegistration())

	_, wrongPassword := f.svc.Login(ctx, "asha@campus.edu", "wrong-password")
	_, unknownEmail := f.svc.Login(ctx, "nobody@campus.edu", "correct-horse")

	for name, err := range map[string]error{"wrong password": wrongPassword, "unknown email": unknownEmail} {
		if !errors.Is(err, apperror.ErrInvalidCredential) {
			t.Errorf("%s: error = %v, want ErrInvalidCredential", name, err)
		}
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Errorf("messages differ: %q vs %q", wrongPassword.Error(), unknownEmail.Error())
	}
}

// =========================================================================
// LOGOUT
// =========================================================================

func TestLogout_RevokesToken(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{})
	ctx := context.Background()
	_, _ = f.svc.Register(ctx, validRegistration())
	result, _ := f.svc.Login(ctx, "asha@campus.edu", "correct-horse")

	claims, err := f.tokens.Validate(result.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if err := f.svc.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	revoked, _ := f.revoker.IsRevoked(ctx, claims.TokenID)
	if !revoked {
		t.Error("token was not revoked")
	}
}

func TestLogout_NoClaims(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{})
	if err := f.svc.Logout(context.Background(), nil); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("Logout(nil) error = %v, want ErrUnauthorized", err)
	}
}

// =========================================================================
// EMAIL VERIFICATION
// =========================================================================

func TestEmailVerificationFlow(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{
		RequireEmailVerification: true,
		VerifyURL:                "http://localhost:8080/api/auth/verify/",
	})
	ctx := context.Background()

	user, err := f.svc.Register(ctx, validRegistration())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Verified {
		t.Fatal("user should start unverified")
	}
	if len(f.mail.sent) != 1 {
		t.Fatalf("mails sent = %d, want 1", len(f.mail.sent))
	}
	link := f.mail.sent[0].link
	if !strings.HasPrefix(link, "http://localhost:8080/api/auth/verify/") {
		t.Errorf("link = %q", link)
	}

	// Correct password, but not verified yet.
	_, err = f.svc.Login(ctx, "asha@campus.edu", "correct-horse")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("Login() before verification error = %v, want ErrForbidden", err)
	}
	// Wrong password still looks like any other bad login.
	_, err = f.svc.Login(ctx, "asha@campus.edu", "wrong-password")
	if !errors.Is(err, apperror.ErrInvalidCredential) {
		t.Fatalf("Login() wrong password error = %v, want ErrInvalidCredential", err)
	}

	token := link[strings.LastIndex(link, "/")+1:]
	verified, err := f.svc.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	if !verified.Verified || verified.VerificationToken != "" {
		t.Errorf("after VerifyEmail: verified=%v token=%q", verified.Verified, verified.VerificationToken)
	}

	if _, err := f.svc.Login(ctx, "asha@campus.edu", "correct-horse"); err != nil {
		t.Fatalf("Login() after verification error = %v", err)
	}

	// The link is single-use.
	if _, err := f.svc.VerifyEmail(ctx, token); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second VerifyEmail() error = %v, want ErrNotFound", err)
	}
}

func TestRegister_MailFailureStillCreatesAccount(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{RequireEmailVerification: true})
	f.mail.err = errors.New("smtp down")

	user, err := f.svc.Register(context.Background(), validRegistration())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.ID == "" {
		t.Error("user was not created")
	}
}

func TestGetUserByID(t *testing.T) {
	f := newTestAuthService(t, AuthOptions{})
	ctx := context.Background()
	registered, _ := f.svc.Register(ctx, validRegistration())

	got, err := f.svc.GetUserByID(ctx, registered.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.Email != "asha@campus.edu" {
		t.Errorf("Email = %q", got.Email)
	}

	if _, err := f.svc.GetUserByID(ctx, "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID(missing) error = %v, want ErrNotFound", err)
	}
}
