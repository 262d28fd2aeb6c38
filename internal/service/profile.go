package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/model"
	"github.com/sakif/campus-market/internal/repository"
)

const (
	MaxNameLength = 80
	MaxBioLength  = 500
	maxURLLength  = 2048
)

type ProfileService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewProfileService(users repository.UserRepository, logger *slog.Logger) *ProfileService {
	return &ProfileService{users: users, logger: logger}
}

// GetOwn returns the caller's full account. The password hash and the
// verification token never leave the model (json:"-").
func (s *ProfileService) GetOwn(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(s.logger, "profile.get", err)
	}
	return user, nil
}

// GetPublic returns the projection of userID visible to anyone.
func (s *ProfileService) GetPublic(ctx context.Context, userID string) (*model.PublicProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(s.logger, "profile.public", err)
	}
	p := user.Public()
	return &p, nil
}

// UpdateOwn applies a partial profile update. Nil fields are untouched and
// "" clears department, bio or avatar. The name can change but not be
// cleared.
func (s *ProfileService) UpdateOwn(ctx context.Context, userID string, patch model.ProfilePatch) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(s.logger, "profile.get", err)
	}

	var errs apperror.FieldErrors

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		switch {
		case name == "":
			errs.Add("name", "name cannot be empty")
		case utf8.RuneCountInString(name) > MaxNameLength:
			errs.Add("name", fmt.Sprintf("name must be %d characters or less", MaxNameLength))
		default:
			user.Name = name
		}
	}
	if patch.Department != nil {
		user.Department = strings.TrimSpace(*patch.Department)
	}
	if patch.Bio != nil {
		bio := strings.TrimSpace(*patch.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			errs.Add("bio", fmt.Sprintf("bio must be %d characters or less", MaxBioLength))
		} else {
			user.Bio = bio
		}
	}
	if patch.AvatarURL != nil {
		avatar := strings.TrimSpace(*patch.AvatarURL)
		if len(avatar) > maxURLLength {
			errs.Add("avatarUrl", "avatar URL is too long")
		} else {
			user.AvatarURL = avatar
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, storeError(s.logger, "profile.update", err)
	}

	s.logger.Info("profile updated", slog.String("userID", user.ID))
	return user, nil
}
