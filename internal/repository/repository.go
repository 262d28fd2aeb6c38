// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in sub-packages (see repository/sqlite).
package repository

import (
	"context"
	"errors"

	"github.com/sakif/campus-market/internal/model"
)

// Sort orders for browse queries.
const (
	SortLatest    = "latest"
	SortPriceAsc  = "price-asc"
	SortPriceDesc = "price-desc"
)

// ErrStatusChanged is returned by ListingRepository.Update when the stored
// status no longer matches the status the caller loaded.
var ErrStatusChanged = errors.New("repository: listing status changed")

type ListOptions struct {
	Limit  int
	Offset int
}

// ListingFilter narrows a listing query. Zero values mean "no constraint".
//
// Statuses restricts the result to the given states; the public browse path
// always passes exactly []ListingStatus{StatusActive}.
type ListingFilter struct {
	Statuses   []model.ListingStatus
	OwnerID    string
	Category   string
	Department string
	Semester   string
	MinPrice   *float64
	MaxPrice   *float64
	TitleQuery string
	Sort       string
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
}

type ListingRepository interface {
	Create(ctx context.Context, listing *model.Listing) error
	GetByID(ctx context.Context, id string) (*model.Listing, error)
	List(ctx context.Context, filter ListingFilter, opts ListOptions) ([]model.Listing, error)
	Count(ctx context.Context, filter ListingFilter) (int, error)
	// Update writes listing only if its stored status still equals expected.
	Update(ctx context.Context, listing *model.Listing, expected model.ListingStatus) error
}
