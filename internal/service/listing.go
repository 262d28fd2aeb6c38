// Package service holds the business rules of the marketplace. Handlers
// call services; services call repository interfaces and the blob store.
// Nothing in here knows about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/blob"
	"github.com/sakif/campus-market/internal/model"
	"github.com/sakif/campus-market/internal/repository"
)

// Browse pagination.
const (
	DefaultPageSize = 5
	MaxPageSize     = 100

	// ownListingsBatch is the page size used to walk a user's own listings.
	ownListingsBatch = 100
)

// ListingOptions are per-deployment policy switches.
type ListingOptions struct {
	// ExposeSellerEmail adds the seller's email to the public listing
	// detail so buyers can make contact.
	ExposeSellerEmail bool
}

type ListingService struct {
	listings repository.ListingRepository
	users    repository.UserRepository
	guard    *OwnershipGuard
	blobs    blob.Store
	opts     ListingOptions
	logger   *slog.Logger
}

func NewListingService(
	listings repository.ListingRepository,
	users repository.UserRepository,
	guard *OwnershipGuard,
	blobs blob.Store,
	opts ListingOptions,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings: listings,
		users:    users,
		guard:    guard,
		blobs:    blobs,
		opts:     opts,
		logger:   logger,
	}
}

// =========================================================================
// CREATE
// =========================================================================

// Create validates the input, uploads the images and stores a new active
// listing owned by ownerID. An invalid request uploads and stores nothing.
func (s *ListingService) Create(ctx context.Context, ownerID string, in model.ListingInput, images []blob.Image) (*model.Listing, error) {
	if err := validateNewListing(&in, images); err != nil {
		return nil, err
	}

	urls, err := s.upload(ctx, images)
	if err != nil {
		return nil, err
	}

	listing := &model.Listing{
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price,
		Category:    in.Category,
		Semester:    in.Semester,
		Department:  in.Department,
		Images:      urls,
		OwnerID:     ownerID,
		Status:      model.StatusActive,
	}

	if err := s.listings.Create(ctx, listing); err != nil {
		return nil, storeError(s.logger, "listing.create", err)
	}

	s.logger.Info("listing created",
		slog.String("id", listing.ID),
		slog.String("ownerID", ownerID),
		slog.Int("images", len(urls)),
	)
	return listing, nil
}

// upload stores the images in order. Images already uploaded when a later
// one fails are left in the bucket; nothing references them.
func (s *ListingService) upload(ctx context.Context, images []blob.Image) ([]string, error) {
	urls := make([]string, 0, len(images))
	if len(images) == 0 {
		return urls, nil
	}
	if s.blobs == nil {
		return nil, apperror.Unavailable("image storage", errors.New("no blob store configured"))
	}

	for _, img := range images {
		url, err := s.blobs.Put(ctx, blob.NewKey(img.ContentType), img.ContentType, img.Data)
		if err != nil {
			s.logger.Error("image upload failed",
				slog.String("filename", img.Filename),
				slog.String("error", err.Error()),
			)
			return nil, apperror.Unavailable("image storage", err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// =========================================================================
// READ
// =========================================================================

// Get returns the public detail view of a listing. Active listings are
// visible to everyone; sold and removed ones only to their owner, and
// look like NotFound to anyone else. viewerID is "" for anonymous callers.
func (s *ListingService) Get(ctx context.Context, id, viewerID string) (*model.ListingDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "listing ID is required")
	}

	listing, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(s.logger, "listing.get", err)
	}

	if listing.Status != model.StatusActive && listing.OwnerID != viewerID {
		return nil, apperror.NotFound("listing", id)
	}

	owner, err := s.users.GetByID(ctx, listing.OwnerID)
	if err != nil {
		return nil, storeError(s.logger, "listing.get.seller", err)
	}

	seller := model.Seller{
		ID:         owner.ID,
		Name:       owner.Name,
		Department: owner.Department,
	}
	if s.opts.ExposeSellerEmail {
		seller.Email = owner.Email
	}

	return &model.ListingDetail{Listing: *listing, Seller: seller}, nil
}

// BrowseQuery is a public browse request. Zero values mean "no constraint".
type BrowseQuery struct {
	Category   string
	Department string
	Semester   string
	MinPrice   *float64
	MaxPrice   *float64
	Query      string
	Sort       string
	Page       int
	PageSize   int
}

// Browse returns one page of active listings. Sold and removed listings are
// never part of the result, whatever the filter.
func (s *ListingService) Browse(ctx context.Context, q BrowseQuery) (*model.ListingPage, error) {
	var errs apperror.FieldErrors

	sort := strings.TrimSpace(q.Sort)
	switch sort {
	case "":
		sort = repository.SortLatest
	case repository.SortLatest, repository.SortPriceAsc, repository.SortPriceDesc:
	default:
		errs.Add("sort", fmt.Sprintf("sort must be one of %s, %s, %s",
			repository.SortLatest, repository.SortPriceAsc, repository.SortPriceDesc))
	}
	if q.MinPrice != nil && !(*q.MinPrice >= 0 && !math.IsInf(*q.MinPrice, 0)) {
		errs.Add("minPrice", "minPrice must be a finite number, not negative")
	}
	if q.MaxPrice != nil && !(*q.MaxPrice >= 0 && !math.IsInf(*q.MaxPrice, 0)) {
		errs.Add("maxPrice", "maxPrice must be a finite number, not negative")
	}
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		errs.Add("minPrice", "minPrice cannot be greater than maxPrice")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	filter := repository.ListingFilter{
		Statuses:   []model.ListingStatus{model.StatusActive},
		Category:   strings.TrimSpace(q.Category),
		Department: strings.TrimSpace(q.Department),
		Semester:   strings.TrimSpace(q.Semester),
		MinPrice:   q.MinPrice,
		MaxPrice:   q.MaxPrice,
		TitleQuery: strings.TrimSpace(q.Query),
		Sort:       sort,
	}

	total, err := s.listings.Count(ctx, filter)
	if err != nil {
		return nil, storeError(s.logger, "listing.count", err)
	}

	totalPages := (total + pageSize - 1) / pageSize

	// Pages past the end are empty. Skipping the query also keeps the
	// offset from overflowing on an absurd page number.
	items := []model.Listing{}
	if page <= totalPages {
		items, err = s.listings.List(ctx, filter, repository.ListOptions{
			Limit:  pageSize,
			Offset: (page - 1) * pageSize,
		})
		if err != nil {
			return nil, storeError(s.logger, "listing.list", err)
		}
	}

	return &model.ListingPage{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalItems: total,
	}, nil
}

// MyListings returns every listing ownerID has created, newest first,
// partitioned by status.
func (s *ListingService) MyListings(ctx context.Context, ownerID string) (*model.OwnListings, error) {
	out := &model.OwnListings{
		Active:  []model.Listing{},
		Sold:    []model.Listing{},
		Removed: []model.Listing{},
	}

	filter := repository.ListingFilter{OwnerID: ownerID, Sort: repository.SortLatest}
	for offset := 0; ; offset += ownListingsBatch {
		batch, err := s.listings.List(ctx, filter, repository.ListOptions{Limit: ownListingsBatch, Offset: offset})
		if err != nil {
			return nil, storeError(s.logger, "listing.mine", err)
		}

		for _, l := range batch {
			switch l.Status {
			case model.StatusActive:
				out.Active = append(out.Active, l)
			case model.StatusSold:
				out.Sold = append(out.Sold, l)
			case model.StatusRemoved:
				out.Removed = append(out.Removed, l)
			}
		}

		if len(batch) < ownListingsBatch {
			return out, nil
		}
	}
}

// =========================================================================
// OWNER-SCOPED MUTATIONS
// =========================================================================

// Update applies a whitelisted partial edit to an active listing owned by
// userID.
func (s *ListingService) Update(ctx context.Context, userID, id string, patch model.ListingPatch) (*model.Listing, error) {
	listing, err := s.guard.Authorize(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if err := applyPatch(listing, patch); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return listing, nil
	}

	if err := s.save(ctx, listing, model.StatusActive); err != nil {
		return nil, err
	}

	s.logger.Info("listing updated", slog.String("id", listing.ID))
	return listing, nil
}

// MarkSold moves an active listing to sold.
func (s *ListingService) MarkSold(ctx context.Context, userID, id string) (*model.Listing, error) {
	return s.moveTo(ctx, userID, id, model.StatusSold)
}

// Remove moves an active listing to removed. The row stays as a tombstone.
func (s *ListingService) Remove(ctx context.Context, userID, id string) (*model.Listing, error) {
	return s.moveTo(ctx, userID, id, model.StatusRemoved)
}

func (s *ListingService) moveTo(ctx context.Context, userID, id string, next model.ListingStatus) (*model.Listing, error) {
	listing, err := s.guard.Authorize(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	from := listing.Status
	if err := transition(listing, next); err != nil {
		return nil, err
	}

	if err := s.save(ctx, listing, from); err != nil {
		return nil, err
	}

	s.logger.Info("listing status changed",
		slog.String("id", listing.ID),
		slog.String("from", string(from)),
		slog.String("to", string(next)),
	)
	return listing, nil
}

// save writes listing if its stored status is still expected.
func (s *ListingService) save(ctx context.Context, listing *model.Listing, expected model.ListingStatus) error {
	err := s.listings.Update(ctx, listing, expected)
	if errors.Is(err, repository.ErrStatusChanged) {
		return apperror.StatusChanged()
	}
	if err != nil {
		return storeError(s.logger, "listing.update", err)
	}
	return nil
}
