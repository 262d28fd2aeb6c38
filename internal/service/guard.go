package service

import (
	"context"
	"log/slog"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/model"
	"github.com/sakif/campus-market/internal/repository"
)

// OwnershipGuard is the single precondition check in front of every
// owner-scoped listing mutation.
type OwnershipGuard struct {
	listings repository.ListingRepository
	logger   *slog.Logger
}

func NewOwnershipGuard(listings repository.ListingRepository, logger *slog.Logger) *OwnershipGuard {
	return &OwnershipGuard{listings: listings, logger: logger}
}

// Authorize loads the listing and checks that userID owns it.
//
// It performs one store read and one comparison, and hands the loaded
// listing back so the caller does not read it again. Fails with NotFound
// when no listing has that ID and Forbidden when someone else owns it.
func (g *OwnershipGuard) Authorize(ctx context.Context, userID, listingID string) (*model.Listing, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("valid authentication required")
	}

	listing, err := g.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, storeError(g.logger, "guard.get", err)
	}

	if listing.OwnerID != userID {
		g.logger.Warn("ownership check failed",
			slog.String("listingID", listingID),
			slog.String("userID", userID),
		)
		return nil, apperror.Forbidden("you do not own this listing")
	}

	return listing, nil
}
