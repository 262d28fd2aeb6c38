package service

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/blob"
	"github.com/sakif/campus-market/internal/model"
)

// Listing validation limits.
const (
	MaxTitleLength       = 120
	MaxDescriptionLength = 2000
	MaxImagesPerListing  = 5
)

// validateNewListing checks every field of a create request and reports
// all offending fields at once. It runs before any upload or write.
func validateNewListing(in *model.ListingInput, images []blob.Image) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)
	in.Semester = strings.TrimSpace(in.Semester)
	in.Department = strings.TrimSpace(in.Department)

	var errs apperror.FieldErrors
	checkTitle(&errs, in.Title)
	checkPrice(&errs, in.Price)
	checkCategory(&errs, in.Category)
	checkDescription(&errs, in.Description)

	if len(images) > MaxImagesPerListing {
		errs.Add("images", fmt.Sprintf("a listing can have at most %d images", MaxImagesPerListing))
	}
	for _, img := range images {
		if !blob.AllowedContentType(img.ContentType) {
			errs.Add("images", "images must be JPEG or PNG")
			break
		}
	}

	return errs.Err()
}

func checkTitle(errs *apperror.FieldErrors, title string) {
	switch {
	case title == "":
		errs.Add("title", "title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		errs.Add("title", fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
}

func checkPrice(errs *apperror.FieldErrors, price float64) {
	// NaN fails the comparison. +Inf would pass it and then break every
	// JSON response the listing appears in.
	if !(price > 0) || math.IsInf(price, 0) {
		errs.Add("price", "price must be greater than 0")
	}
}

func checkCategory(errs *apperror.FieldErrors, category string) {
	if category == "" {
		errs.Add("category", "category is required")
	}
}

func checkDescription(errs *apperror.FieldErrors, description string) {
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		errs.Add("description", fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
}

// transition moves l to next if the lifecycle allows it.
//
//	active ──► sold
//	active ──► removed
//
// Anything else, including sold → sold, is IllegalTransition.
func transition(l *model.Listing, next model.ListingStatus) error {
	if !l.Status.CanTransitionTo(next) {
		return apperror.IllegalTransition(string(l.Status), string(next))
	}
	l.Status = next
	return nil
}

// applyPatch writes the whitelisted fields of p onto l. The status is
// checked before the payload, so a non-active listing fails with
// IllegalTransition whatever p contains. On a validation failure l is left
// unchanged.
func applyPatch(l *model.Listing, p model.ListingPatch) error {
	if l.Status != model.StatusActive {
		return apperror.NotEditable(string(l.Status))
	}

	next := *l
	var errs apperror.FieldErrors

	if p.Title != nil {
		next.Title = strings.TrimSpace(*p.Title)
		checkTitle(&errs, next.Title)
	}
	if p.Description != nil {
		next.Description = strings.TrimSpace(*p.Description)
		checkDescription(&errs, next.Description)
	}
	if p.Price != nil {
		next.Price = *p.Price
		checkPrice(&errs, next.Price)
	}
	if p.Category != nil {
		next.Category = strings.TrimSpace(*p.Category)
		checkCategory(&errs, next.Category)
	}
	if p.Semester != nil {
		next.Semester = strings.TrimSpace(*p.Semester)
	}
	if p.Department != nil {
		next.Department = strings.TrimSpace(*p.Department)
	}

	if err := errs.Err(); err != nil {
		return err
	}

	*l = next
	return nil
}
