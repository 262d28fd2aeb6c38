package model

import "time"

// ListingStatus is the lifecycle state of a listing.
//
//	active ──► sold     (terminal)
//	   └─────► removed  (terminal)
//
// There is no way back to active. Sold and removed listings are tombstones:
// they stay in the store so links and history keep resolving.
type ListingStatus string

const (
	StatusActive  ListingStatus = "active"
	StatusSold    ListingStatus = "sold"
	StatusRemoved ListingStatus = "removed"
)

// Valid reports whether s is one of the three known states.
func (s ListingStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSold, StatusRemoved:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s ListingStatus) Terminal() bool {
	return s == StatusSold || s == StatusRemoved
}

// CanTransitionTo reports whether s → next is a legal lifecycle move.
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	return s == StatusActive && (next == StatusSold || next == StatusRemoved)
}

// StatusFromSoldFlag maps the legacy two-state "sold" boolean onto the
// tri-state status. Only used when importing old records.
func StatusFromSoldFlag(sold bool) ListingStatus {
	if sold {
		return StatusSold
	}
	return StatusActive
}

// Listing is a single item offered for sale.
//
// OwnerID is written once by the repository's Create and never updated:
// the UPDATE statement in the sqlite package does not touch the column.
type Listing struct {
	ID          string        `json:"id"          db:"id"`
	Title       string        `json:"title"       db:"title"`
	Description string        `json:"description" db:"description"`
	Price       float64       `json:"price"       db:"price"`
	Category    string        `json:"category"    db:"category"`
	Semester    string        `json:"semester"    db:"semester"`
	Department  string        `json:"department"  db:"department"`
	Images      []string      `json:"images"      db:"images"`
	OwnerID     string        `json:"ownerId"     db:"owner_id"`
	Status      ListingStatus `json:"status"      db:"status"`
	CreatedAt   time.Time     `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time     `json:"updatedAt"   db:"updated_at"`
}

// ListingInput carries the caller-supplied fields of a new listing.
type ListingInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	Semester    string  `json:"semester"`
	Department  string  `json:"department"`
}

// ListingPatch is the whitelisted partial update of a listing.
// Nil fields are left untouched.
type ListingPatch struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Category    *string  `json:"category"`
	Semester    *string  `json:"semester"`
	Department  *string  `json:"department"`
}

// Empty reports whether the patch changes nothing.
func (p ListingPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Price == nil &&
		p.Category == nil && p.Semester == nil && p.Department == nil
}

// Seller is the owner summary embedded in a listing detail view.
// Email is only filled when the deployment exposes seller contact details.
type Seller struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Email      string `json:"email,omitempty"`
}

// ListingDetail is a listing plus its seller summary.
type ListingDetail struct {
	Listing
	Seller Seller `json:"seller"`
}

// ListingPage is one page of a browse query.
type ListingPage struct {
	Items      []Listing `json:"items"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	TotalPages int       `json:"totalPages"`
	TotalItems int       `json:"totalItems"`
}

// OwnListings partitions a user's listings by status.
type OwnListings struct {
	Active  []Listing `json:"active"`
	Sold    []Listing `json:"sold"`
	Removed []Listing `json:"removed"`
}
