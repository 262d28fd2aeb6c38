package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/model"
	"github.com/sakif/campus-market/internal/repository"
)

var _ repository.ListingRepository = (*ListingDB)(nil)

// ListingDB is the listings table.
type ListingDB struct {
	conn *sql.DB
}

const listingColumns = `id, title, description, price, category, semester, department,
	images, owner_id, status, created_at, updated_at`

// Create inserts a new listing, filling in ID and timestamps.
//
// Images are stored as a JSON array in a TEXT column: the list is always
// read and written whole, and never queried by element.
func (l *ListingDB) Create(ctx context.Context, listing *model.Listing) error {
	now := time.Now().UTC()
	listing.ID = xid.New().String()
	listing.CreatedAt = now
	listing.UpdatedAt = now
	if listing.Status == "" {
		listing.Status = model.StatusActive
	}
	if listing.Images == nil {
		listing.Images = []string{}
	}

	images, err := json.Marshal(listing.Images)
	if err != nil {
		return fmt.Errorf("sqlite: encoding listing images: %w", err)
	}

	_, err = l.conn.ExecContext(ctx,
		`INSERT INTO listings (`+listingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		listing.ID,
		listing.Title,
		listing.Description,
		listing.Price,
		listing.Category,
		listing.Semester,
		listing.Department,
		string(images),
		listing.OwnerID,
		string(listing.Status),
		listing.CreatedAt,
		listing.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating listing: %w", err)
	}

	return nil
}

// GetByID retrieves a single listing in any status.
// Returns apperror.ErrNotFound if no listing has that ID.
func (l *ListingDB) GetByID(ctx context.Context, id string) (*model.Listing, error) {
	row := l.conn.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)

	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("listing", id)
		}
		return nil, fmt.Errorf("sqlite: getting listing %s: %w", id, err)
	}
	return listing, nil
}

// List returns one page of listings matching filter.
//
// LIMIT/OFFSET pagination is only stable while the result set does not
// change; a listing inserted between two page requests shifts the boundary.
func (l *ListingDB) List(ctx context.Context, filter repository.ListingFilter, opts repository.ListOptions) ([]model.Listing, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := buildListingWhere(filter)
	query := `SELECT ` + listingColumns + ` FROM listings` + where +
		` ORDER BY ` + orderBy(filter.Sort) + ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing listings: %w", err)
	}
	defer rows.Close()

	listings := make([]model.Listing, 0, limit)
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning listing row: %w", err)
		}
		listings = append(listings, *listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating listings: %w", err)
	}

	return listings, nil
}

// Count returns how many listings match filter, ignoring pagination.
func (l *ListingDB) Count(ctx context.Context, filter repository.ListingFilter) (int, error) {
	where, args := buildListingWhere(filter)

	var total int
	err := l.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting listings: %w", err)
	}
	return total, nil
}

// Update writes the mutable columns of listing, but only while the stored
// status still equals expected. That makes each lifecycle step a single
// compare-and-set: a listing removed between the caller's read and this
// write is not silently edited.
//
// owner_id and created_at are deliberately absent from the SET clause.
func (l *ListingDB) Update(ctx context.Context, listing *model.Listing, expected model.ListingStatus) error {
	images, err := json.Marshal(listing.Images)
	if err != nil {
		return fmt.Errorf("sqlite: encoding listing images: %w", err)
	}

	updatedAt := time.Now().UTC()
	result, err := l.conn.ExecContext(ctx,
		`UPDATE listings
		 SET title = ?, description = ?, price = ?, category = ?, semester = ?,
		     department = ?, images = ?, status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		listing.Title,
		listing.Description,
		listing.Price,
		listing.Category,
		listing.Semester,
		listing.Department,
		string(images),
		string(listing.Status),
		updatedAt,
		listing.ID,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating listing %s: %w", listing.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		err := l.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM listings WHERE id = ?`, listing.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("sqlite: checking listing %s: %w", listing.ID, err)
		}
		if exists == 0 {
			return apperror.NotFound("listing", listing.ID)
		}
		return repository.ErrStatusChanged
	}

	listing.UpdatedAt = updatedAt
	return nil
}

// buildListingWhere turns a filter into a WHERE clause and its arguments.
// Every value goes through a ? placeholder; only fixed column names are
// concatenated into the SQL text.
func buildListingWhere(f repository.ListingFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.Department != "" {
		clauses = append(clauses, "department = ?")
		args = append(args, f.Department)
	}
	if f.Semester != "" {
		clauses = append(clauses, "semester = ?")
		args = append(args, f.Semester)
	}
	if f.MinPrice != nil {
		clauses = append(clauses, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		clauses = append(clauses, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if q := strings.TrimSpace(f.TitleQuery); q != "" {
		// SQLite's LIKE is case-insensitive for ASCII.
		clauses = append(clauses, `title LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(q)+"%")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func orderBy(sort string) string {
	switch sort {
	case repository.SortPriceAsc:
		return "price ASC, created_at DESC, id DESC"
	case repository.SortPriceDesc:
		return "price DESC, created_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanListing(row rowScanner) (*model.Listing, error) {
	var (
		listing model.Listing
		images  string
		status  string
	)
	err := row.Scan(
		&listing.ID,
		&listing.Title,
		&listing.Description,
		&listing.Price,
		&listing.Category,
		&listing.Semester,
		&listing.Department,
		&images,
		&listing.OwnerID,
		&status,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	listing.Status = model.ListingStatus(status)
	listing.Images = []string{}
	if images != "" {
		if err := json.Unmarshal([]byte(images), &listing.Images); err != nil {
			return nil, fmt.Errorf("decoding images of listing %s: %w", listing.ID, err)
		}
	}
	return &listing, nil
}
