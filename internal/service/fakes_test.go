package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/model"
	"github.com/sakif/campus-market/internal/repository"
)

// =========================================================================
// FAKES
// =========================================================================
//
// In-memory implementations of the repository interfaces. They follow the
// contracts of the sqlite package (NotFound, DuplicateIdentity, status
// compare-and-set) closely enough for service tests, without a database.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
	// set to simulate a store outage
	err error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.DuplicateIdentity()
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	result := *u
	return &result, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email })
}

func (f *fakeUserRepo) GetByVerificationToken(_ context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "")
	}
	return f.find(func(u *model.User) bool { return u.VerificationToken == token })
}

func (f *fakeUserRepo) find(match func(*model.User) bool) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if match(u) {
			result := *u
			return &result, nil
		}
	}
	return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "user not found"}
}

func (f *fakeUserRepo) Update(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	existing, ok := f.users[user.ID]
	if !ok {
		return apperror.NotFound("user", user.ID)
	}
	stored := *user
	stored.Email = existing.Email
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	f.users[user.ID] = &stored
	return nil
}

type fakeListingRepo struct {
	mu       sync.Mutex
	listings map[string]*model.Listing
	seq      map[string]int
	nextID   int
	// counts GetByID calls so guard tests can assert a single read
	reads int
	err   error
}

func newFakeListingRepo() *fakeListingRepo {
	return &fakeListingRepo{
		listings: make(map[string]*model.Listing),
		seq:      make(map[string]int),
	}
}

func (f *fakeListingRepo) Create(_ context.Context, l *model.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.nextID++
	l.ID = fmt.Sprintf("listing-%d", f.nextID)
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt
	if l.Status == "" {
		l.Status = model.StatusActive
	}
	stored := *l
	stored.Images = append([]string(nil), l.Images...)
	f.listings[l.ID] = &stored
	f.seq[l.ID] = f.nextID
	return nil
}

func (f *fakeListingRepo) GetByID(_ context.Context, id string) (*model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	l, ok := f.listings[id]
	if !ok {
		return nil, apperror.NotFound("listing", id)
	}
	result := *l
	return &result, nil
}

func (f *fakeListingRepo) matching(filter repository.ListingFilter) []model.Listing {
	var out []model.Listing
	for _, l := range f.listings {
		if len(filter.Statuses) > 0 {
			ok := false
			for _, s := range filter.Statuses {
				ok = ok || l.Status == s
			}
			if !ok {
				continue
			}
		}
		if filter.OwnerID != "" && l.OwnerID != filter.OwnerID ||
			filter.Category != "" && l.Category != filter.Category ||
			filter.Department != "" && l.Department != filter.Department ||
			filter.Semester != "" && l.Semester != filter.Semester ||
			filter.MinPrice != nil && l.Price < *filter.MinPrice ||
			filter.MaxPrice != nil && l.Price > *filter.MaxPrice ||
			filter.TitleQuery != "" && !strings.Contains(strings.ToLower(l.Title), strings.ToLower(filter.TitleQuery)) {
			continue
		}
		out = append(out, *l)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch filter.Sort {
		case repository.SortPriceAsc:
			if a.Price != b.Price {
				return a.Price < b.Price
			}
		case repository.SortPriceDesc:
			if a.Price != b.Price {
				return a.Price > b.Price
			}
		}
		return f.seq[a.ID] > f.seq[b.ID]
	})
	return out
}

func (f *fakeListingRepo) List(_ context.Context, filter repository.ListingFilter, opts repository.ListOptions) ([]model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	all := f.matching(filter)
	if opts.Offset >= len(all) {
		return []model.Listing{}, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (f *fakeListingRepo) Count(_ context.Context, filter repository.ListingFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return len(f.matching(filter)), nil
}

func (f *fakeListingRepo) Update(_ context.Context, l *model.Listing, expected model.ListingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	existing, ok := f.listings[l.ID]
	if !ok {
		return apperror.NotFound("listing", l.ID)
	}
	if existing.Status != expected {
		return repository.ErrStatusChanged
	}
	stored := *l
	stored.OwnerID = existing.OwnerID
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	f.listings[l.ID] = &stored
	return nil
}

// setStatus changes a stored status behind the service's back.
func (f *fakeListingRepo) setStatus(id string, s model.ListingStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[id].Status = s
}

type fakeBlobStore struct {
	mu   sync.Mutex
	puts []string
	err  error
}

func (f *fakeBlobStore) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.puts = append(f.puts, key)
	return "https://cdn.test/" + key, nil
}

type sentMail struct {
	to, name, link string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendVerification(_ context.Context, to, name, link string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, name, link})
	return nil
}
