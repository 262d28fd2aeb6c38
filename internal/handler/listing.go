package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/campus-market/internal/apperror"
	"github.com/sakif/campus-market/internal/auth"
	"github.com/sakif/campus-market/internal/blob"
	"github.com/sakif/campus-market/internal/model"
	"github.com/sakif/campus-market/internal/service"
)

// Upload limits for multipart listing creation.
const (
	MaxImageBytes = 5 << 20

	// maxUploadBody leaves room for the text fields next to five full images.
	maxUploadBody = service.MaxImagesPerListing*MaxImageBytes + 1<<20

	// maxMultipartMemory is how much of a form is kept in memory before
	// the rest spills to temporary files.
	maxMultipartMemory = 32 << 20
)

// ListingHandler serves the listing routes under /api/items.
//
// Owner-scoped routes (update, sold, remove) rely on the service's
// ownership guard; the handler only passes the authenticated user ID along.
type ListingHandler struct {
	listings *service.ListingService
	logger   *slog.Logger
}

func NewListingHandler(listings *service.ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, logger: logger}
}

// HandleBrowse returns one page of active listings.
//
// HTTP: GET /api/items?category=&department=&semester=&minPrice=&maxPrice=&q=&sort=&page=&limit=
//
// Every malformed number is reported in one response.
func (h *ListingHandler) HandleBrowse(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	var errs apperror.FieldErrors

	q := service.BrowseQuery{
		Category:   params.Get("category"),
		Department: params.Get("department"),
		Semester:   params.Get("semester"),
		Query:      params.Get("q"),
		Sort:       params.Get("sort"),
		MinPrice:   queryFloat(&errs, params.Get("minPrice"), "minPrice"),
		MaxPrice:   queryFloat(&errs, params.Get("maxPrice"), "maxPrice"),
		Page:       queryInt(&errs, params.Get("page"), "page"),
		PageSize:   queryInt(&errs, params.Get("limit"), "limit"),
	}
	if err := errs.Err(); err != nil {
		writeError(w, err)
		return
	}

	page, err := h.listings.Browse(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func queryFloat(errs *apperror.FieldErrors, raw, field string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		errs.Add(field, field+" must be a number")
		return nil
	}
	return &f
}

func queryInt(errs *apperror.FieldErrors, raw, field string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		errs.Add(field, field+" must be a positive integer")
		return 0
	}
	return n
}

// HandleGet returns a listing with its seller summary.
//
// HTTP: GET /api/items/{id}
// Auth: Optional (the owner can still see a sold or removed listing)
func (h *ListingHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())

	detail, err := h.listings.Get(r.Context(), chi.URLParam(r, "id"), viewerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// HandleMy returns the caller's own listings grouped by status.
//
// HTTP: GET /api/items/my
// Auth: Required
func (h *ListingHandler) HandleMy(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	own, err := h.listings.MyListings(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, own)
}

// HandleCreate posts a new listing.
//
// HTTP: POST /api/items (alias POST /api/items/add)
// Auth: Required
//
// Two body formats are accepted:
//   - application/json: {"title", "description", "price", "category", "semester", "department"}
//   - multipart/form-data: the same text fields plus up to five "images" parts
//
// Image types are sniffed from the bytes, not taken from the part header.
func (h *ListingHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var (
		in     model.ListingInput
		images []blob.Image
		err    error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		in, images, err = readListingForm(w, r)
	} else {
		err = decodeJSON(w, r, &in)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	listing, err := h.listings.Create(r.Context(), userID, in, images)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, listing)
}

func readListingForm(w http.ResponseWriter, r *http.Request) (model.ListingInput, []blob.Image, error) {
	var in model.ListingInput

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return in, nil, apperror.ValidationFailed("images", "upload is too large")
		}
		return in, nil, apperror.ValidationFailed("body", "request body must be a valid multipart form")
	}

	in = model.ListingInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Semester:    r.FormValue("semester"),
		Department:  r.FormValue("department"),
	}
	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		// ParseFloat accepts "Inf" and "NaN".
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
			return in, nil, apperror.ValidationFailed("price", "price must be a number")
		}
		in.Price = price
	}

	files := r.MultipartForm.File["images"]
	if len(files) > service.MaxImagesPerListing {
		return in, nil, apperror.ValidationFailed("images",
			fmt.Sprintf("a listing can have at most %d images", service.MaxImagesPerListing))
	}

	images := make([]blob.Image, 0, len(files))
	for _, fh := range files {
		img, err := readImage(fh)
		if err != nil {
			return in, nil, err
		}
		images = append(images, img)
	}
	return in, images, nil
}

func readImage(fh *multipart.FileHeader) (blob.Image, error) {
	if fh.Size > MaxImageBytes {
		return blob.Image{}, apperror.ValidationFailed("images",
			fmt.Sprintf("%s is larger than %d MB", fh.Filename, MaxImageBytes>>20))
	}

	f, err := fh.Open()
	if err != nil {
		return blob.Image{}, apperror.ValidationFailed("images", "could not read "+fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageBytes+1))
	if err != nil {
		return blob.Image{}, apperror.ValidationFailed("images", "could not read "+fh.Filename)
	}
	if len(data) > MaxImageBytes {
		return blob.Image{}, apperror.ValidationFailed("images",
			fmt.Sprintf("%s is larger than %d MB", fh.Filename, MaxImageBytes>>20))
	}

	return blob.Image{
		Filename:    fh.Filename,
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

// HandleUpdate edits the whitelisted fields of an active listing.
//
// HTTP: PUT /api/items/{id}
// Auth: Required, owner only
// REQUEST BODY: any subset of {"title", "description", "price", "category", "semester", "department"}
func (h *ListingHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var patch model.ListingPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	listing, err := h.listings.Update(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listing)
}

// HandleMarkSold moves an active listing to sold.
//
// HTTP: PUT /api/items/sold/{id}
// Auth: Required, owner only
func (h *ListingHandler) HandleMarkSold(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	listing, err := h.listings.MarkSold(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listing)
}

// HandleRemove tombstones an active listing. The row stays in the store
// with status "removed".
//
// HTTP: PUT /api/items/remove/{id} (alias DELETE /api/items/{id})
// Auth: Required, owner only
func (h *ListingHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	listing, err := h.listings.Remove(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listing)
}
