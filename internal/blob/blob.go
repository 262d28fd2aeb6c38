// Package blob stores listing images and returns the URL they are served from.
//
// Two backends exist: S3Store for any S3-compatible bucket (AWS, MinIO,
// R2) and LocalStore, which writes to a directory served by the API itself
// under /uploads. Both take the bytes already in memory; listing images are
// capped in size by the HTTP layer before they get here.
package blob

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// Accepted image content types.
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// Image is one uploaded file.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Store persists an object under key and returns its public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// AllowedContentType reports whether ct is an accepted image type.
func AllowedContentType(ct string) bool {
	return ct == ContentTypeJPEG || ct == ContentTypePNG
}

// NewKey returns a fresh, collision-free object key for an image of the
// given content type, grouped by upload date:
//
//	listings/2026/03/01/6f1c...e2.jpg
func NewKey(contentType string) string {
	d := time.Now().UTC()
	return path.Join("listings",
		fmt.Sprintf("%04d/%02d/%02d", d.Year(), d.Month(), d.Day()),
		uuid.NewString()+extension(contentType))
}

func extension(contentType string) string {
	switch contentType {
	case ContentTypeJPEG:
		return ".jpg"
	case ContentTypePNG:
		return ".png"
	default:
		return ""
	}
}
