package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/drivebox/backend/pkg/random"
)

// BlobStore is the blob backend the file lifecycle depends on. MinIOClient is
// the production implementation; tests substitute an in-memory one.
type BlobStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectName string) error
}

// URLSigner is the optional capability of blob backends that can mint
// time-limited direct download links. MinIOClient implements it; callers
// fall back to streaming when the backend does not.
type URLSigner interface {
	PresignedGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// ObjectName builds the storage key for an uploaded file: namespaced by
// upload date, keeping the original basename readable with a random suffix
// to avoid collisions, e.g. files/2026/08/31/report_3fa9c01b2d.pdf.
func ObjectName(filename string, uploadedAt time.Time) string {
	base := filepath.Base(strings.TrimSpace(filename))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("files/%s/%s_%s%s",
		uploadedAt.UTC().Format("2006/01/02"), stem, random.Hex(10), ext)
}
