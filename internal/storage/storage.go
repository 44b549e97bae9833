// Package storage keeps raw fiscal XML and export archives outside the
// database. Keys are slash separated, e.g. "xml/<account>/<company>/NFE/<key>.xml".
package storage

import (
	"context"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
)

var (
	ErrObjectNotFound = fiscalerr.NotFound("object_not_found", "stored content not found")
	ErrInvalidKey     = fiscalerr.Validation("invalid_storage_key", "storage key is invalid")
)

type ObjectInfo struct {
	Key       string
	Size      int64
	UpdatedAt time.Time
}

// ContentStore persists opaque blobs. Put callers pass seekable readers
// (bytes.Reader, *os.File) so remote drivers can sign the payload.
type ContentStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// DocumentKey is where the raw XML of a document lives.
func DocumentKey(accountID, companyID, category, identifier string) string {
	return path.Join("xml", accountID, companyID, strings.ToUpper(category), identifier+".xml")
}

func EventKey(accountID, companyID, accessKey, eventCode string, sequence int) string {
	return path.Join("xml", accountID, companyID, "events", accessKey+"_"+eventCode+"_"+strconv.Itoa(sequence)+".xml")
}

func ExportKey(accountID, jobID string) string {
	return path.Join("exports", accountID, jobID+".zip")
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
