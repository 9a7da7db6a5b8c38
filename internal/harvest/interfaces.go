package harvest

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrDuplicate reports that a dataset with the same identifier already exists
// in the catalog. Writers treat it as an idempotent no-op.
var ErrDuplicate = errors.New("dataset already in catalog")

// Normalizer converts one raw repository record into a canonical dataset.
type Normalizer interface {
	Normalize(ctx context.Context, record RawRecord) (Dataset, error)
}

// Catalog persists normalized datasets. Write returns ErrDuplicate (possibly
// wrapped) when the identifier is already present.
type Catalog interface {
	Write(ctx context.Context, dataset Dataset) error
}

// ExistenceChecker is implemented by catalogs that can tell whether a dataset
// with the given URI was already stored.
type ExistenceChecker interface {
	Exists(ctx context.Context, uri string) (bool, error)
}

// BlobStore persists opaque artifacts such as quarantined records.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ErrObjectNotFound reports a blob path with no object behind it.
var ErrObjectNotFound = errors.New("object not found")

// BlobBrowser reads back and removes objects written through a BlobStore.
// ListObjects returns object paths below prefix in lexical order.
type BlobBrowser interface {
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	DeleteObject(ctx context.Context, path string) error
}

// Publisher emits notifications about written datasets.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher digests arbitrary content.
type Hasher interface {
	Hash(data []byte) (string, error)
}
