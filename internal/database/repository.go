package database

import (
	"context"
)

// ContentStore is the content-addressed record keeper: paths map to content
// hashes and content hashes map to extracted face vectors.
type ContentStore interface {
	// ResolvePath returns the id of path, creating the row on first sight.
	ResolvePath(ctx context.Context, path string) (int64, error)
	// ResolveContent returns the id of the image with the given hash, creating it
	// with faceCount on first sight. faceCount is never updated afterwards.
	ResolveContent(ctx context.Context, hash string, faceCount int) (int64, error)
	// Link associates a path with an image. Linking an existing pair is a no-op.
	Link(ctx context.Context, filePathID, imageID int64) error
	// RecordVectors inserts the vectors of an image, skipping vectors whose bytes
	// are already stored for that image.
	RecordVectors(ctx context.Context, imageID int64, vectors [][]float32) error
	// LookupImageForPath returns the image linked to filePathID whose hash equals
	// expectedHash. ok is false when the path was never linked to that content.
	LookupImageForPath(ctx context.Context, filePathID int64, expectedHash string) (imageID int64, ok bool, err error)
	// FindImageByHash returns the image with the given hash, if it was ever stored.
	FindImageByHash(ctx context.Context, hash string) (*Image, error)
	// GetVectors returns the stored vectors of an image ordered by face index.
	GetVectors(ctx context.Context, imageID int64) ([]StoredVector, error)
}

// IdentityRegistry stores known identities and their confirmed matches.
type IdentityRegistry interface {
	// ResolvePerson returns the id of the named person, creating it on first sight.
	ResolvePerson(ctx context.Context, name string) (int64, error)
	// AddKnownImage binds a person to a reference image. Adding an existing pair is a no-op.
	AddKnownImage(ctx context.Context, personID, imageID int64) error
	// ListPersons returns all known persons ordered by name.
	ListPersons(ctx context.Context) ([]Person, error)
	// KnownVectors returns the first face vector of every reference image of every person.
	KnownVectors(ctx context.Context) ([]KnownVector, error)
	// RecordMatch stores a confirmed match. created is false when the pair already existed.
	RecordMatch(ctx context.Context, imageID, personID int64, distance float64) (created bool, err error)
	// GetMatches returns the matches recorded for an image.
	GetMatches(ctx context.Context, imageID int64) ([]StoredMatch, error)
}

// Store is the full durable store used by a run.
type Store interface {
	ContentStore
	IdentityRegistry

	// Stats returns row counts per entity.
	Stats(ctx context.Context) (*Stats, error)
	// Close releases the underlying connection pool.
	Close() error
}
