package database

import (
	"time"
)

// FilePath is a location on disk that has been seen by a scan.
type FilePath struct {
	ID        int64
	Path      string
	CreatedAt time.Time
}

// Image is a distinct byte sequence, identified only by its content hash.
type Image struct {
	ID        int64
	Hash      string
	FaceCount int
	CreatedAt time.Time
}

// StoredVector is one extracted face embedding belonging to an image.
type StoredVector struct {
	ID        int64
	ImageID   int64
	FaceIndex int
	Embedding []float32
}

// Person is a named known identity.
type Person struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// KnownVector is a candidate embedding of a person, taken from one of the
// person's reference images.
type KnownVector struct {
	PersonID   int64
	PersonName string
	ImageID    int64
	Embedding  []float32
}

// StoredMatch is a confirmed (image, person) match.
type StoredMatch struct {
	ID        int64
	ImageID   int64
	PersonID  int64
	Distance  float64
	CreatedAt time.Time
}

// Stats summarises the contents of the store.
type Stats struct {
	FilePaths int
	Images    int
	Vectors   int
	Persons   int
	Matches   int
}
