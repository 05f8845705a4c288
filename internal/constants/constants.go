// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Matching constants
const (
	// DefaultTolerance is the maximum face distance accepted as a match.
	// Distances equal to the tolerance match.
	DefaultTolerance = 0.5

	// DefaultMetric is the distance metric faces are compared with.
	DefaultMetric = "euclidean"

	// DefaultHNSWMinCandidates is the known-face count from which matching
	// switches from a linear scan to an HNSW graph.
	DefaultHNSWMinCandidates = 256
)

// Processing constants
const (
	// CheckpointInterval is how often the queue snapshot is rewritten during a run.
	CheckpointInterval = 5 * time.Minute

	// BreakerThreshold is the number of consecutive extractor outages after
	// which the worker pool is considered broken.
	BreakerThreshold = 10

	// MaxImageSize is the maximum dimension (width or height) sent to the extractor.
	MaxImageSize = 1600

	// EmbeddingTimeout bounds a single extractor request.
	EmbeddingTimeout = 120 * time.Second
)

// File layout under the data directory
const (
	DataDirName      = ".face-sorter"
	DatabaseFileName = "face-sorter.db"
	QueueFileName    = "image_queue.txt"
	SettingsFileName = "settings.yaml"
	KnownFacesDir    = "faces"
	OutputDir        = "matched_faces"
)

// ImageExtensions are the accepted input file extensions, lower case.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}
