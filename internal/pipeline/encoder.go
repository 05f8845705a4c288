// Package pipeline runs the per-image stage (hash, cache lookup, extraction,
// matching) and the bounded worker pool that executes it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/fingerprint"
	"github.com/kozaktomas/face-sorter/internal/logging"
)

// Extractor turns image bytes into zero or more face vectors.
type Extractor interface {
	ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*fingerprint.FaceResponse, error)
}

// Encoding is the content identity and face vectors of one file.
type Encoding struct {
	Hash     string
	ImageID  int64 // 0 when the store could not be written
	Vectors  [][]float32
	CacheHit bool
}

// Encoder produces the face vectors of a file, extracting them only when
// their content has never been seen by the store.
type Encoder struct {
	store        database.ContentStore
	extractor    Extractor
	maxDimension int
	logger       *slog.Logger

	group       singleflight.Group
	extractions atomic.Int64
}

// NewEncoder creates an encoder. Images larger than maxDimension are
// downscaled before extraction; 0 sends them unchanged.
func NewEncoder(store database.ContentStore, extractor Extractor, maxDimension int, logger *slog.Logger) *Encoder {
	return &Encoder{
		store:        store,
		extractor:    extractor,
		maxDimension: maxDimension,
		logger:       logging.Component(logger, "encoder"),
	}
}

// Extractions returns how many extractor calls the encoder has made.
func (e *Encoder) Extractions() int64 {
	return e.extractions.Load()
}

// Encode hashes the file at path and returns its vectors. Store failures are
// logged and treated as cache misses; only read, decode and extraction
// failures are returned.
func (e *Encoder) Encode(ctx context.Context, path string) (*Encoding, error) {
	data, hash, err := fingerprint.ReadAndHash(path)
	if err != nil {
		return nil, err
	}
	return e.EncodeData(ctx, path, data, hash)
}

// EncodeData is Encode for a file whose bytes and content hash were already
// read.
func (e *Encoder) EncodeData(ctx context.Context, path string, data []byte, hash string) (*Encoding, error) {
	log := e.logger.With("path", path, "hash", hash)

	pathID, err := e.store.ResolvePath(ctx, path)
	if err != nil {
		log.Warn("resolve path failed, continuing without cache", "error", err)
		pathID = 0
	}

	if pathID != 0 {
		if enc, ok := e.fromPath(ctx, log, pathID, hash); ok {
			return enc, nil
		}
	}
	if enc, ok := e.fromContent(ctx, log, hash); ok {
		e.link(ctx, log, pathID, enc.ImageID)
		return enc, nil
	}

	v, err, _ := e.group.Do(hash, func() (any, error) {
		return e.extract(ctx, log, hash, data)
	})
	if err != nil {
		return nil, err
	}
	enc := *v.(*Encoding)
	e.link(ctx, log, pathID, enc.ImageID)
	return &enc, nil
}

// fromPath is the cache hit of a path already linked to this content.
func (e *Encoder) fromPath(ctx context.Context, log *slog.Logger, pathID int64, hash string) (*Encoding, bool) {
	imageID, ok, err := e.store.LookupImageForPath(ctx, pathID, hash)
	if err != nil {
		log.Warn("cache lookup failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	img, err := e.store.FindImageByHash(ctx, hash)
	if err != nil || img == nil {
		if err != nil {
			log.Warn("load cached image failed", "error", err)
		}
		return nil, false
	}
	return e.cached(ctx, log, imageID, hash, img.FaceCount)
}

// fromContent is the cache hit of identical bytes stored under another path.
func (e *Encoder) fromContent(ctx context.Context, log *slog.Logger, hash string) (*Encoding, bool) {
	img, err := e.store.FindImageByHash(ctx, hash)
	if err != nil {
		log.Warn("content lookup failed", "error", err)
		return nil, false
	}
	if img == nil {
		return nil, false
	}
	return e.cached(ctx, log, img.ID, hash, img.FaceCount)
}

func (e *Encoder) cached(ctx context.Context, log *slog.Logger, imageID int64, hash string, faceCount int) (*Encoding, bool) {
	stored, err := e.store.GetVectors(ctx, imageID)
	if err != nil {
		log.Warn("load cached vectors failed", "error", err)
		return nil, false
	}
	// An image recorded with faces but without vectors was interrupted
	// between the two writes.
	if faceCount > 0 && len(stored) == 0 {
		return nil, false
	}
	vectors := make([][]float32, len(stored))
	for i, sv := range stored {
		vectors[i] = sv.Embedding
	}
	return &Encoding{Hash: hash, ImageID: imageID, Vectors: vectors, CacheHit: true}, true
}

func (e *Encoder) extract(ctx context.Context, log *slog.Logger, hash string, data []byte) (*Encoding, error) {
	prepared, err := fingerprint.PrepareImage(data, e.maxDimension)
	if err != nil {
		return nil, err
	}

	e.extractions.Add(1)
	resp, err := e.extractor.ComputeFaceEmbeddings(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("extract faces: %w", err)
	}
	vectors := resp.Embeddings()
	enc := &Encoding{Hash: hash, Vectors: vectors}

	imageID, err := e.store.ResolveContent(ctx, hash, len(vectors))
	if err != nil {
		log.Warn("record image failed", "error", err)
		return enc, nil
	}
	enc.ImageID = imageID
	if err := e.store.RecordVectors(ctx, imageID, vectors); err != nil {
		log.Warn("record vectors failed", "error", err)
	}
	log.Debug("extracted faces", "faces", len(vectors))
	return enc, nil
}

func (e *Encoder) link(ctx context.Context, log *slog.Logger, pathID, imageID int64) {
	if pathID == 0 || imageID == 0 {
		return
	}
	if err := e.store.Link(ctx, pathID, imageID); err != nil {
		log.Warn("link path to image failed", "error", err)
	}
}
