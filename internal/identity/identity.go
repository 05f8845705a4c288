// Package identity registers known people from reference images and loads
// the candidate set a run matches against.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/facematch"
	"github.com/kozaktomas/face-sorter/internal/logging"
	"github.com/kozaktomas/face-sorter/internal/pipeline"
	"github.com/kozaktomas/face-sorter/internal/queue"
)

// ErrNoKnownIdentities means no reference face was registered.
var ErrNoKnownIdentities = errors.New("no known identities registered")

// Registered summarises one Register call.
type Registered struct {
	PersonID int64
	Name     string
	Images   int // reference images bound to the person
	Skipped  int // images without a usable face
}

// Registry binds reference images to persons.
type Registry struct {
	store   database.IdentityRegistry
	encoder *pipeline.Encoder
	logger  *slog.Logger
}

func NewRegistry(store database.IdentityRegistry, encoder *pipeline.Encoder, logger *slog.Logger) *Registry {
	return &Registry{
		store:   store,
		encoder: encoder,
		logger:  logging.Component(logger, "identity"),
	}
}

// Register encodes every image in folder and binds it to the person called
// name. Only the first face of a reference image is used for matching.
// Images that cannot be read or contain no face are logged and skipped.
func (r *Registry) Register(ctx context.Context, name, folder string) (*Registered, error) {
	files, err := queue.ScanFolders([]string{folder}, false)
	if err != nil {
		return nil, err
	}
	personID, err := r.store.ResolvePerson(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve person %q: %w", name, err)
	}

	out := &Registered{PersonID: personID, Name: strings.TrimSpace(name)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		log := r.logger.With("person", out.Name, "path", path)

		enc, err := r.encoder.Encode(ctx, path)
		if err != nil {
			log.Warn("skipping reference image", "error", err)
			out.Skipped++
			continue
		}
		if len(enc.Vectors) == 0 {
			log.Warn("no face found in reference image")
			out.Skipped++
			continue
		}
		if enc.ImageID == 0 {
			log.Warn("reference image not stored")
			out.Skipped++
			continue
		}
		if len(enc.Vectors) > 1 {
			log.Info("reference image has several faces, using the first", "faces", len(enc.Vectors))
		}
		if err := r.store.AddKnownImage(ctx, personID, enc.ImageID); err != nil {
			return out, fmt.Errorf("add known image %s: %w", path, err)
		}
		out.Images++
	}

	r.logger.Info("registered known identity", "person", out.Name, "images", out.Images, "skipped", out.Skipped)
	return out, nil
}

// RegisterDirectory registers every sub-directory of root as a person named
// after the directory. Images placed directly in root are registered under
// the name of root itself.
func (r *Registry) RegisterDirectory(ctx context.Context, root string) ([]*Registered, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read known faces dir: %w", err)
	}

	var dirs []string
	loose := false
	for _, e := range entries {
		switch {
		case e.IsDir():
			dirs = append(dirs, e.Name())
		case queue.IsImageFile(e.Name()):
			loose = true
		}
	}
	sort.Strings(dirs)

	var out []*Registered
	if loose {
		reg, err := r.Register(ctx, filepath.Base(root), root)
		if err != nil {
			return out, err
		}
		out = append(out, reg)
	}
	for _, d := range dirs {
		reg, err := r.Register(ctx, d, filepath.Join(root, d))
		if err != nil {
			return out, err
		}
		out = append(out, reg)
	}
	return out, nil
}

// Candidates loads the known faces a run matches against.
func Candidates(ctx context.Context, store database.IdentityRegistry) ([]facematch.Candidate, error) {
	known, err := store.KnownVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load known vectors: %w", err)
	}
	if len(known) == 0 {
		return nil, ErrNoKnownIdentities
	}
	candidates := make([]facematch.Candidate, len(known))
	for i, k := range known {
		candidates[i] = facematch.Candidate{
			PersonID:   k.PersonID,
			PersonName: k.PersonName,
			Embedding:  k.Embedding,
		}
	}
	return candidates, nil
}
