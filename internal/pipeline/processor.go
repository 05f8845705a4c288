package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/facematch"
	"github.com/kozaktomas/face-sorter/internal/fingerprint"
	"github.com/kozaktomas/face-sorter/internal/logging"
)

// Outcome is the decision the per-image stage returns for one file.
type Outcome int

const (
	NoMatch Outcome = iota
	Matched
	AlreadyHandled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case AlreadyHandled:
		return "already_handled"
	case Failed:
		return "failed"
	default:
		return "no_match"
	}
}

// Result is the value a worker returns for one file. Per-file failures are
// carried in Err and never stop the pool.
type Result struct {
	Path     string
	Outcome  Outcome
	Hash     string
	ImageID  int64
	Faces    int
	Matches  []facematch.Match
	CacheHit bool
	Worker   string
	Err      error

	// Unavailable is set when Err means the extractor could not be reached,
	// as opposed to the file itself being bad.
	Unavailable bool
}

// OutputName is the name a matched file is copied under: the name of its
// parent folder and its own name joined by an underscore.
func OutputName(path string) string {
	return filepath.Base(filepath.Dir(path)) + "_" + filepath.Base(path)
}

// OutputPath is the copy destination of path inside outputDir.
func OutputPath(outputDir, path string) string {
	return filepath.Join(outputDir, OutputName(path))
}

// Processor is the per-image stage: output check, encoding, matching and
// recording of confirmed matches.
type Processor struct {
	encoder   *Encoder
	registry  database.IdentityRegistry
	matcher   *facematch.Matcher
	outputDir string
	logger    *slog.Logger
}

// NewProcessor creates the per-image stage for one run. The matcher holds
// the candidate set of the whole run.
func NewProcessor(encoder *Encoder, registry database.IdentityRegistry, matcher *facematch.Matcher, outputDir string, logger *slog.Logger) *Processor {
	return &Processor{
		encoder:   encoder,
		registry:  registry,
		matcher:   matcher,
		outputDir: outputDir,
		logger:    logging.Component(logger, "processor"),
	}
}

// Process runs the stage for the file at path: hash the bytes, stop if the
// output copy already exists, then encode and match. An already handled file
// reports its hash but writes no store rows, since its face count is unknown
// without an extraction.
func (p *Processor) Process(ctx context.Context, worker, path string) Result {
	res := Result{Path: path, Worker: worker}
	log := p.logger.With("worker", worker, "path", path)

	data, hash, err := fingerprint.ReadAndHash(path)
	if err != nil {
		res.Outcome = Failed
		res.Err = err
		log.Warn("processing failed", "error", err)
		return res
	}
	res.Hash = hash

	if p.outputDir != "" {
		if _, err := os.Stat(OutputPath(p.outputDir, path)); err == nil {
			res.Outcome = AlreadyHandled
			log.Debug("output exists, skipping", "hash", hash)
			return res
		}
	}

	enc, err := p.encoder.EncodeData(ctx, path, data, hash)
	if err != nil {
		res.Outcome = Failed
		res.Err = err
		res.Unavailable = fingerprint.IsUnavailable(err)
		log.Warn("processing failed", "error", err)
		return res
	}
	res.Hash = enc.Hash
	res.ImageID = enc.ImageID
	res.Faces = len(enc.Vectors)
	res.CacheHit = enc.CacheHit

	res.Matches = p.matcher.MatchFaces(enc.Vectors)
	if len(res.Matches) == 0 {
		res.Outcome = NoMatch
		return res
	}
	res.Outcome = Matched

	if enc.ImageID == 0 {
		log.Warn("image not stored, matches not recorded", "matches", len(res.Matches))
		return res
	}
	for _, m := range res.Matches {
		created, err := p.registry.RecordMatch(ctx, enc.ImageID, m.PersonID, m.Distance)
		if err != nil {
			log.Warn("record match failed", "person", m.PersonName, "error", err)
			continue
		}
		if created {
			log.Info("face matched", "person", m.PersonName, "distance", m.Distance)
		}
	}
	return res
}
