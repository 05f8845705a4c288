package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/facematch"
)

// Store is a database.Store over a pooled *sql.DB. Every method is a single
// short statement or transaction; no lock is held between calls.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ database.Store = (*Store)(nil)

// New wraps an open, migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB returns the underlying sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the dialect the store was created with.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", value)
	return t
}

// getOrCreate inserts a row ignoring unique violations, then reads back its id.
func (s *Store) getOrCreate(ctx context.Context, insert string, insertArgs []any, selectQuery string, selectArgs ...any) (int64, error) {
	var id int64
	err := s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, insert, insertArgs...); err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, s.dialect.Rebind(selectQuery), selectArgs...).Scan(&id)
	})
	return id, err
}

// ResolvePath returns the id of path, creating the row on first sight.
func (s *Store) ResolvePath(ctx context.Context, path string) (int64, error) {
	id, err := s.getOrCreate(ctx,
		s.dialect.InsertIgnoring("file_paths", []string{"path", "created_at"}, "path"),
		[]any{path, now()},
		"SELECT id FROM file_paths WHERE path = ?", path)
	if err != nil {
		return 0, fmt.Errorf("resolve path: %w", err)
	}
	return id, nil
}

// ResolveContent returns the id of the image with hash. faceCount is only
// written when the row is created.
func (s *Store) ResolveContent(ctx context.Context, hash string, faceCount int) (int64, error) {
	id, err := s.getOrCreate(ctx,
		s.dialect.InsertIgnoring("images", []string{"hash", "face_count", "created_at"}, "hash"),
		[]any{hash, faceCount, now()},
		"SELECT id FROM images WHERE hash = ?", hash)
	if err != nil {
		return 0, fmt.Errorf("resolve content: %w", err)
	}
	return id, nil
}

// Link associates a path with an image.
func (s *Store) Link(ctx context.Context, filePathID, imageID int64) error {
	q := s.dialect.InsertIgnoring("file_image_map",
		[]string{"file_path_id", "image_id", "created_at"}, "file_path_id", "image_id")
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, filePathID, imageID, now())
		return err
	})
	if err != nil {
		return fmt.Errorf("link path %d to image %d: %w", filePathID, imageID, err)
	}
	return nil
}

// RecordVectors stores the vectors of an image in one transaction. A vector
// whose bytes are already stored for the image is skipped.
func (s *Store) RecordVectors(ctx context.Context, imageID int64, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	q := s.dialect.InsertIgnoring("feature_vectors",
		[]string{"image_id", "face_index", "digest", "embedding", "created_at"}, "image_id", "digest")
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		ts := now()
		for i, v := range vectors {
			if _, err := tx.ExecContext(ctx, q, imageID, i, database.VectorDigest(v), s.dialect.vectorValue(v), ts); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("record vectors for image %d: %w", imageID, err)
	}
	return nil
}

// LookupImageForPath returns the image linked to filePathID with the given hash.
func (s *Store) LookupImageForPath(ctx context.Context, filePathID int64, expectedHash string) (int64, bool, error) {
	q := s.dialect.Rebind(`
		SELECT i.id FROM file_image_map m
		JOIN images i ON i.id = m.image_id
		WHERE m.file_path_id = ? AND i.hash = ?
		ORDER BY m.id DESC LIMIT 1`)
	var id int64
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, q, filePathID, expectedHash).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup image for path %d: %w", filePathID, err)
	}
	return id, true, nil
}

// FindImageByHash returns the image with hash, or nil if it was never stored.
func (s *Store) FindImageByHash(ctx context.Context, hash string) (*database.Image, error) {
	q := s.dialect.Rebind("SELECT id, hash, face_count, created_at FROM images WHERE hash = ?")
	var (
		img     database.Image
		created string
	)
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, q, hash).Scan(&img.ID, &img.Hash, &img.FaceCount, &created)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find image by hash: %w", err)
	}
	img.CreatedAt = parseTime(created)
	return &img, nil
}

// GetVectors returns the vectors of an image ordered by face index.
func (s *Store) GetVectors(ctx context.Context, imageID int64) ([]database.StoredVector, error) {
	q := s.dialect.Rebind(`
		SELECT id, image_id, face_index, embedding FROM feature_vectors
		WHERE image_id = ? ORDER BY face_index, id`)
	var out []database.StoredVector
	err := s.withRetry(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, q, imageID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sv database.StoredVector
			dest := s.dialect.newVectorDest()
			if err := rows.Scan(&sv.ID, &sv.ImageID, &sv.FaceIndex, dest); err != nil {
				return err
			}
			sv.Embedding = dest.Slice()
			out = append(out, sv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get vectors for image %d: %w", imageID, err)
	}
	return out, nil
}

// ResolvePerson returns the id of the person called name, creating it on first
// sight. Names differing only in case, diacritics or dashes are the same person.
func (s *Store) ResolvePerson(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	key := facematch.NameKey(name)
	if key == "" {
		return 0, errors.New("person name is required")
	}
	id, err := s.getOrCreate(ctx,
		s.dialect.InsertIgnoring("persons", []string{"name", "name_key", "created_at"}, "name_key"),
		[]any{name, key, now()},
		"SELECT id FROM persons WHERE name_key = ?", key)
	if err != nil {
		return 0, fmt.Errorf("resolve person %q: %w", name, err)
	}
	return id, nil
}

// AddKnownImage binds a reference image to a person.
func (s *Store) AddKnownImage(ctx context.Context, personID, imageID int64) error {
	q := s.dialect.InsertIgnoring("known_images",
		[]string{"person_id", "image_id", "created_at"}, "person_id", "image_id")
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, personID, imageID, now())
		return err
	})
	if err != nil {
		return fmt.Errorf("add known image %d to person %d: %w", imageID, personID, err)
	}
	return nil
}

// ListPersons returns all persons ordered by name.
func (s *Store) ListPersons(ctx context.Context) ([]database.Person, error) {
	var out []database.Person
	err := s.withRetry(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM persons ORDER BY name, id")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				p       database.Person
				created string
			)
			if err := rows.Scan(&p.ID, &p.Name, &created); err != nil {
				return err
			}
			p.CreatedAt = parseTime(created)
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	return out, nil
}

// KnownVectors returns the candidate set: the first face of every reference
// image of every person.
func (s *Store) KnownVectors(ctx context.Context) ([]database.KnownVector, error) {
	const q = `
		SELECT p.id, p.name, k.image_id, v.embedding
		FROM known_images k
		JOIN persons p ON p.id = k.person_id
		JOIN feature_vectors v ON v.image_id = k.image_id AND v.face_index = 0
		ORDER BY p.id, k.image_id`
	var out []database.KnownVector
	err := s.withRetry(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var kv database.KnownVector
			dest := s.dialect.newVectorDest()
			if err := rows.Scan(&kv.PersonID, &kv.PersonName, &kv.ImageID, dest); err != nil {
				return err
			}
			kv.Embedding = dest.Slice()
			out = append(out, kv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load known vectors: %w", err)
	}
	return out, nil
}

// RecordMatch stores a confirmed match. created is false when the pair was
// already recorded; the stored distance is then left untouched.
func (s *Store) RecordMatch(ctx context.Context, imageID, personID int64, distance float64) (bool, error) {
	q := s.dialect.InsertIgnoring("matches",
		[]string{"image_id", "person_id", "distance", "created_at"}, "image_id", "person_id")
	var affected int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, q, imageID, personID, distance, now())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("record match image %d person %d: %w", imageID, personID, err)
	}
	return affected > 0, nil
}

// GetMatches returns the matches recorded for an image.
func (s *Store) GetMatches(ctx context.Context, imageID int64) ([]database.StoredMatch, error) {
	q := s.dialect.Rebind(`
		SELECT id, image_id, person_id, distance, created_at FROM matches
		WHERE image_id = ? ORDER BY person_id`)
	var out []database.StoredMatch
	err := s.withRetry(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, q, imageID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m       database.StoredMatch
				created string
			)
			if err := rows.Scan(&m.ID, &m.ImageID, &m.PersonID, &m.Distance, &created); err != nil {
				return err
			}
			m.CreatedAt = parseTime(created)
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get matches for image %d: %w", imageID, err)
	}
	return out, nil
}

// Stats counts the rows of every entity table.
func (s *Store) Stats(ctx context.Context) (*database.Stats, error) {
	var st database.Stats
	counts := []struct {
		table string
		dest  *int
	}{
		{"file_paths", &st.FilePaths},
		{"images", &st.Images},
		{"feature_vectors", &st.Vectors},
		{"persons", &st.Persons},
		{"matches", &st.Matches},
	}
	for _, c := range counts {
		err := s.withRetry(ctx, func() error {
			return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest)
		})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return &st, nil
}
