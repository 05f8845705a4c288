// Package mock provides an in-memory database.Store for testing.
package mock

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/facematch"
)

type pathImage struct {
	filePathID int64
	imageID    int64
}

type personImage struct {
	personID int64
	imageID  int64
}

// MockStore is an in-memory implementation of database.Store.
type MockStore struct {
	mu sync.Mutex

	nextID    int64
	paths     map[string]int64
	images    map[string]*database.Image
	links     []pathImage
	vectors   map[int64][]database.StoredVector
	digests   map[int64]map[string]struct{}
	persons   map[string]*database.Person
	known     map[personImage]struct{}
	matches   map[personImage]*database.StoredMatch
	closed    bool
	callCount map[string]int

	// Error injection
	ResolvePathError    error
	ResolveContentError error
	LinkError           error
	RecordVectorsError  error
	LookupError         error
	FindImageError      error
	GetVectorsError     error
	ResolvePersonError  error
	AddKnownImageError  error
	ListPersonsError    error
	KnownVectorsError   error
	RecordMatchError    error
	GetMatchesError     error
	StatsError          error
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		paths:     make(map[string]int64),
		images:    make(map[string]*database.Image),
		vectors:   make(map[int64][]database.StoredVector),
		digests:   make(map[int64]map[string]struct{}),
		persons:   make(map[string]*database.Person),
		known:     make(map[personImage]struct{}),
		matches:   make(map[personImage]*database.StoredMatch),
		callCount: make(map[string]int),
	}
}

// Calls returns how many times method was invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[method]
}

func (m *MockStore) enter(method string) {
	m.mu.Lock()
	m.callCount[method]++
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// ResolvePath returns the id of path, creating it on first sight.
func (m *MockStore) ResolvePath(ctx context.Context, path string) (int64, error) {
	m.enter("ResolvePath")
	defer m.mu.Unlock()
	if m.ResolvePathError != nil {
		return 0, m.ResolvePathError
	}
	if id, ok := m.paths[path]; ok {
		return id, nil
	}
	id := m.id()
	m.paths[path] = id
	return id, nil
}

// ResolveContent returns the id of the image with hash, creating it on first sight.
func (m *MockStore) ResolveContent(ctx context.Context, hash string, faceCount int) (int64, error) {
	m.enter("ResolveContent")
	defer m.mu.Unlock()
	if m.ResolveContentError != nil {
		return 0, m.ResolveContentError
	}
	if img, ok := m.images[hash]; ok {
		return img.ID, nil
	}
	img := &database.Image{ID: m.id(), Hash: hash, FaceCount: faceCount, CreatedAt: time.Now()}
	m.images[hash] = img
	return img.ID, nil
}

// Link associates a path with an image.
func (m *MockStore) Link(ctx context.Context, filePathID, imageID int64) error {
	m.enter("Link")
	defer m.mu.Unlock()
	if m.LinkError != nil {
		return m.LinkError
	}
	pair := pathImage{filePathID, imageID}
	for _, l := range m.links {
		if l == pair {
			return nil
		}
	}
	m.links = append(m.links, pair)
	return nil
}

// RecordVectors stores vectors, skipping duplicates of the same image.
func (m *MockStore) RecordVectors(ctx context.Context, imageID int64, vectors [][]float32) error {
	m.enter("RecordVectors")
	defer m.mu.Unlock()
	if m.RecordVectorsError != nil {
		return m.RecordVectorsError
	}
	seen := m.digests[imageID]
	if seen == nil {
		seen = make(map[string]struct{})
		m.digests[imageID] = seen
	}
	for i, v := range vectors {
		d := database.VectorDigest(v)
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		m.vectors[imageID] = append(m.vectors[imageID], database.StoredVector{
			ID:        m.id(),
			ImageID:   imageID,
			FaceIndex: i,
			Embedding: append([]float32(nil), v...),
		})
	}
	return nil
}

// LookupImageForPath returns the image linked to filePathID with expectedHash.
func (m *MockStore) LookupImageForPath(ctx context.Context, filePathID int64, expectedHash string) (int64, bool, error) {
	m.enter("LookupImageForPath")
	defer m.mu.Unlock()
	if m.LookupError != nil {
		return 0, false, m.LookupError
	}
	img, ok := m.images[expectedHash]
	if !ok {
		return 0, false, nil
	}
	for _, l := range m.links {
		if l.filePathID == filePathID && l.imageID == img.ID {
			return img.ID, true, nil
		}
	}
	return 0, false, nil
}

// FindImageByHash returns the image with hash or nil.
func (m *MockStore) FindImageByHash(ctx context.Context, hash string) (*database.Image, error) {
	m.enter("FindImageByHash")
	defer m.mu.Unlock()
	if m.FindImageError != nil {
		return nil, m.FindImageError
	}
	img, ok := m.images[hash]
	if !ok {
		return nil, nil
	}
	cp := *img
	return &cp, nil
}

// GetVectors returns the vectors of an image.
func (m *MockStore) GetVectors(ctx context.Context, imageID int64) ([]database.StoredVector, error) {
	m.enter("GetVectors")
	defer m.mu.Unlock()
	if m.GetVectorsError != nil {
		return nil, m.GetVectorsError
	}
	return append([]database.StoredVector(nil), m.vectors[imageID]...), nil
}

// ResolvePerson returns the id of the named person, creating it on first sight.
func (m *MockStore) ResolvePerson(ctx context.Context, name string) (int64, error) {
	m.enter("ResolvePerson")
	defer m.mu.Unlock()
	if m.ResolvePersonError != nil {
		return 0, m.ResolvePersonError
	}
	name = strings.TrimSpace(name)
	key := facematch.NameKey(name)
	if key == "" {
		return 0, errors.New("person name is required")
	}
	if p, ok := m.persons[key]; ok {
		return p.ID, nil
	}
	p := &database.Person{ID: m.id(), Name: name, CreatedAt: time.Now()}
	m.persons[key] = p
	return p.ID, nil
}

// AddKnownImage binds a reference image to a person.
func (m *MockStore) AddKnownImage(ctx context.Context, personID, imageID int64) error {
	m.enter("AddKnownImage")
	defer m.mu.Unlock()
	if m.AddKnownImageError != nil {
		return m.AddKnownImageError
	}
	m.known[personImage{personID, imageID}] = struct{}{}
	return nil
}

// ListPersons returns persons ordered by name.
func (m *MockStore) ListPersons(ctx context.Context) ([]database.Person, error) {
	m.enter("ListPersons")
	defer m.mu.Unlock()
	if m.ListPersonsError != nil {
		return nil, m.ListPersonsError
	}
	out := make([]database.Person, 0, len(m.persons))
	for _, p := range m.persons {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// KnownVectors returns the first face of every reference image.
func (m *MockStore) KnownVectors(ctx context.Context) ([]database.KnownVector, error) {
	m.enter("KnownVectors")
	defer m.mu.Unlock()
	if m.KnownVectorsError != nil {
		return nil, m.KnownVectorsError
	}
	names := make(map[int64]string, len(m.persons))
	for _, p := range m.persons {
		names[p.ID] = p.Name
	}
	var out []database.KnownVector
	for k := range m.known {
		for _, v := range m.vectors[k.imageID] {
			if v.FaceIndex != 0 {
				continue
			}
			out = append(out, database.KnownVector{
				PersonID:   k.personID,
				PersonName: names[k.personID],
				ImageID:    k.imageID,
				Embedding:  v.Embedding,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PersonID != out[j].PersonID {
			return out[i].PersonID < out[j].PersonID
		}
		return out[i].ImageID < out[j].ImageID
	})
	return out, nil
}

// RecordMatch stores a match; duplicates are a no-op.
func (m *MockStore) RecordMatch(ctx context.Context, imageID, personID int64, distance float64) (bool, error) {
	m.enter("RecordMatch")
	defer m.mu.Unlock()
	if m.RecordMatchError != nil {
		return false, m.RecordMatchError
	}
	key := personImage{personID, imageID}
	if _, ok := m.matches[key]; ok {
		return false, nil
	}
	m.matches[key] = &database.StoredMatch{
		ID:        m.id(),
		ImageID:   imageID,
		PersonID:  personID,
		Distance:  distance,
		CreatedAt: time.Now(),
	}
	return true, nil
}

// GetMatches returns the matches of an image ordered by person.
func (m *MockStore) GetMatches(ctx context.Context, imageID int64) ([]database.StoredMatch, error) {
	m.enter("GetMatches")
	defer m.mu.Unlock()
	if m.GetMatchesError != nil {
		return nil, m.GetMatchesError
	}
	var out []database.StoredMatch
	for _, sm := range m.matches {
		if sm.ImageID == imageID {
			out = append(out, *sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}

// AllMatches returns every recorded match.
func (m *MockStore) AllMatches() []database.StoredMatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]database.StoredMatch, 0, len(m.matches))
	for _, sm := range m.matches {
		out = append(out, *sm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats counts stored rows.
func (m *MockStore) Stats(ctx context.Context) (*database.Stats, error) {
	m.enter("Stats")
	defer m.mu.Unlock()
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	st := &database.Stats{
		FilePaths: len(m.paths),
		Images:    len(m.images),
		Persons:   len(m.persons),
		Matches:   len(m.matches),
	}
	for _, vs := range m.vectors {
		st.Vectors += len(vs)
	}
	return st, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
