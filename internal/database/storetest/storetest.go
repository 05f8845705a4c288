// Package storetest holds the behavioural checks every database.Store backend
// must pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/kozaktomas/face-sorter/internal/database"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) database.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s database.Store)
	}{
		{"ResolvePathIsGetOrCreate", testResolvePath},
		{"ResolveContentKeepsFirstFaceCount", testResolveContent},
		{"LinkAndLookup", testLinkAndLookup},
		{"PathRemappedToNewContent", testRemap},
		{"RecordVectorsSkipsDuplicates", testRecordVectors},
		{"FindImageByHash", testFindImageByHash},
		{"ResolvePersonNormalisesName", testResolvePerson},
		{"KnownVectorsUseFirstFace", testKnownVectors},
		{"RecordMatchIsIdempotent", testRecordMatch},
		{"Stats", testStats},
		{"ConcurrentResolveContent", testConcurrentResolve},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testResolvePath(t *testing.T, s database.Store) {
	ctx := context.Background()
	a, err := s.ResolvePath(ctx, "/photos/a.jpg")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	again, err := s.ResolvePath(ctx, "/photos/a.jpg")
	if err != nil {
		t.Fatalf("ResolvePath again: %v", err)
	}
	if a != again {
		t.Errorf("expected same id %d, got %d", a, again)
	}
	b, err := s.ResolvePath(ctx, "/photos/b.jpg")
	if err != nil {
		t.Fatalf("ResolvePath b: %v", err)
	}
	if b == a {
		t.Error("expected distinct ids for distinct paths")
	}
}

func testResolveContent(t *testing.T, s database.Store) {
	ctx := context.Background()
	id, err := s.ResolveContent(ctx, "hash-1", 2)
	if err != nil {
		t.Fatalf("ResolveContent: %v", err)
	}
	again, err := s.ResolveContent(ctx, "hash-1", 5)
	if err != nil {
		t.Fatalf("ResolveContent again: %v", err)
	}
	if id != again {
		t.Errorf("expected same id %d, got %d", id, again)
	}
	img, err := s.FindImageByHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("FindImageByHash: %v", err)
	}
	if img == nil || img.FaceCount != 2 {
		t.Errorf("expected face count 2 to be kept, got %+v", img)
	}
}

func testLinkAndLookup(t *testing.T, s database.Store) {
	ctx := context.Background()
	pathID := mustPath(t, s, "/photos/a.jpg")
	imageID := mustContent(t, s, "hash-a", 1)

	if _, ok, err := s.LookupImageForPath(ctx, pathID, "hash-a"); err != nil || ok {
		t.Fatalf("expected miss before link, got ok=%v err=%v", ok, err)
	}
	for range 2 {
		if err := s.Link(ctx, pathID, imageID); err != nil {
			t.Fatalf("Link: %v", err)
		}
	}
	got, ok, err := s.LookupImageForPath(ctx, pathID, "hash-a")
	if err != nil {
		t.Fatalf("LookupImageForPath: %v", err)
	}
	if !ok || got != imageID {
		t.Errorf("expected hit on image %d, got %d ok=%v", imageID, got, ok)
	}
	if _, ok, _ := s.LookupImageForPath(ctx, pathID, "hash-other"); ok {
		t.Error("expected miss for a different hash")
	}
}

func testRemap(t *testing.T, s database.Store) {
	ctx := context.Background()
	pathID := mustPath(t, s, "/photos/a.jpg")
	oldImage := mustContent(t, s, "hash-old", 1)
	newImage := mustContent(t, s, "hash-new", 1)
	if err := s.Link(ctx, pathID, oldImage); err != nil {
		t.Fatalf("Link old: %v", err)
	}
	if err := s.Link(ctx, pathID, newImage); err != nil {
		t.Fatalf("Link new: %v", err)
	}
	if got, ok, _ := s.LookupImageForPath(ctx, pathID, "hash-new"); !ok || got != newImage {
		t.Errorf("expected new content %d, got %d ok=%v", newImage, got, ok)
	}
	if got, ok, _ := s.LookupImageForPath(ctx, pathID, "hash-old"); !ok || got != oldImage {
		t.Errorf("expected old mapping to remain valid, got %d ok=%v", got, ok)
	}
}

func testRecordVectors(t *testing.T, s database.Store) {
	ctx := context.Background()
	imageID := mustContent(t, s, "hash-v", 2)
	a := []float32{0.1, 0.2, 0.3}
	b := []float32{0.4, 0.5, 0.6}

	if err := s.RecordVectors(ctx, imageID, [][]float32{a, b, a}); err != nil {
		t.Fatalf("RecordVectors: %v", err)
	}
	if err := s.RecordVectors(ctx, imageID, [][]float32{a, b}); err != nil {
		t.Fatalf("RecordVectors again: %v", err)
	}
	got, err := s.GetVectors(ctx, imageID)
	if err != nil {
		t.Fatalf("GetVectors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(got))
	}
	if got[0].FaceIndex != 0 || got[1].FaceIndex != 1 {
		t.Errorf("expected face indexes 0 and 1, got %d and %d", got[0].FaceIndex, got[1].FaceIndex)
	}
	if !equal(got[0].Embedding, a) || !equal(got[1].Embedding, b) {
		t.Errorf("vectors did not round trip: %v", got)
	}
	if err := s.RecordVectors(ctx, imageID, nil); err != nil {
		t.Errorf("expected empty record to succeed, got %v", err)
	}
}

func testFindImageByHash(t *testing.T, s database.Store) {
	img, err := s.FindImageByHash(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindImageByHash: %v", err)
	}
	if img != nil {
		t.Errorf("expected nil for unknown hash, got %+v", img)
	}
}

func testResolvePerson(t *testing.T, s database.Store) {
	ctx := context.Background()
	a, err := s.ResolvePerson(ctx, "Jiří Novák")
	if err != nil {
		t.Fatalf("ResolvePerson: %v", err)
	}
	b, err := s.ResolvePerson(ctx, "  jiri novak ")
	if err != nil {
		t.Fatalf("ResolvePerson normalised: %v", err)
	}
	if a != b {
		t.Errorf("expected same person, got %d and %d", a, b)
	}
	if _, err := s.ResolvePerson(ctx, "   "); err == nil {
		t.Error("expected error for an empty name")
	}
	persons, err := s.ListPersons(ctx)
	if err != nil {
		t.Fatalf("ListPersons: %v", err)
	}
	if len(persons) != 1 || persons[0].Name != "Jiří Novák" {
		t.Errorf("expected the first spelling to be kept, got %+v", persons)
	}
}

func testKnownVectors(t *testing.T, s database.Store) {
	ctx := context.Background()
	alice, err := s.ResolvePerson(ctx, "Alice")
	if err != nil {
		t.Fatalf("ResolvePerson: %v", err)
	}
	ref := mustContent(t, s, "hash-ref", 2)
	first := []float32{1, 0, 0}
	second := []float32{0, 1, 0}
	if err := s.RecordVectors(ctx, ref, [][]float32{first, second}); err != nil {
		t.Fatalf("RecordVectors: %v", err)
	}
	for range 2 {
		if err := s.AddKnownImage(ctx, alice, ref); err != nil {
			t.Fatalf("AddKnownImage: %v", err)
		}
	}
	known, err := s.KnownVectors(ctx)
	if err != nil {
		t.Fatalf("KnownVectors: %v", err)
	}
	if len(known) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(known))
	}
	if known[0].PersonID != alice || known[0].PersonName != "Alice" || !equal(known[0].Embedding, first) {
		t.Errorf("unexpected candidate %+v", known[0])
	}
}

func testRecordMatch(t *testing.T, s database.Store) {
	ctx := context.Background()
	person, err := s.ResolvePerson(ctx, "Alice")
	if err != nil {
		t.Fatalf("ResolvePerson: %v", err)
	}
	imageID := mustContent(t, s, "hash-m", 1)

	created, err := s.RecordMatch(ctx, imageID, person, 0.31)
	if err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	if !created {
		t.Error("expected first match to be created")
	}
	created, err = s.RecordMatch(ctx, imageID, person, 0.12)
	if err != nil {
		t.Fatalf("RecordMatch again: %v", err)
	}
	if created {
		t.Error("expected duplicate match to be a no-op")
	}
	matches, err := s.GetMatches(ctx, imageID)
	if err != nil {
		t.Fatalf("GetMatches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly 1 match row, got %d", len(matches))
	}
	if d := matches[0].Distance; d < 0.3 || d > 0.32 {
		t.Errorf("expected first distance to be kept, got %f", d)
	}
}

func testStats(t *testing.T, s database.Store) {
	ctx := context.Background()
	pathID := mustPath(t, s, "/photos/a.jpg")
	imageID := mustContent(t, s, "hash-s", 1)
	if err := s.Link(ctx, pathID, imageID); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := s.RecordVectors(ctx, imageID, [][]float32{{1, 2}}); err != nil {
		t.Fatalf("RecordVectors: %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := database.Stats{FilePaths: 1, Images: 1, Vectors: 1}
	if *st != want {
		t.Errorf("expected %+v, got %+v", want, *st)
	}
}

func testConcurrentResolve(t *testing.T, s database.Store) {
	ctx := context.Background()
	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.ResolveContent(ctx, "hash-shared", 1)
			if errs[i] == nil {
				pathID, err := s.ResolvePath(ctx, fmt.Sprintf("/photos/copy-%d.jpg", i))
				if err != nil {
					errs[i] = err
					return
				}
				errs[i] = s.Link(ctx, pathID, ids[i])
			}
		}(i)
	}
	wg.Wait()
	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("expected every worker to resolve image %d, worker %d got %d", ids[0], i, ids[i])
		}
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Images != 1 || st.FilePaths != workers {
		t.Errorf("expected 1 image and %d paths, got %+v", workers, *st)
	}
}

func mustPath(t *testing.T, s database.Store, path string) int64 {
	t.Helper()
	id, err := s.ResolvePath(context.Background(), path)
	if err != nil {
		t.Fatalf("ResolvePath(%s): %v", path, err)
	}
	return id
}

func mustContent(t *testing.T, s database.Store, hash string, faces int) int64 {
	t.Helper()
	id, err := s.ResolveContent(context.Background(), hash, faces)
	if err != nil {
		t.Fatalf("ResolveContent(%s): %v", hash, err)
	}
	return id
}

func equal(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
