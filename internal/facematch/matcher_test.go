package facematch

import (
	"math"
	"math/rand"
	"testing"
)

func TestMatcherBest(t *testing.T) {
	candidates := []Candidate{
		{PersonID: 1, PersonName: "Alice", Embedding: []float32{0, 0}},
		{PersonID: 2, PersonName: "Bob", Embedding: []float32{1, 0}},
		{PersonID: 3, PersonName: "Carol", Embedding: []float32{10, 10}},
	}
	m := NewMatcher(candidates, Options{Tolerance: 0.6})
	if m.Indexed() {
		t.Fatal("expected a small candidate set to use a linear scan")
	}

	tests := []struct {
		name   string
		face   []float32
		wantID int64
		wantOK bool
	}{
		{"closest of two within tolerance", []float32{0.4, 0}, 1, true},
		{"closer to bob", []float32{0.6, 0}, 2, true},
		{"equidistant resolves to lower id", []float32{0.5, 0}, 1, true},
		{"nobody within tolerance", []float32{5, 5}, 0, false},
		{"dimension mismatch never matches", []float32{0, 0, 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Best(tt.face)
			if ok != tt.wantOK || got.PersonID != tt.wantID {
				t.Errorf("Best(%v) = %+v, %v; want person %d, %v", tt.face, got, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestMatchFaces(t *testing.T) {
	candidates := []Candidate{
		{PersonID: 7, PersonName: "Alice", Embedding: []float32{0, 0}},
		{PersonID: 3, PersonName: "Bob", Embedding: []float32{5, 5}},
	}
	m := NewMatcher(candidates, Options{Tolerance: 0.5})

	faces := [][]float32{
		{0.3, 0},   // Alice
		{0.1, 0},   // Alice, closer
		{5, 5.2},   // Bob
		{100, 100}, // stranger
	}
	got := m.MatchFaces(faces)
	if len(got) != 2 {
		t.Fatalf("expected 2 persons, got %+v", got)
	}
	if got[0].PersonID != 3 || got[1].PersonID != 7 {
		t.Errorf("expected matches ordered by person id, got %+v", got)
	}
	if d := got[1].Distance; d > 0.11 {
		t.Errorf("expected the closest Alice face to be kept, got distance %v", d)
	}
	if len(m.MatchFaces(nil)) != 0 {
		t.Error("expected no matches for no faces")
	}
}

func TestMatcherCosine(t *testing.T) {
	m := NewMatcher([]Candidate{{PersonID: 1, Embedding: []float32{1, 0}}}, Options{Metric: Cosine, Tolerance: 0.1})
	if _, ok := m.Best([]float32{10, 0.5}); !ok {
		t.Error("expected a near-parallel vector to match under cosine")
	}
	if _, ok := m.Best([]float32{0, 1}); ok {
		t.Error("expected an orthogonal vector not to match")
	}
}

func TestMatcherHNSW(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const dim = 8
	candidates := make([]Candidate, 60)
	for i := range candidates {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32() * 10
		}
		candidates[i] = Candidate{PersonID: int64(i + 1), Embedding: v}
	}
	// One candidate of a different dimension is still reachable.
	candidates = append(candidates, Candidate{PersonID: 999, Embedding: []float32{1, 1}})

	m := NewMatcher(candidates, Options{Tolerance: 0.5, HNSWMinCandidates: 10})
	if !m.Indexed() {
		t.Fatal("expected the matcher to build an HNSW index")
	}

	for _, want := range []int{0, 17, 59} {
		got, ok := m.Best(candidates[want].Embedding)
		if !ok || got.PersonID != candidates[want].PersonID || got.Distance != 0 {
			t.Errorf("expected exact hit on person %d, got %+v ok=%v", candidates[want].PersonID, got, ok)
		}
	}
	if got, ok := m.Best([]float32{1, 1.1}); !ok || got.PersonID != 999 {
		t.Errorf("expected off-dimension candidate to match, got %+v ok=%v", got, ok)
	}
	if m.Len() != 61 {
		t.Errorf("expected 61 candidates, got %d", m.Len())
	}
}

// clusteredCandidates builds references scattered tightly around one random
// unit centre per person, the way several photos of one face embed.
func clusteredCandidates(rng *rand.Rand, persons, perPerson, dim int, noise float64) ([]Candidate, [][]float32) {
	centres := make([][]float32, persons)
	var candidates []Candidate
	for p := range centres {
		centres[p] = unitVector(rng, dim)
		for range perPerson {
			candidates = append(candidates, Candidate{
				PersonID:  int64(p + 1),
				Embedding: jitter(rng, centres[p], noise),
			})
		}
	}
	return candidates, centres
}

func unitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func jitter(rng *rand.Rand, centre []float32, noise float64) []float32 {
	v := make([]float32, len(centre))
	for i := range v {
		v[i] = centre[i] + float32(rng.NormFloat64()*noise)
	}
	return v
}

func TestIndexedMatcherAgreesWithLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const (
		persons   = 64
		perPerson = 4
		dim       = 128
	)
	candidates, centres := clusteredCandidates(rng, persons, perPerson, dim, 0.02)

	indexed := NewMatcher(candidates, Options{Tolerance: DefaultTolerance})
	linear := NewMatcher(candidates, Options{Tolerance: DefaultTolerance, HNSWMinCandidates: len(candidates) + 1})
	if !indexed.Indexed() {
		t.Fatalf("expected %d candidates to build an index", len(candidates))
	}
	if linear.Indexed() {
		t.Fatal("expected the reference matcher to scan linearly")
	}

	matched := 0
	for q := range 500 {
		person := q % persons
		face := jitter(rng, centres[person], 0.02)
		want, wantOK := linear.Best(face)
		got, ok := indexed.Best(face)
		if ok != wantOK || got != want {
			t.Fatalf("query %d near person %d: indexed %+v ok=%v, linear %+v ok=%v",
				q, person+1, got, ok, want, wantOK)
		}
		if ok {
			matched++
			if got.PersonID != int64(person+1) {
				t.Errorf("query %d: expected person %d, got %d", q, person+1, got.PersonID)
			}
		}
	}
	if matched != 500 {
		t.Errorf("expected every query to match, got %d of 500", matched)
	}

	for q := range 50 {
		face := unitVector(rng, dim)
		if got, ok := indexed.Best(face); ok {
			t.Errorf("stranger %d: expected no match, got %+v", q, got)
		}
	}
}

func TestMatcherToleranceBoundary(t *testing.T) {
	m := NewMatcher([]Candidate{{PersonID: 1, Embedding: []float32{0, 0}}}, Options{Tolerance: 0.5})
	if _, ok := m.Best([]float32{0.5, 0}); !ok {
		t.Error("expected a face exactly at the tolerance to match")
	}
	if _, ok := m.Best([]float32{0.5001, 0}); ok {
		t.Error("expected a face just beyond the tolerance not to match")
	}
	if _, ok := m.Best([]float32{0.4999, 0}); !ok {
		t.Error("expected a face just inside the tolerance to match")
	}
}
