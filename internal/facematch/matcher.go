package facematch

import (
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

const (
	// DefaultTolerance is the reference face_recognition tolerance.
	DefaultTolerance = 0.5
	// DefaultHNSWMinCandidates is the candidate count from which the matcher
	// switches from a linear scan to an HNSW graph.
	DefaultHNSWMinCandidates = 256

	hnswMaxNeighbors = 16
	hnswSearchK      = 16
)

// Candidate is one known face a detected face is compared against.
type Candidate struct {
	PersonID   int64
	PersonName string
	Embedding  []float32
}

// Match is a detected face attributed to a known person.
type Match struct {
	PersonID   int64
	PersonName string
	Distance   float64
}

// Options configures a Matcher.
type Options struct {
	Metric            Metric
	Tolerance         float64
	HNSWMinCandidates int
}

// Matcher attributes faces to the closest known candidate within tolerance.
// The candidate set is fixed at construction. A Matcher is safe for
// concurrent use.
type Matcher struct {
	candidates []Candidate
	metric     Metric
	tolerance  float64

	// index covers the candidates of the dominant dimension when the set is
	// large. It only seeds the search bound; every candidate is still checked.
	index *hnsw.Graph[int]
	dim   int
	mu    sync.Mutex
}

// NewMatcher builds a matcher over candidates.
func NewMatcher(candidates []Candidate, opts Options) *Matcher {
	if opts.Metric == "" {
		opts.Metric = Euclidean
	}
	if opts.HNSWMinCandidates <= 0 {
		opts.HNSWMinCandidates = DefaultHNSWMinCandidates
	}
	m := &Matcher{
		candidates: candidates,
		metric:     opts.Metric,
		tolerance:  opts.Tolerance,
	}
	if len(candidates) >= opts.HNSWMinCandidates {
		m.buildIndex()
	}
	return m
}

func (m *Matcher) buildIndex() {
	dims := make(map[int]int)
	for _, c := range m.candidates {
		if len(c.Embedding) > 0 {
			dims[len(c.Embedding)]++
		}
	}
	for d, n := range dims {
		if n > dims[m.dim] || (n == dims[m.dim] && d < m.dim) {
			m.dim = d
		}
	}

	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	if m.metric == Cosine {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	for i, c := range m.candidates {
		if len(c.Embedding) == m.dim {
			g.Add(hnsw.MakeNode(i, c.Embedding))
		}
	}
	m.index = g
}

// Len returns the number of candidates.
func (m *Matcher) Len() int {
	return len(m.candidates)
}

// Tolerance returns the tolerance the matcher applies.
func (m *Matcher) Tolerance() float64 {
	return m.tolerance
}

// Indexed reports whether the matcher searches an HNSW graph.
func (m *Matcher) Indexed() bool {
	return m.index != nil
}

// Best returns the closest candidate to face within tolerance. Equal
// distances are resolved in favour of the lower person id. The result is the
// same with or without an index: graph neighbours only tighten the bound
// under which the remaining candidates are abandoned early.
func (m *Matcher) Best(face []float32) (Match, bool) {
	var (
		best  Match
		found bool
	)
	consider := func(i int) {
		c := m.candidates[i]
		limit := m.tolerance
		if found {
			limit = min(limit, best.Distance)
		}
		d, ok := m.distanceWithin(face, c.Embedding, limit)
		if !ok {
			return
		}
		if !found || d < best.Distance || (d == best.Distance && c.PersonID < best.PersonID) {
			best = Match{PersonID: c.PersonID, PersonName: c.PersonName, Distance: d}
			found = true
		}
	}

	if m.index != nil && m.dim > 0 && len(face) == m.dim {
		m.mu.Lock()
		neighbors := m.index.Search(face, hnswSearchK)
		m.mu.Unlock()
		for _, n := range neighbors {
			consider(n.Key)
		}
	}
	for i := range m.candidates {
		consider(i)
	}
	return best, found
}

// distanceWithin returns the distance between face and candidate when it is
// within limit. Euclidean sums stop as soon as they exceed the limit.
func (m *Matcher) distanceWithin(face, candidate []float32, limit float64) (float64, bool) {
	if m.metric == Cosine || len(face) != len(candidate) || len(face) == 0 {
		d := m.metric.Distance(face, candidate)
		return d, WithinTolerance(d, limit)
	}
	// Slack keeps rounding from abandoning a candidate exactly at the limit.
	abandon := limit*limit*(1+1e-9) + 1e-12
	var sum float64
	for i := range face {
		diff := float64(face[i]) - float64(candidate[i])
		sum += diff * diff
		if sum > abandon {
			return 0, false
		}
	}
	d := math.Sqrt(sum)
	return d, WithinTolerance(d, limit)
}

// MatchFaces attributes every face independently and returns one Match per
// matched person, keeping the closest face, ordered by person id.
func (m *Matcher) MatchFaces(faces [][]float32) []Match {
	byPerson := make(map[int64]Match)
	for _, face := range faces {
		match, ok := m.Best(face)
		if !ok {
			continue
		}
		if prev, seen := byPerson[match.PersonID]; !seen || match.Distance < prev.Distance {
			byPerson[match.PersonID] = match
		}
	}
	out := make([]Match, 0, len(byPerson))
	for _, match := range byPerson {
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out
}
