package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/logging"
)

const statsCacheTTL = 10 * time.Second

// StatsReader is the part of the store the stats endpoints read.
type StatsReader interface {
	Stats(ctx context.Context) (*database.Stats, error)
	ListPersons(ctx context.Context) ([]database.Person, error)
}

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get(now time.Time) (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || now.After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = now.Add(statsCacheTTL)
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	FilePaths int `json:"file_paths"`
	Images    int `json:"images"`
	Vectors   int `json:"vectors"`
	Persons   int `json:"persons"`
	Matches   int `json:"matches"`
}

// PersonResponse is one known identity.
type PersonResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// StatsHandler serves store statistics.
type StatsHandler struct {
	store  StatsReader
	logger *slog.Logger
	cache  statsCache
	now    func() time.Time
}

func NewStatsHandler(store StatsReader, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{store: store, logger: logging.Component(logger, "web"), now: time.Now}
}

// Get returns row counts of the store. Results are cached briefly so a
// polling dashboard does not add load to a running store.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(h.now()); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Warn("failed to read stats", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	resp := &StatsResponse{
		FilePaths: stats.FilePaths,
		Images:    stats.Images,
		Vectors:   stats.Vectors,
		Persons:   stats.Persons,
		Matches:   stats.Matches,
	}
	h.cache.set(resp, h.now())
	respondJSON(w, http.StatusOK, resp)
}

// Persons lists the known identities.
func (h *StatsHandler) Persons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.store.ListPersons(r.Context())
	if err != nil {
		h.logger.Warn("failed to list persons", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list persons")
		return
	}
	out := make([]PersonResponse, len(persons))
	for i, p := range persons {
		out[i] = PersonResponse{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
	}
	respondJSON(w, http.StatusOK, out)
}
