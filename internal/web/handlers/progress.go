package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/face-sorter/internal/coordinator"
)

// ProgressSource exposes the counters of the current run.
type ProgressSource interface {
	Progress() coordinator.Progress
}

// ProgressHandler serves run progress. It only reads counters.
type ProgressHandler struct {
	source   ProgressSource
	interval time.Duration
}

// NewProgressHandler creates a progress handler that pushes events every
// interval on the stream endpoint.
func NewProgressHandler(source ProgressSource, interval time.Duration) *ProgressHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressHandler{source: source, interval: interval}
}

// Get returns the current progress.
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.source.Progress())
}

// Events streams progress as server-sent events until the client leaves.
// An event is sent when the counters change and once at connect.
func (h *ProgressHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	last := h.source.Progress()
	sendSSEEvent(w, flusher, "progress", last)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			p := h.source.Progress()
			if p == last {
				continue
			}
			last = p
			sendSSEEvent(w, flusher, "progress", p)
		}
	}
}
