package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// ProgressSource is satisfied by progress.Tracker.
type ProgressSource interface {
	Latest() (crawler.Progress, bool)
	History() []crawler.Progress
}

// ProgressHandler exposes read-only crawl progress endpoints.
type ProgressHandler struct {
	source ProgressSource
	logger *zap.Logger
}

// NewProgressHandler wires the source and logger.
func NewProgressHandler(source ProgressSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{source: source, logger: logger}
}

// Latest handles GET /v1/progress. It returns 404 until the first round has
// been reported and 503 when no tracker is wired.
func (h *ProgressHandler) Latest(w http.ResponseWriter, _ *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracker unavailable")
		return
	}
	p, ok := h.source.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no progress reported yet")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// History handles GET /v1/progress/history?limit=. It returns the most recent
// reports, oldest first, as {"progress": [...]}.
func (h *ProgressHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracker unavailable")
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history := h.source.History()
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": history})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
