// Package http serves the entries of a monitor.Store as JSON.
//
// Routes:
//
//	GET    /v1/monitor/entries                  list, filtered by query parameters
//	GET    /v1/monitor/entries/count            count, same filters
//	GET    /v1/monitor/entries/{id}             one entry
//	GET    /v1/monitor/dispatches/{dispatch_id} every entry of one firing call
//	DELETE /v1/monitor/entries?older_than=48h   cleanup
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ttasket/qubes-events/monitor"
)

// DefaultDeleteAge is the minimum age for deletion without force flag.
const DefaultDeleteAge = 24 * time.Hour

// Handler implements http.Handler for a monitor store.
type Handler struct {
	store  monitor.Store
	mux    *http.ServeMux
	logger *slog.Logger
}

// New creates a new HTTP handler for store. A nil logger uses slog.Default.
func New(store monitor.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		store:  store,
		mux:    http.NewServeMux(),
		logger: logger.With("component", "monitor>http"),
	}
	h.mux.HandleFunc("GET /v1/monitor/entries", h.handleList)
	h.mux.HandleFunc("DELETE /v1/monitor/entries", h.handleDelete)
	h.mux.HandleFunc("GET /v1/monitor/entries/count", h.handleCount)
	h.mux.HandleFunc("GET /v1/monitor/entries/{id}", h.handleGet)
	h.mux.HandleFunc("GET /v1/monitor/dispatches/{dispatch_id}", h.handleDispatch)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type countResponse struct {
	Count int64 `json:"count"`
}

type dispatchResponse struct {
	DispatchID string           `json:"dispatch_id"`
	Entries    []*monitor.Entry `json:"entries"`
}

type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := h.store.List(r.Context(), filter)
	if errors.Is(err, monitor.ErrInvalidCursor) {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if page.Entries == nil {
		page.Entries = []*monitor.Entry{}
	}
	h.writeJSON(w, page)
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	count, err := h.store.Count(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, countResponse{Count: count})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entry == nil {
		h.writeError(w, http.StatusNotFound, monitor.ErrEntryNotFound)
		return
	}
	h.writeJSON(w, entry)
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("dispatch_id")
	entries, err := h.store.GetByDispatchID(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*monitor.Entry{}
	}
	h.writeJSON(w, dispatchResponse{DispatchID: id, Entries: entries})
}

// handleDelete only removes entries younger than DefaultDeleteAge when
// force=true is given.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	age := DefaultDeleteAge
	if v := q.Get("older_than"); v != "" {
		var err error
		age, err = time.ParseDuration(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid older_than: %w", err))
			return
		}
		if age <= 0 {
			h.writeError(w, http.StatusBadRequest, errors.New("older_than must be positive"))
			return
		}
	}
	if age < DefaultDeleteAge && q.Get("force") != "true" {
		h.writeError(w, http.StatusBadRequest, errors.New("deleting entries newer than 24h requires force=true"))
		return
	}

	deleted, err := h.store.DeleteOlderThan(r.Context(), age)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.logger.Info("monitor entries deleted", "older_than", age, "deleted", deleted)
	h.writeJSON(w, deleteResponse{Deleted: deleted})
}

// parseFilter builds a monitor.Filter from the query string.
func parseFilter(r *http.Request) (monitor.Filter, error) {
	q := r.URL.Query()
	filter := monitor.Filter{
		DispatchID: q.Get("dispatch_id"),
		Type:       q.Get("type"),
		Event:      q.Get("event"),
		Phase:      q.Get("phase"),
		Node:       q.Get("node"),
		Handler:    q.Get("handler"),
		Cursor:     q.Get("cursor"),
	}
	for _, s := range q["status"] {
		filter.Status = append(filter.Status, monitor.Status(s))
	}
	if v := q.Get("has_error"); v != "" {
		hasErr, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid has_error: %w", err)
		}
		filter.HasError = &hasErr
	}
	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid start_time: %w", err)
		}
		filter.StartTime = t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid end_time: %w", err)
		}
		filter.EndTime = t
	}
	if v := q.Get("min_duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return filter, fmt.Errorf("invalid min_duration: %w", err)
		}
		filter.MinDuration = d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("invalid limit: %w", err)
		}
		filter.Limit = n
	}
	if v := q.Get("order_desc"); v != "" {
		desc, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid order_desc: %w", err)
		}
		filter.OrderDesc = desc
	}
	return filter, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		h.logger.Error("monitor request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
