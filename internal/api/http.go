package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aridsondez/tagqueue/internal/queue"
)

type Server struct {
	queue   *queue.Queue
	health  func(context.Context) error
	log     *slog.Logger
	timeout time.Duration
}

type Option func(*Server)

// WithHealthcheck makes /healthz report backend failures.
func WithHealthcheck(fn func(context.Context) error) Option {
	return func(s *Server) {
		s.health = fn
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func NewServer(addr string, q *queue.Queue, opts ...Option) *http.Server {
	srv := &Server{
		queue:   q,
		log:     slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: srv.timeout,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// enqueue: POST /v1/tags/{tag}/messages
		r.Post("/tags/{tag}/messages", s.handleEnqueue)

		// list: GET /v1/tags/{tag}/messages?include_scheduled=true
		r.Get("/tags/{tag}/messages", s.handleList)

		// count: GET /v1/tags/{tag}/count?include_scheduled=true
		r.Get("/tags/{tag}/count", s.handleCount)

		// dequeue: POST /v1/tags/{tag}:dequeue
		r.Post("/tags/{tag}:dequeue", s.handleDequeue)

		// cancel: DELETE /v1/messages/{id}
		r.Delete("/messages/{id}", s.handleCancel)
	})
	return r
}

type enqueueRequest struct {
	Body     json.RawMessage `json:"body"`
	DelayMS  int64           `json:"delay_ms,omitempty"`
	Schedule *time.Time      `json:"schedule,omitempty"`
}

type enqueueResponse struct {
	ID int64 `json:"id"`
}

type messageResponse struct {
	ID          int64           `json:"id"`
	Tag         string          `json:"tag"`
	Body        json.RawMessage `json:"body"`
	CreatedAt   time.Time       `json:"created_at"`
	ExceptTimes int             `json:"except_times"`
	Schedule    *time.Time      `json:"schedule,omitempty"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type cancelResponse struct {
	OK bool `json:"ok"`
}

// ---------- Handlers ----------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "unhealthy: %v", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	tag, ok := tagParam(w, r)
	if !ok {
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if len(req.Body) == 0 || string(req.Body) == "null" {
		httpError(w, http.StatusBadRequest, "`body` is required")
		return
	}
	if req.DelayMS < 0 {
		httpError(w, http.StatusBadRequest, "`delay_ms` must not be negative")
		return
	}

	var opts []queue.EnqueueOption
	switch {
	case req.Schedule != nil:
		opts = append(opts, queue.WithSchedule(*req.Schedule))
	case req.DelayMS > 0:
		opts = append(opts, queue.WithDelay(time.Duration(req.DelayMS)*time.Millisecond))
	}

	id, err := s.queue.Enqueue(r.Context(), tag, req.Body, opts...)
	if err != nil {
		s.queueError(w, r, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusCreated, &enqueueResponse{ID: id})
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	tag, ok := tagParam(w, r)
	if !ok {
		return
	}
	m, err := s.queue.DequeueImmediate(r.Context(), tag)
	if err != nil {
		s.queueError(w, r, "dequeue", err)
		return
	}
	if m == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(m))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tag, ok := tagParam(w, r)
	if !ok {
		return
	}
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}
	msgs, err := s.queue.List(r.Context(), tag, opts...)
	if err != nil {
		s.queueError(w, r, "list", err)
		return
	}
	resp := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		resp = append(resp, toResponse(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	tag, ok := tagParam(w, r)
	if !ok {
		return
	}
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}
	n, err := s.queue.Count(r.Context(), tag, opts...)
	if err != nil {
		s.queueError(w, r, "count", err)
		return
	}
	writeJSON(w, http.StatusOK, &countResponse{Count: n})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid id: %v", err)
		return
	}
	ok, err := s.queue.Cancel(r.Context(), id)
	if err != nil {
		s.queueError(w, r, "cancel", err)
		return
	}
	if !ok {
		// gone already, or in someone's custody
		httpError(w, http.StatusNotFound, "message not found or in progress")
		return
	}
	writeJSON(w, http.StatusOK, &cancelResponse{OK: true})
}

// ---------- helpers ----------

// tagParam returns the {tag} segment. chi matches on the escaped path when
// the request has one, so the segment is unescaped in that case.
func tagParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tag := chi.URLParam(r, "tag")
	if r.URL.RawPath == "" {
		return tag, true
	}
	tag, err := url.PathUnescape(tag)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid tag: %v", err)
		return "", false
	}
	return tag, true
}

func listOptions(w http.ResponseWriter, r *http.Request) ([]queue.ListOption, bool) {
	v := r.URL.Query().Get("include_scheduled")
	if v == "" {
		return nil, true
	}
	include, err := strconv.ParseBool(v)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid include_scheduled: %v", err)
		return nil, false
	}
	if include {
		return []queue.ListOption{queue.IncludeScheduled()}, true
	}
	return nil, true
}

func toResponse(m *queue.Message) messageResponse {
	body := json.RawMessage(m.Content)
	if !json.Valid(body) {
		// raw codec content that is not JSON goes out as a string
		body, _ = json.Marshal(m.Content)
	}
	return messageResponse{
		ID:          m.ID,
		Tag:         m.Tag,
		Body:        body,
		CreatedAt:   m.CreatedAt,
		ExceptTimes: m.ExceptTimes,
		Schedule:    m.Schedule,
	}
}

func (s *Server) queueError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidTag):
		httpError(w, http.StatusBadRequest, "%v", err)
	case errors.Is(err, queue.ErrContentTooLong):
		httpError(w, http.StatusRequestEntityTooLarge, "%v", err)
	default:
		s.log.ErrorContext(r.Context(), op+" failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		httpError(w, http.StatusInternalServerError, "%s failed", op)
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
