// ABOUTME: HTTP routes and handlers for taskd.
// ABOUTME: Owners are resolved from bearer tokens; every query is scoped to the owner.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server bundles state for taskd handlers.
type Server struct {
	store        *taskStore
	tokens       map[string]string // sha256(token) -> owner
	log          logrus.FieldLogger
	limiters     *rateLimiterStore // per owner
	healthLimits *rateLimiterStore // per client IP
	trustProxy   bool
}

func newServer(store *taskStore, tokens map[string]string, log logrus.FieldLogger) *Server {
	return &Server{
		store:        store,
		tokens:       tokens,
		log:          log,
		limiters:     newRateLimiterStore(DefaultRateLimitConfig()),
		healthLimits: newRateLimiterStore(HealthRateLimitConfig()),
	}
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withRequestLog)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/v1/health", s.withIPRateLimit(s.handleHealth)).Methods(http.MethodGet)

	r.HandleFunc("/v1/tasks", s.withAuth(s.handleListTasks)).Methods(http.MethodGet)
	r.HandleFunc("/v1/tasks", s.withAuth(s.handleCreateTask)).Methods(http.MethodPost)
	r.HandleFunc("/v1/tasks/{id}", s.withAuth(s.handleUpdateTask)).Methods(http.MethodPatch)
	r.HandleFunc("/v1/tasks/{id}", s.withAuth(s.handleDeleteTask)).Methods(http.MethodDelete)

	r.HandleFunc("/v1/profile", s.withAuth(s.handleGetProfile)).Methods(http.MethodGet)
	r.HandleFunc("/v1/profile", s.withAuth(s.handlePutProfile)).Methods(http.MethodPut)
	return r
}

// middleware

type ctxOwnerKey struct{}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ctxOwnerKey{}).(string)
	return owner
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := s.authOwner(r)
		if err != nil {
			fail(w, http.StatusUnauthorized, err.Error())
			return
		}
		if s.limiters != nil && !s.limiters.get(owner).Allow() {
			fail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxOwnerKey{}, owner)))
	}
}

func (s *Server) authOwner(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	owner, ok := s.tokens[hashToken(raw)]
	if !ok {
		return "", errors.New("invalid token")
	}
	return owner, nil
}

func (s *Server) withIPRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.healthLimits != nil && !s.healthLimits.get(getClientIP(r, s.trustProxy)).Allow() {
			fail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"device_id":  r.Header.Get("X-Device-Id"),
			"request_id": reqID,
			"duration":   time.Since(start).String(),
		}).Debug("request")
	})
}

// health

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{"ok": true, "time": time.Now().Unix()})
}

// tasks

type createReq struct {
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.list(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.internal(w, "list tasks", err)
		return
	}
	ok(w, map[string]any{"items": items})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid json")
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	t, replayed, err := s.store.create(r.Context(), ownerFrom(r.Context()), key, req.Fields, req.CreatedAt)
	if err != nil {
		s.internal(w, "create task", err)
		return
	}
	if replayed {
		ok(w, t)
		return
	}
	reply(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, valid := taskID(r)
	if !valid {
		fail(w, http.StatusNotFound, "task not found")
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		fail(w, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := s.store.update(r.Context(), ownerFrom(r.Context()), id, patch)
	if errors.Is(err, errNotFound) {
		fail(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.internal(w, "update task", err)
		return
	}
	ok(w, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, valid := taskID(r)
	if !valid {
		fail(w, http.StatusNotFound, "task not found")
		return
	}
	err := s.store.delete(r.Context(), ownerFrom(r.Context()), id)
	if errors.Is(err, errNotFound) {
		fail(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.internal(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// taskID parses the path id. Ids the server never issued are not found.
func taskID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// profile

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.profile(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.internal(w, "get profile", err)
		return
	}
	ok(w, p)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var p profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		fail(w, http.StatusBadRequest, "invalid json")
		return
	}
	out, err := s.store.putProfile(r.Context(), ownerFrom(r.Context()), p)
	if err != nil {
		s.internal(w, "put profile", err)
		return
	}
	ok(w, out)
}

// helpers

func (s *Server) internal(w http.ResponseWriter, op string, err error) {
	s.log.WithError(err).WithField("op", op).Error("request failed")
	fail(w, http.StatusInternalServerError, "internal error")
}

func ok(w http.ResponseWriter, v any) {
	reply(w, http.StatusOK, v)
}

func reply(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, code int, msg string) {
	reply(w, code, map[string]any{"error": msg})
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
