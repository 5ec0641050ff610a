// Package devserver hosts an in-memory implementation of the document
// API for local development and end-to-end tests. It honors the same
// conditional-write contract the production service does: creates
// require `If-None-Match: *`, updates and deletes require `If-Match`
// with the current version, and a rejected write returns the current
// document so the caller can resolve without a second round trip.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
)

// DefaultListen is where `tandem-devserver` binds unless told otherwise.
const DefaultListen = "127.0.0.1:7313"

// Options configures the server. Latency and FailRate exist for retry
// and backoff testing against a lifelike remote.
type Options struct {
	Token    string        // bearer token required on /v1 routes
	Latency  time.Duration // artificial delay added to every request
	FailRate float64       // probability of an injected 503 per /v1 request
	Logger   *slog.Logger
}

// Server is an in-memory document store behind an http.Handler.
type Server struct {
	token     string
	latency   time.Duration
	failRate  float64
	logger    *slog.Logger
	nowFunc   func() time.Time
	randFloat func() float64
	mux       *http.ServeMux

	mu   stdsync.Mutex
	docs map[string]*remote.Document // keyed by collection/id
}

// Wire shapes shared with the client.
type writeRequest struct {
	Fields remote.Fields `json:"fields"`
}

type errorBody struct {
	Error string `json:"error"`
}

// New creates an empty server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		token:     opts.Token,
		latency:   opts.Latency,
		failRate:  opts.FailRate,
		logger:    opts.Logger,
		nowFunc:   time.Now,
		randFloat: rand.Float64,
		docs:      make(map[string]*remote.Document),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/", s.handleDocument)
	s.mux = mux

	return s
}

// ServeHTTP implements http.Handler so tests can mount the server with
// httptest directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Request-Id", uuid.NewString())

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-r.Context().Done():
			return
		}
	}

	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled. Cancellation is the normal
// shutdown path and returns nil.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("devserver: listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	s.logger.Info("devserver listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(sctx)

		return nil
	case err := <-errc:
		return fmt.Errorf("devserver: serve: %w", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
		return
	}

	if s.failRate > 0 && s.randFloat() < s.failRate {
		s.logger.Debug("injecting failure", "method", r.Method, "path", r.URL.Path)
		s.writeError(w, http.StatusServiceUnavailable, "injected failure")

		return
	}

	collection, id, err := splitDocPath(r.URL.Path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, collection, id)
	case http.MethodPut:
		s.handlePut(w, r, collection, id)
	case http.MethodDelete:
		s.handleDelete(w, r, collection, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.token
}

// splitDocPath parses /v1/{collection}/{id}. Collections are fixed by
// the entity kinds the sync core knows about.
func splitDocPath(path string) (collection, id string, err error) {
	rest := strings.TrimPrefix(path, "/v1/")

	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("no route for %s", path)
	}

	collection, id = parts[0], parts[1]
	if !knownCollection(collection) {
		return "", "", fmt.Errorf("unknown collection %q", collection)
	}

	return collection, id, nil
}

func knownCollection(collection string) bool {
	for _, k := range []entity.Kind{entity.KindTask, entity.KindProfile, entity.KindPartnership} {
		if collection == k.Collection() {
			return true
		}
	}

	return false
}

func (s *Server) handleGet(w http.ResponseWriter, collection, id string) {
	s.mu.Lock()
	doc := cloneDoc(s.docs[docKey(collection, id)])
	s.mu.Unlock()

	if doc == nil {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}

	// Tombstones are served as documents with deleted set, so clients
	// can distinguish "deleted" from "never existed".
	s.writeDoc(w, http.StatusOK, doc)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, collection, id string) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	switch {
	case r.Header.Get("If-None-Match") == "*":
		s.handleCreate(w, collection, id, req.Fields)
	case r.Header.Get("If-Match") != "":
		s.handleUpdate(w, r.Header.Get("If-Match"), collection, id, req.Fields)
	default:
		s.writeError(w, http.StatusBadRequest, "write requires If-Match or If-None-Match: *")
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, collection, id string, fields remote.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey(collection, id)

	cur := s.docs[key]
	if cur != nil && !cur.Deleted {
		s.logger.Debug("create rejected", "key", key, "version", cur.Version)
		s.writeDoc(w, http.StatusConflict, cloneDoc(cur))

		return
	}

	// Creating over a tombstone resurrects the id; the version keeps
	// counting so stale clients still see a mismatch.
	version := int64(1)
	if cur != nil {
		version = cur.Version + 1
	}

	doc := &remote.Document{
		Collection:    collection,
		ID:            id,
		Version:       version,
		Fields:        fields.Clone(),
		FieldVersions: make(map[string]int64, len(fields)),
		UpdatedAt:     s.nowFunc().UTC(),
	}
	for name := range fields {
		doc.FieldVersions[name] = version
	}

	s.docs[key] = doc
	s.logger.Debug("document created", "key", key, "version", version)

	s.writeDoc(w, http.StatusCreated, cloneDoc(doc))
}

func (s *Server) handleUpdate(w http.ResponseWriter, etag, collection, id string, fields remote.Fields) {
	base, err := parseVersionETag(etag)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey(collection, id)

	cur := s.docs[key]
	if cur == nil {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}

	if cur.Version != base {
		s.logger.Debug("update rejected", "key", key, "have", cur.Version, "want", base)
		s.writeDoc(w, http.StatusPreconditionFailed, cloneDoc(cur))

		return
	}

	next := cur.Version + 1
	if cur.Fields == nil {
		cur.Fields = make(remote.Fields, len(fields))
	}

	if cur.FieldVersions == nil {
		cur.FieldVersions = make(map[string]int64, len(fields))
	}

	// Partial update: absent fields keep their value. fieldVersions
	// advance only for fields whose value actually changed.
	for name, value := range fields {
		if !remote.ValueEqual(cur.Fields[name], value) {
			cur.FieldVersions[name] = next
		}

		cur.Fields[name] = append(json.RawMessage(nil), value...)
	}

	cur.Version = next
	cur.Deleted = false
	cur.UpdatedAt = s.nowFunc().UTC()

	s.logger.Debug("document updated", "key", key, "version", next)

	s.writeDoc(w, http.StatusOK, cloneDoc(cur))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, collection, id string) {
	etag := r.Header.Get("If-Match")
	if etag == "" {
		s.writeError(w, http.StatusBadRequest, "delete requires If-Match")
		return
	}

	base, err := parseVersionETag(etag)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey(collection, id)

	cur := s.docs[key]
	if cur == nil {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}

	if cur.Version != base {
		s.logger.Debug("delete rejected", "key", key, "have", cur.Version, "want", base)
		s.writeDoc(w, http.StatusPreconditionFailed, cloneDoc(cur))

		return
	}

	// Tombstone keeps the last field values so conflict prompts can
	// show what was deleted.
	cur.Version++
	cur.Deleted = true
	cur.UpdatedAt = s.nowFunc().UTC()

	s.logger.Debug("document deleted", "key", key, "version", cur.Version)

	s.writeDoc(w, http.StatusOK, cloneDoc(cur))
}

func (s *Server) writeDoc(w http.ResponseWriter, status int, doc *remote.Document) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(errorBody{Error: msg}); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

// Seed inserts or replaces a document directly, bypassing the wire
// contract. Test and demo setup only.
func (s *Server) Seed(doc *remote.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneDoc(doc)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.nowFunc().UTC()
	}

	s.docs[docKey(doc.Collection, doc.ID)] = stored
}

// Document returns a copy of the stored document, tombstones included,
// or nil when the id was never written.
func (s *Server) Document(collection, id string) *remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneDoc(s.docs[docKey(collection, id)])
}

// Len reports how many documents are stored, tombstones included.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.docs)
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

// parseVersionETag reverses the client's `"v<N>"` encoding.
func parseVersionETag(etag string) (int64, error) {
	raw := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(etag), `"`), `"`)

	num, ok := strings.CutPrefix(raw, "v")
	if !ok {
		return 0, fmt.Errorf("malformed version etag %q", etag)
	}

	version, err := strconv.ParseInt(num, 10, 64)
	if err != nil || version < 0 {
		return 0, fmt.Errorf("malformed version etag %q", etag)
	}

	return version, nil
}

func cloneDoc(doc *remote.Document) *remote.Document {
	if doc == nil {
		return nil
	}

	out := *doc
	out.Fields = doc.Fields.Clone()

	if doc.FieldVersions != nil {
		out.FieldVersions = make(map[string]int64, len(doc.FieldVersions))
		for k, v := range doc.FieldVersions {
			out.FieldVersions[k] = v
		}
	}

	return &out
}
