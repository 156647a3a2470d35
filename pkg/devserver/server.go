// Package devserver is an in-memory pipeline server speaking the same
// protocol the client expects. It backs `pipedash serve` and the client
// tests.
package devserver

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
)

//go:embed networkmap.json
var defaultNetworkMap []byte

// DefaultUpdateInterval is how often cluster snapshots are pushed.
const DefaultUpdateInterval = 2 * time.Second

// Server is the development pipeline server.
type Server struct {
	catalog  *Catalog
	store    *Store
	logs     *Hub
	updates  *Hub
	logger   *zap.Logger
	validate *validator.Validate
	metrics  *serverMetrics
	registry *prometheus.Registry
	interval time.Duration
	prefix   string

	mu      sync.RWMutex
	network pipeline.ClusterState
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry exposes server metrics on /metrics through reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithUpdateInterval sets the cluster snapshot period. Non-positive values
// keep the default.
func WithUpdateInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithCatalog replaces the built-in node catalog.
func WithCatalog(c *Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithPrefix mounts the pipeline routes somewhere other than /pipeline.
func WithPrefix(p string) Option {
	return func(s *Server) { s.prefix = p }
}

// New builds a server with an empty pipeline store.
func New(opts ...Option) *Server {
	s := &Server{
		logger:   zap.NewNop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		interval: DefaultUpdateInterval,
		prefix:   "/pipeline",
		network:  pipeline.ClusterState(defaultNetworkMap),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = NewCatalog()
	}
	s.store = NewStore(s.catalog)
	s.logs = NewHub("logs", s.logger)
	s.updates = NewHub("cluster-updates", s.logger)
	var reg prometheus.Registerer
	if s.registry != nil {
		reg = s.registry
	}
	s.metrics = newServerMetrics(reg, s)
	return s
}

// Store exposes the pipeline store, mainly for seeding in tests.
func (s *Server) Store() *Store { return s.store }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Route(s.prefix, func(r chi.Router) {
		r.Get("/list-nodes", s.listNodes)
		r.Get("/list", s.listPipelines)
		r.Get("/get/{id}", s.getPipeline)
		r.Delete("/remove/{id}", s.removePipeline)
		r.Put("/create", s.createPipeline)
		r.Post("/add-node/{id}", s.addNode)
		r.Post("/remove-node/{id}", s.removeNode)
		r.Post("/add-edge/{id}", s.addEdge)
		r.Post("/remove-edge/{id}", s.removeEdge)
		r.Get("/plugins", s.listPlugins)
		r.Post("/install-plugin/{name}", s.installPlugin)
		r.Get("/node/source-code/", s.nodeSource)
	})

	r.Get("/mocks/networkMap.json", s.networkMap)
	r.Get("/network", s.networkState)
	r.Get("/cluster-updates", s.clusterUpdates)
	r.Get("/logs", s.logStream)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Run pushes the cluster snapshot to every cluster-updates peer each
// interval until ctx ends, then detaches all peers.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updates.Broadcast(s.snapshot())
		}
	}
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// Close detaches every stream peer.
func (s *Server) Close() {
	s.logs.Close()
	s.updates.Close()
}

// SetNetwork replaces the cluster snapshot and pushes it to peers at once.
func (s *Server) SetNetwork(state pipeline.ClusterState) {
	s.mu.Lock()
	s.network = append(pipeline.ClusterState(nil), state...)
	s.mu.Unlock()
	s.updates.Broadcast(s.snapshot())
}

func (s *Server) snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.network...)
}

// ─── pipeline routes ──────────────────────────────────────────────────────────

type createBody struct {
	Name        string `json:"name" validate:"required_without=Config"`
	Description string `json:"description"`
	Config      string `json:"config"`
}

type nodeBody struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         pipeline.NodeType `json:"type" validate:"omitempty,oneof=SOURCE STEP SINK"`
	RegistryName string            `json:"registry_name" validate:"required_without=ID"`
	Package      string            `json:"package"`
}

func (b nodeBody) node() pipeline.Node {
	return pipeline.Node{ID: b.ID, Name: b.Name, Type: b.Type, RegistryName: b.RegistryName, Package: b.Package}
}

type edgeRef struct {
	ID string `json:"id" validate:"required"`
}

type edgeBody struct {
	Source edgeRef `json:"source" validate:"required"`
	Sink   edgeRef `json:"sink" validate:"required"`
	ID     string  `json:"id"`
}

func (s *Server) listNodes(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.catalog.Templates())
}

func (s *Server) listPipelines(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.Get(id)
	if err != nil {
		s.fail(w, "get_pipeline", err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) removePipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.Remove(id)
	if err != nil {
		s.fail(w, "remove_pipeline", err)
		return
	}
	s.mutated("remove_pipeline", p.ID, "removed pipeline %q", p.Name)
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) createPipeline(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if !s.decode(w, r, "create_pipeline", &body) {
		return
	}
	if body.Config != "" {
		cfg, err := pipeline.DecodeImportConfig(body.Config)
		if err != nil {
			s.fail(w, "import_pipeline", fmt.Errorf("%w: %w", ErrInvalidImport, err))
			return
		}
		p, err := s.store.Import(cfg)
		if err != nil {
			s.fail(w, "import_pipeline", err)
			return
		}
		s.mutated("import_pipeline", p.ID, "imported pipeline with %d nodes", len(p.Nodes))
		s.respondJSON(w, http.StatusOK, p)
		return
	}
	p := s.store.Create(body.Name, body.Description)
	s.mutated("create_pipeline", p.ID, "created pipeline %q", p.Name)
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) addNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	var body nodeBody
	if !s.decode(w, r, "add_node", &body) {
		return
	}
	n, err := s.store.AddNode(id, body.node())
	if err != nil {
		s.fail(w, "add_node", err)
		return
	}
	s.mutated("add_node", id, "added node %s (%s)", n.ID, n.Type)
	s.respondJSON(w, http.StatusOK, n)
}

func (s *Server) removeNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	var body nodeBody
	if !s.decode(w, r, "remove_node", &body) {
		return
	}
	n, err := s.store.RemoveNode(id, body.node())
	if err != nil {
		s.fail(w, "remove_node", err)
		return
	}
	s.mutated("remove_node", id, "removed node %s", n.ID)
	s.respondJSON(w, http.StatusOK, n)
}

func (s *Server) addEdge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	var body edgeBody
	if !s.decode(w, r, "add_edge", &body) {
		return
	}
	e, err := s.store.AddEdge(id, pipeline.Node{ID: body.Source.ID}, pipeline.Node{ID: body.Sink.ID}, body.ID)
	if err != nil {
		s.fail(w, "add_edge", err)
		return
	}
	s.mutated("add_edge", id, "linked %s -> %s", e.Source, e.Sink)
	s.respondJSON(w, http.StatusOK, e)
}

func (s *Server) removeEdge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	var body edgeBody
	if !s.decode(w, r, "remove_edge", &body) {
		return
	}
	e, err := s.store.RemoveEdge(id, pipeline.Node{ID: body.Source.ID}, pipeline.Node{ID: body.Sink.ID}, body.ID)
	if err != nil {
		s.fail(w, "remove_edge", err)
		return
	}
	s.mutated("remove_edge", id, "unlinked %s -> %s", e.Source, e.Sink)
	s.respondJSON(w, http.StatusOK, e)
}

func (s *Server) listPlugins(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.catalog.Plugins())
}

func (s *Server) installPlugin(w http.ResponseWriter, r *http.Request) {
	name, ok := s.pathParam(w, r, "name")
	if !ok {
		return
	}
	nodes, err := s.catalog.Install(name)
	if err != nil {
		s.fail(w, "install_plugin", err)
		return
	}
	s.mutated("install_plugin", "", "installed plugin %q (%d nodes)", name, len(nodes))
	s.respondJSON(w, http.StatusOK, nodes)
}

func (s *Server) nodeSource(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src, err := s.catalog.Source(q.Get("registry_name"), q.Get("package"))
	if err != nil {
		s.fail(w, "node_source_code", err)
		return
	}
	s.respondJSON(w, http.StatusOK, src)
}

// ─── cluster routes ───────────────────────────────────────────────────────────

func (s *Server) networkMap(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(defaultNetworkMap)
}

func (s *Server) networkState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.snapshot())
}

func (s *Server) clusterUpdates(w http.ResponseWriter, r *http.Request) {
	s.updates.Serve(w, r, s.snapshot())
}

func (s *Server) logStream(w http.ResponseWriter, r *http.Request) {
	s.logs.Serve(w, r, nil)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// logEvent is one frame of the /logs stream.
type logEvent struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Operation string    `json:"operation"`
	Pipeline  string    `json:"pipeline,omitempty"`
	Message   string    `json:"message"`
}

func (s *Server) mutated(op, pipelineID, format string, args ...any) {
	s.metrics.mutations.WithLabelValues(op).Inc()
	ev := logEvent{
		Time:      time.Now().UTC(),
		Level:     "INFO",
		Operation: op,
		Pipeline:  pipelineID,
		Message:   fmt.Sprintf(format, args...),
	}
	s.logger.Info(ev.Message, zap.String("operation", op), zap.String("pipeline", pipelineID))
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encode log event", zap.Error(err))
		return
	}
	s.logs.Broadcast(data)
}

// pathParam returns a URL parameter with its percent-encoding removed. The
// router matches on RawPath when the request carries one, and that only
// happens when the escaped form differs from the default encoding (an
// escaped '/', say). Otherwise the parameter comes from the decoded Path and
// must not be unescaped a second time.
func (s *Server) pathParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := chi.URLParam(r, key)
	var err error
	if r.URL.RawPath != "" {
		v, err = url.PathUnescape(v)
	}
	if err != nil || v == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", key))
		return "", false
	}
	return v, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.reject(w, op, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.reject(w, op, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// fail maps a store or catalog error onto a status code.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.reject(w, op, statusFor(err), err.Error())
}

func (s *Server) reject(w http.ResponseWriter, op string, code int, msg string) {
	s.metrics.rejected.WithLabelValues(op, strconv.Itoa(code)).Inc()
	s.logger.Debug("request rejected", zap.String("operation", op), zap.Int("code", code), zap.String("reason", msg))
	s.respondError(w, code, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidImport):
		return http.StatusBadRequest
	case errors.Is(err, ErrPipelineNotFound),
		errors.Is(err, ErrEdgeNotFound),
		errors.Is(err, ErrUnknownTemplate),
		errors.Is(err, ErrUnknownPlugin),
		errors.Is(err, ErrNoSource),
		errors.Is(err, pipeline.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNodeLinked),
		errors.Is(err, ErrDuplicatePipeline),
		errors.Is(err, ErrDuplicateEdge):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrInvalidLink),
		errors.Is(err, pipeline.ErrUnknownNodeType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.EscapedPath()),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		})
	}
}
