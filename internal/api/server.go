package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/dashboard"
	"github.com/arqiarkaan/enviro-dashboard/internal/history"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	"github.com/arqiarkaan/enviro-dashboard/internal/settings"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const (
	apiPrefix         = "/api"
	requestIDHeader   = "X-Request-ID"
	readHeaderTimeout = 10 * time.Second
)

// Dashboard is the view and command surface served over HTTP
type Dashboard interface {
	Status() dashboard.Status
	History(n history.SampleCount) ([]history.Row, error)
	DefaultWindow() history.SampleCount
	Export(n history.SampleCount) (history.Artifact, error)
	UpdateSettings(ctx context.Context, e settings.Edit) (map[string]any, error)
	SetFanMode(ctx context.Context, manual bool) error
	SetFanState(ctx context.Context, on bool) error
	Watch() (<-chan struct{}, func())
	Started() bool
}

type options struct {
	accessLog io.Writer
	metrics   http.Handler
}

type Option func(*options)

// WithAccessLog writes an Apache combined log line per request to w
func WithAccessLog(w io.Writer) Option {
	return func(o *options) {
		o.accessLog = w
	}
}

// WithMetrics serves h on /metrics
func WithMetrics(h http.Handler) Option {
	return func(o *options) {
		o.metrics = h
	}
}

type server struct {
	dash Dashboard
	log  logger.Logger
}

// NewRouter registers every endpoint on a fresh router
func NewRouter(d Dashboard, log logger.Logger, opts ...Option) http.Handler {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	s := &server{dash: d, log: log}
	r := mux.NewRouter()
	r.Use(requestID)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	// Full paths on the root router; a PathPrefix subrouter answers a method
	// mismatch with 404.
	r.HandleFunc(apiPrefix+"/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/history/export", s.handleExport).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/settings", s.handleSettings).Methods(http.MethodPatch)
	r.HandleFunc(apiPrefix+"/fan/mode", s.handleFanMode).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/fan/state", s.handleFanState).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/live", s.handleLive).Methods(http.MethodGet)

	if o.metrics != nil {
		r.Handle("/metrics", o.metrics).Methods(http.MethodGet)
	}

	var h http.Handler = r
	if o.accessLog != nil {
		h = handlers.CombinedLoggingHandler(o.accessLog, h)
	}
	return h
}

// NewServer wraps the router in an http.Server listening on addr
func NewServer(addr string, d Dashboard, log logger.Logger, opts ...Option) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d, log, opts...),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// requestID tags each request with an id, reusing one sent by the client
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
