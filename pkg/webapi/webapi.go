// This file is to handle things such as metrics/health/pprof, etc

package webapi

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// TopologyProvider yields the current cluster topology for the debug
// endpoint.  The returned value is marshalled to JSON as-is.
type TopologyProvider func() interface{}

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	httpServer    *http.Server
}

func newWebServer(opts WebServerOptions) *WebServer {
	return &WebServer{
		logger:        opts.Logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
	}
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the msgbus internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if !globalSystemHealth.Load() {
		rw.WriteHeader(503)
		_, err := rw.Write([]byte("unhealthy"))
		if err != nil {
			w.logger.Debug("failed to write health response", zap.Error(err))
		}
		return
	}

	rw.WriteHeader(200)
	_, err := rw.Write([]byte("healthy"))
	if err != nil {
		w.logger.Debug("failed to write health response", zap.Error(err))
	}
}

func (w *WebServer) handleTopology(rw http.ResponseWriter, r *http.Request) {
	provider := globalTopologyProvider.Load()
	if provider == nil {
		rw.WriteHeader(404)
		return
	}

	data, err := json.Marshal((*provider)())
	if err != nil {
		w.logger.Debug("failed to marshal topology response", zap.Error(err))
		rw.WriteHeader(500)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(200)
	_, err = rw.Write(data)
	if err != nil {
		w.logger.Debug("failed to write topology response", zap.Error(err))
	}
}

func (w *WebServer) ListenAndServe() error {
	r := mux.NewRouter()
	r.Use(newStatsMiddleware(w.logger))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth)
	r.HandleFunc("/debug/topology", w.handleTopology)
	if w.logLevel != nil {
		r.Handle("/debug/loglevel", w.logLevel)
	}
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.HandleFunc("/", w.handleRoot)

	w.httpServer = &http.Server{
		Handler:     cors.AllowAll().Handler(r),
		Addr:        w.listenAddress,
		ReadTimeout: 10 * time.Second,
		// must be long enough for a default 30s cpu profile capture
		WriteTimeout: 60 * time.Second,
	}

	return w.httpServer.ListenAndServe()
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil
var globalSystemHealth atomic.Bool
var globalTopologyProvider atomic.Pointer[TopologyProvider]

// MarkSystemHealthy flips the /health endpoint to reporting healthy.  The
// daemon calls this once it has joined the cluster and started serving.
func MarkSystemHealthy() {
	globalSystemHealth.Store(true)
}

// MarkSystemUnhealthy flips the /health endpoint back to reporting
// unhealthy, typically while shutting down.
func MarkSystemUnhealthy() {
	globalSystemHealth.Store(false)
}

// SetTopologyProvider installs the callback backing /debug/topology.
func SetTopologyProvider(provider TopologyProvider) {
	globalTopologyProvider.Store(&provider)
}

func InitializeWebServer(opts WebServerOptions) {
	globalWebLock.Lock()
	if globalWebServer != nil {
		globalWebLock.Unlock()
		return
	}

	globalWebServer = newWebServer(opts)
	globalWebLock.Unlock()
	go func() {
		err := globalWebServer.ListenAndServe()
		if err != nil {
			opts.Logger.Error("Failed to listen and serve web server", zap.Error(err))
		}
	}()
}
