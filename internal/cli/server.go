package cli

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/pkg/inference"
	"github.com/yairfalse/keenstamp/pkg/metrics"
	"github.com/yairfalse/keenstamp/pkg/version"
)

// StatusResponse is served on /status
type StatusResponse struct {
	Status          string              `json:"status"`
	Version         string              `json:"version"`
	Timestamp       time.Time           `json:"timestamp"`
	Inference       bool                `json:"inference_enabled"`
	Cursors         map[string][]string `json:"cursors"`
	DisabledStreams []string            `json:"disabled_streams"`
}

func newStatusRouter(collector *metrics.Collector, engine *inference.Engine) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Status:          "ok",
			Version:         version.Get().Version,
			Timestamp:       time.Now().UTC(),
			Inference:       engine.Enabled(),
			Cursors:         engine.Cursors(),
			DisabledStreams: engine.DisabledStreams(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)
	return router
}

func startStatusServer(logger *zap.Logger, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting metrics endpoint", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()
	return srv
}
