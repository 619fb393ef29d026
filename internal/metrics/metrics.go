package metrics

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce    sync.Once
	serverMutex sync.Mutex
	currentSrv  *http.Server
)

// Init creates and registers all metrics with the default registry.
// Safe to call multiple times.
func Init() {
	initOnce.Do(func() {
		initPrepMetrics()
		registerPrepMetrics(prometheus.DefaultRegisterer)
		LastRunTimestamp.Set(0)
	})
}

// StartServer serves /metrics and /health on addr in the background and
// returns the bound address.
func StartServer(addr string, logger *log.Logger) (string, error) {
	serverMutex.Lock()
	defer serverMutex.Unlock()

	if currentSrv != nil {
		logger.Printf("metrics server already running on %s", currentSrv.Addr)
		return currentSrv.Addr, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","healthy":true}`))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux}
	currentSrv = srv

	go func() {
		logger.Printf("metrics server listening on %s", srv.Addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server error: %v", err)
		}
	}()

	return srv.Addr, nil
}

// Shutdown gracefully stops the metrics server if one is running.
func Shutdown(ctx context.Context, logger *log.Logger) {
	serverMutex.Lock()
	defer serverMutex.Unlock()

	if currentSrv == nil {
		return
	}
	if err := currentSrv.Shutdown(ctx); err != nil {
		logger.Printf("metrics server shutdown error: %v", err)
	}
	currentSrv = nil
}
