package serve

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chirino/vaulthalla/internal/config"
)

// ready flips once StartServer has finished wiring every background
// service; /readyz reports it. Grounded on the reference daemon's
// route/system package, which uses the same atomic-flag liveness/readiness
// split instead of a DB ping.
var ready atomic.Bool

func markReady() { ready.Store(true) }

// startManagementServer starts the dedicated health/readiness/metrics
// listener. It is deliberately separate from the dispatch port: a probe
// hitting /healthz should never compete with dispatch traffic for the
// same accept loop, and scraping /metrics shouldn't require an access
// token the way every dispatch command does.
func startManagementServer(cfg config.ListenerConfig) (net.Addr, func(context.Context) error, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		cfg.EnablePlainText = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("starting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	running, err := startMuxedServer(cfg, mux)
	if err != nil {
		return nil, nil, err
	}
	log.Info("management server listening", "addr", running.Addr)
	return running.Addr, running.Close, nil
}
