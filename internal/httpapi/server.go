// Package httpapi is the internal listener every binary exposes for
// probes and Prometheus scraping, separate from any public surface.
package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Mux *http.ServeMux
}

func New() *Server {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	m.HandleFunc("/healthz", Healthz())
	return &Server{Mux: m}
}
