package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Server owns the public REST router.
type Server struct {
	Mux *mux.Router
}

func New() *Server {
	return &Server{Mux: mux.NewRouter()}
}

// Handler wraps the router in the shared logging and request-counting
// middleware.
func (s *Server) Handler(requests *prometheus.CounterVec) http.Handler {
	return Logging(Metrics(requests)(s.Mux))
}
