// mock-fcm is a stand-in for the FCM legacy send endpoint, used in local
// runs and integration environments. Outcomes are steered by the token:
// tokens containing "dead" come back NotRegistered, tokens containing
// "flaky" fail with Unavailable at the configured rate, tokens containing
// "slow" are answered after the timeout delay. Everything else succeeds.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"echopush/internal/logging"
)

type config struct {
	Port           string  `envconfig:"PORT" default:"8080"`
	ServerKey      string  `envconfig:"MOCK_SERVER_KEY" default:"mock_key"`
	DelayMs        int     `envconfig:"MOCK_DELAY_MS" default:"0"`
	TimeoutDelayMs int     `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"12000"`
	FlakyFailRate  float64 `envconfig:"MOCK_FLAKY_FAIL_RATE" default:"0.5"`
	LogFormat      string  `envconfig:"LOG_FORMAT" default:"text"`
}

type sendRequest struct {
	To           string `json:"to"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]string `json:"data"`
}

type sendResult struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type sendResponse struct {
	Success int          `json:"success"`
	Failure int          `json:"failure"`
	Results []sendResult `json:"results"`
}

type server struct {
	cfg   config
	seq   atomic.Int64
	sends atomic.Int64
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	logging.Init("mock-fcm", cfg.LogFormat)

	s := &server{cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/fcm/send", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	slog.Info("mock fcm listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		slog.Error("mock fcm server failed", "err", err)
		os.Exit(1)
	}
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("Authorization"); got != "key="+s.cfg.ServerKey {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}
	s.sends.Add(1)

	if s.cfg.DelayMs > 0 {
		time.Sleep(time.Duration(s.cfg.DelayMs) * time.Millisecond)
	}

	switch {
	case strings.Contains(req.To, "slow"):
		time.Sleep(time.Duration(s.cfg.TimeoutDelayMs) * time.Millisecond)
		s.respond(w, sendResult{MessageID: s.nextID()}, 1, 0)
	case strings.Contains(req.To, "dead"):
		s.respond(w, sendResult{Error: "NotRegistered"}, 0, 1)
	case strings.Contains(req.To, "flaky") && rand.Float64() < s.cfg.FlakyFailRate:
		s.respond(w, sendResult{Error: "Unavailable"}, 0, 1)
	default:
		s.respond(w, sendResult{MessageID: s.nextID()}, 1, 0)
	}
}

func (s *server) respond(w http.ResponseWriter, res sendResult, success, failure int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sendResponse{
		Success: success,
		Failure: failure,
		Results: []sendResult{res},
	})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"sends": s.sends.Load()})
}

func (s *server) nextID() string {
	return fmt.Sprintf("mock-%d", s.seq.Add(1))
}
