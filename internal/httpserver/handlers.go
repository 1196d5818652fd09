package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"echopush/internal/domain"
	"echopush/internal/service"
	"echopush/internal/util"
)

// userHeader carries the authenticated user id. Authentication itself lives
// in the gateway in front of this service.
const userHeader = "X-User-ID"

type API struct {
	Svc *service.EchoService
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/echoes", a.handleCreateEcho).Methods(http.MethodPost)
	mux.HandleFunc("/v1/echoes", a.handleListEchoes).Methods(http.MethodGet)
	mux.HandleFunc("/v1/echoes/{id}", a.handleGetEcho).Methods(http.MethodGet)
	mux.HandleFunc("/v1/echoes/{id}", a.handleDeleteEcho).Methods(http.MethodDelete)
	mux.HandleFunc("/v1/devices", a.handleRegisterDevice).Methods(http.MethodPost)
}

type echoPartResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	OrderIndex int    `json:"orderIndex"`
}

type echoResponse struct {
	ID         string             `json:"id"`
	UserID     string             `json:"userId"`
	DeliverAt  time.Time          `json:"deliverAt"`
	PartsCount int                `json:"partsCount"`
	Parts      []echoPartResponse `json:"parts,omitempty"`
}

func toEchoResponse(e domain.Echo) echoResponse {
	resp := echoResponse{
		ID:         e.ID,
		UserID:     e.UserID,
		DeliverAt:  e.DeliverAt,
		PartsCount: len(e.Parts),
	}
	for _, p := range e.Parts {
		resp.Parts = append(resp.Parts, echoPartResponse{
			ID: p.ID, Type: string(p.Type), Content: p.Content, OrderIndex: p.OrderIndex,
		})
	}
	return resp
}

func userID(r *http.Request) string {
	return r.Header.Get(userHeader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) handleCreateEcho(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, ErrMissingUser, http.StatusUnauthorized)
		return
	}

	var req domain.CreateEchoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	echo, err := a.Svc.CreateEcho(r.Context(), uid, req, util.NowUTC())
	if err != nil {
		slog.Error("create echo failed", "user_id", uid, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, toEchoResponse(echo))
}

func (a *API) handleListEchoes(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, ErrMissingUser, http.StatusUnauthorized)
		return
	}

	summaries, err := a.Svc.ListEchoes(r.Context(), uid)
	if err != nil {
		slog.Error("list echoes failed", "user_id", uid, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	type summaryResponse struct {
		ID         string    `json:"id"`
		DeliverAt  time.Time `json:"deliverAt"`
		PartsCount int       `json:"partsCount"`
		CreatedAt  time.Time `json:"createdAt"`
	}
	out := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryResponse{
			ID: s.ID, DeliverAt: s.DeliverAt, PartsCount: s.PartsCount, CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetEcho(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, ErrMissingUser, http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}

	echo, err := a.Svc.GetEcho(r.Context(), id, uid)
	if err != nil {
		if errors.Is(err, domain.ErrEchoNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("get echo failed", "echo_id", id, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, toEchoResponse(echo))
}

func (a *API) handleDeleteEcho(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, ErrMissingUser, http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}

	deleted, err := a.Svc.DeleteEcho(r.Context(), id, uid)
	if err != nil {
		slog.Error("delete echo failed", "echo_id", id, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !deleted {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, ErrMissingUser, http.StatusUnauthorized)
		return
	}

	var req domain.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reg, err := a.Svc.RegisterDevice(r.Context(), uid, req, util.NowUTC())
	if err != nil {
		slog.Error("register device failed", "user_id", uid, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":   reg.DeviceID,
		"deviceType": reg.DeviceType,
		"isActive":   reg.IsActive,
	})
}
