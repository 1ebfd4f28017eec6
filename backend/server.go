// Package backend is the HTTP side of the gate: it turns open requests
// into MQTT commands and records the events the agent reports back.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"metamakers.org/gate-agent/events"
	"metamakers.org/gate-agent/mqtt"
)

const maxBodyBytes = 64 << 10

type Publisher interface {
	PublishCommand(ctx context.Context, topic string, command mqtt.Command) error
}

type EventStore interface {
	Record(ctx context.Context, name string) (events.Event, error)
	Recent(ctx context.Context, limit int) ([]events.Event, error)
}

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Server struct {
	publisher Publisher
	store     EventStore
	topic     string
	log       zerolog.Logger
}

// New builds the API. store may be nil, in which case events are logged
// but not kept and /api/events answers 503.
func New(publisher Publisher, store EventStore, topic string, log zerolog.Logger) *Server {
	return &Server{publisher: publisher, store: store, topic: topic, log: log}
}

func (server *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(server.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", server.handleHealth)
	router.Route("/api", func(api chi.Router) {
		api.Post("/open", server.handleOpen)
		api.Post("/log", server.handleLog)
		api.Get("/events", server.handleEvents)
	})
	return router
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (server *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		server.log.Info().Str("event", "Listen").Str("addr", addr).Msg("Backend listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (server *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		server.log.Info().
			Str("event", "Request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (server *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok"})
}

type openRequest struct {
	Action   string `json:"action"`
	ToServer struct {
		ShortResponse bool `json:"shortResponse"`
	} `json:"toServer"`
	Passthrough json.RawMessage `json:"passthrough"`
}

func (server *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeBody(w, r, &req); err != nil {
		server.log.Info().Str("error", err.Error()).Str("event", "BadRequest").Msg("Invalid open request")
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "Invalid request"})
		return
	}

	if req.Action != mqtt.OpenCommand {
		server.log.Info().Str("action", req.Action).Str("event", "BadAction").Msg("Invalid action")
		writeJSON(w, http.StatusNotImplemented, Response{Success: false, Message: "Action not implemented"})
		return
	}

	command := mqtt.Command{Command: mqtt.OpenCommand, Passthrough: req.Passthrough}
	if err := server.publisher.PublishCommand(r.Context(), server.topic, command); err != nil {
		server.log.Error().Str("error", err.Error()).Str("event", "PublishFailed").Msg("Failed to publish MQTT message")
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Message: "Failed to open door"})
		return
	}

	server.log.Info().Str("action", req.Action).Str("event", "DoorUnlocked").Msg("Door unlocked")
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Door unlocked"})
}

type logRequest struct {
	Event string `json:"event"`
}

func (server *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := decodeBody(w, r, &req); err != nil {
		server.log.Info().Str("error", err.Error()).Str("event", "BadRequest").Msg("Invalid log request")
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "Invalid request"})
		return
	}

	server.log.Info().Str("gate_event", req.Event).Str("event", "EventLogged").Msg("Event logged")

	if server.store == nil {
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "Log recorded"})
		return
	}

	recorded, err := server.store.Record(r.Context(), req.Event)
	if errors.Is(err, events.ErrEmptyEvent) {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "Invalid request"})
		return
	}
	if err != nil {
		server.log.Error().Str("error", err.Error()).Str("event", "StoreFailed").Msg("Failed to store event")
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Message: "Failed to record log"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Log recorded", Data: recorded})
}

func (server *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if server.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{Success: false, Message: "Event storage is not configured"})
		return
	}

	limit := events.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "limit must be a positive integer"})
			return
		}
		limit = events.ClampLimit(parsed)
	}

	recent, err := server.store.Recent(r.Context(), limit)
	if err != nil {
		server.log.Error().Str("error", err.Error()).Str("event", "StoreFailed").Msg("Failed to load events")
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Message: "Failed to load events"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok", Data: recent})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, response Response) {
	if !response.Success && response.Code == 0 {
		response.Code = status
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
