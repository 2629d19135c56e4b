package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/antoniostano/nessievoice/internal/artifact"
	"github.com/antoniostano/nessievoice/internal/callflow"
	"github.com/antoniostano/nessievoice/internal/observability"
	"github.com/antoniostano/nessievoice/internal/session"
	"github.com/antoniostano/nessievoice/internal/telephony"
)

// CallHandler answers authenticated telephony callbacks.
type CallHandler interface {
	Handle(ctx context.Context, cb callflow.Callback) callflow.Instruction
}

// CallAuthenticator checks that a callback really came from the carrier.
type CallAuthenticator interface {
	Validate(r *http.Request, publicBaseURL string) error
}

// InstructionRenderer encodes an instruction as a carrier response document.
type InstructionRenderer interface {
	Render(inst callflow.Instruction) ([]byte, error)
}

// ArtifactSource serves stored call audio.
type ArtifactSource interface {
	Open(ctx context.Context, ref string) (artifact.Artifact, error)
	Release(ctx context.Context, callID string)
}

type Options struct {
	PublicBaseURL string
	Sessions      *session.Manager
	Calls         CallHandler
	Validator     CallAuthenticator
	Renderer      InstructionRenderer
	Artifacts     ArtifactSource
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

type Server struct {
	publicBaseURL string
	sessions      *session.Manager
	calls         CallHandler
	validator     CallAuthenticator
	renderer      InstructionRenderer
	artifacts     ArtifactSource
	metrics       *observability.Metrics
	logger        *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		sessions:      opts.Sessions,
		calls:         opts.Calls,
		validator:     opts.Validator,
		renderer:      opts.Renderer,
		artifacts:     opts.Artifacts,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/audio/{ref}", s.handleAudio)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSignature)
		r.Post(telephony.PathFor(callflow.StepStart), s.handleCallback(callflow.StepStart))
		r.Post(telephony.PathFor(callflow.StepName), s.handleCallback(callflow.StepName))
		r.Post(telephony.PathFor(callflow.StepSecurity), s.handleCallback(callflow.StepSecurity))
		r.Post(telephony.PathFor(callflow.StepConversation), s.handleCallback(callflow.StepConversation))
		r.Post("/voice/status", s.handleCallStatus)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if s.sessions != nil {
		active = s.sessions.ActiveCount()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": active,
	})
}

// requireSignature rejects callbacks that fail carrier authentication before
// they reach any session state.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.validator != nil {
			if err := s.validator.Validate(r, s.publicBaseURL); err != nil {
				s.logger.Warn("rejected unauthenticated callback", "path", r.URL.Path, "error", err)
				if s.metrics != nil {
					s.metrics.Callbacks.WithLabelValues("any", "unauthenticated").Inc()
				}
				respondError(w, http.StatusForbidden, "invalid_signature", "invalid callback signature")
				return
			}
		} else if err := r.ParseForm(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCallback(step callflow.Step) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cb := callflow.Callback{
			CallID:       strings.TrimSpace(r.PostForm.Get("CallSid")),
			Step:         step,
			RecordingURL: strings.TrimSpace(r.PostForm.Get("RecordingUrl")),
		}
		if step == callflow.StepSecurity {
			cb.CallerName = strings.TrimSpace(r.URL.Query().Get("caller"))
			cb.Attempt, _ = strconv.Atoi(r.URL.Query().Get("attempt"))
		}

		inst := s.calls.Handle(r.Context(), cb)
		doc, err := s.renderer.Render(inst)
		if err != nil {
			s.logger.Error("render instruction failed", "call_id", cb.CallID, "step", string(step), "error", err)
			doc = telephony.FallbackDocument()
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc)
	}
}

// handleCallStatus ends the session and its audio once the carrier reports
// the call finished.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.PostForm.Get("CallSid"))
	status := strings.ToLower(strings.TrimSpace(r.PostForm.Get("CallStatus")))
	if callID == "" {
		respondError(w, http.StatusBadRequest, "missing_call_sid", "CallSid is required")
		return
	}

	switch status {
	case "completed", "busy", "failed", "no-answer", "canceled":
		if _, err := s.sessions.End(callID); err == nil && s.metrics != nil {
			s.metrics.SessionEvents.WithLabelValues("ended").Inc()
		}
		if s.artifacts != nil {
			s.artifacts.Release(r.Context(), callID)
		}
		if s.metrics != nil {
			s.metrics.ActiveCalls.Set(float64(s.sessions.ActiveCount()))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if strings.TrimSpace(ref) == "" || s.artifacts == nil {
		respondError(w, http.StatusNotFound, "not_found", "audio not found")
		return
	}
	a, err := s.artifacts.Open(r.Context(), ref)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "audio not found")
			return
		}
		s.logger.Error("open audio failed", "ref", ref, "error", err)
		respondError(w, http.StatusInternalServerError, "unavailable", "audio unavailable")
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debug("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
