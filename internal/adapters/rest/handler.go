package rest

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/core/services"
)

const defaultMaxUploadBytes = 100 << 20

// Handler manages the HTTP interface for our application.
type Handler struct {
	svc    *services.Orchestrator
	store  ports.RecordingStore
	engine any
	log    logrus.FieldLogger
	router *http.ServeMux

	maxUploadBytes int64
}

// Option customizes a Handler.
type Option func(*Handler)

// WithRecordingStore enables POST /recordings.
func WithRecordingStore(store ports.RecordingStore) Option {
	return func(h *Handler) { h.store = store }
}

// WithEngineInfo sets the value served on GET /config.
func WithEngineInfo(v any) Option {
	return func(h *Handler) { h.engine = v }
}

// WithMaxUploadBytes caps request bodies on the upload and analyze routes.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(svc *services.Orchestrator, log logrus.FieldLogger, opts ...Option) *Handler {
	h := &Handler{
		svc:            svc,
		log:            log,
		router:         http.NewServeMux(),
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.routes()

	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.HandleFunc("GET /health", h.HealthCheck)
	h.router.HandleFunc("GET /config", h.Config)
	h.router.HandleFunc("POST /recordings", h.UploadRecording)
	h.router.HandleFunc("POST /analyze", h.Analyze)
}

// HealthCheck is a simple endpoint to verify the API is running.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Cadence is live"})
}

// Config handles GET /config and reports the effective engine parameters.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusNotFound, "engine configuration not exposed")
		return
	}
	writeJSON(w, http.StatusOK, h.engine)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeErrorWithCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func isJSONContentType(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
