package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/services"
)

// statusClientClosedRequest is the de facto code for a caller that went away.
const statusClientClosedRequest = 499

type analyzeRequest struct {
	RecordingURL string             `json:"recordingUrl"`
	SampleRate   int                `json:"sampleRate,omitempty"`
	Language     string             `json:"language,omitempty"`
	Constraints  domain.Constraints `json:"constraints"`
}

type analyzeResponse struct {
	RecordingURL string                `json:"recordingUrl"`
	Analysis     domain.AnalysisResult `json:"analysis"`
}

type analysisFailure struct {
	Stage     domain.Stage `json:"stage"`
	Kind      domain.Kind  `json:"kind"`
	Class     domain.Class `json:"class"`
	Retryable bool         `json:"retryable"`
	Message   string       `json:"message"`
}

// Analyze handles POST /analyze
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RecordingURL == "" {
		writeError(w, http.StatusBadRequest, "recordingUrl is required")
		return
	}

	res, err := h.svc.Analyze(r.Context(), services.Request{
		Reference:   domain.RecordingReference(req.RecordingURL),
		Hints:       domain.AudioHints{SampleRate: req.SampleRate, Language: req.Language},
		Constraints: req.Constraints,
	})
	if err != nil {
		var ae *domain.AnalysisError
		if !errors.As(err, &ae) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, statusFor(ae), analysisFailure{
			Stage:     ae.Stage,
			Kind:      ae.Kind,
			Class:     ae.Kind.Class(),
			Retryable: ae.Kind.Retryable(),
			Message:   ae.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{RecordingURL: req.RecordingURL, Analysis: res})
}

func statusFor(ae *domain.AnalysisError) int {
	switch {
	case ae.Kind == domain.KindCanceled:
		return statusClientClosedRequest
	case ae.NotFound():
		return http.StatusNotFound
	case errors.Is(ae, domain.ErrInvalidReference):
		return http.StatusBadRequest
	case ae.Kind == domain.KindTimeout, ae.Kind == domain.KindTranscriptionTimeout:
		return http.StatusGatewayTimeout
	case ae.Kind == domain.KindOverloaded:
		return http.StatusServiceUnavailable
	}
	switch ae.Kind.Class() {
	case domain.ClassInput:
		return http.StatusUnprocessableEntity
	case domain.ClassResource:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
