package rest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// uploadRecordingRequest is the JSON upload body. FileContent is base64.
type uploadRecordingRequest struct {
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileContent string `json:"fileContent"`
}

type uploadRecordingResponse struct {
	Message      string `json:"message"`
	RecordingURL string `json:"recordingUrl"`
}

// UploadRecording handles POST /recordings. It accepts either the JSON body
// above or a multipart form with a "file" part.
func (h *Handler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "recording store not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var (
		rec ports.Recording
		ok  bool
	)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mt == "application/json":
		rec, ok = h.decodeJSONUpload(w, r)
	case mt == "multipart/form-data":
		rec, ok = h.decodeMultipartUpload(w, r)
	default:
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or multipart/form-data")
		return
	}
	if !ok {
		return
	}

	ref, err := h.store.Put(r.Context(), rec)
	if err != nil {
		h.log.WithError(err).WithField("name", rec.Name).Error("rest: upload failed")
		writeErrorWithCode(w, http.StatusInternalServerError, "Upload failed", "UPLOAD_FAILED")
		return
	}

	h.log.WithFields(logrus.Fields{"name": rec.Name, "size": len(rec.Data), "reference": ref.String()}).Info("rest: recording stored")
	writeJSON(w, http.StatusCreated, uploadRecordingResponse{
		Message:      "File uploaded successfully!",
		RecordingURL: ref.String(),
	})
}

func (h *Handler) decodeJSONUpload(w http.ResponseWriter, r *http.Request) (ports.Recording, bool) {
	var req uploadRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return ports.Recording{}, false
	}
	if req.FileName == "" || req.FileContent == "" {
		writeError(w, http.StatusBadRequest, "fileName and fileContent are required")
		return ports.Recording{}, false
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.FileContent))
	if err != nil {
		writeError(w, http.StatusBadRequest, "fileContent must be base64")
		return ports.Recording{}, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "fileContent is empty")
		return ports.Recording{}, false
	}
	return ports.Recording{Name: req.FileName, ContentType: req.FileType, Data: data}, true
}

func (h *Handler) decodeMultipartUpload(w http.ResponseWriter, r *http.Request) (ports.Recording, bool) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return ports.Recording{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return ports.Recording{}, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return ports.Recording{}, false
	}
	return ports.Recording{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, true
}
