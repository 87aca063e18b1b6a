package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5/middleware"
)

const maxRequestSize = 64 * 1024

// Uploader runs one upload. *relay.Orchestrator implements it.
type Uploader interface {
	Run(ctx context.Context, req relay.Request) (*relay.Result, error)
}

type uploadRequest struct {
	SourceObjectID string `json:"sourceObjectId"`
	// FileID is the legacy name of SourceObjectID.
	FileID  string `json:"fileId"`
	Caption string `json:"caption"`
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	ObjectID string `json:"objectId"`
	RunID    string `json:"runId,omitempty"`
}

type errorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

type uploadHandler struct {
	uploader Uploader
	allowed  []string
	logger   log.Logger
}

func (h *uploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Reading up to EOF lets the server notice a client disconnect while the upload runs.
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read request body: " + err.Error()})
		return
	}
	var req uploadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	objectID := req.SourceObjectID
	if objectID == "" {
		objectID = req.FileID
	}
	if objectID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sourceObjectId is required"})
		return
	}
	if !h.isAllowed(objectID) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "source object is not allowed: " + objectID})
		return
	}

	result, err := h.uploader.Run(r.Context(), relay.Request{SourceObjectID: objectID, Caption: req.Caption})
	if err != nil {
		h.logger.Errorf("[%s] Upload of %s failed: %s", middleware.GetReqID(r.Context()), objectID, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   err.Error(),
			Details: details(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:  true,
		ObjectID: result.ObjectID,
		RunID:    result.RunID,
	})
}

func (h *uploadHandler) isAllowed(objectID string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	for _, pattern := range h.allowed {
		if ok, err := doublestar.Match(pattern, objectID); err == nil && ok {
			return true
		}
	}
	return false
}

// details returns the remote error payload, embedded as JSON when it is JSON.
func details(err error) interface{} {
	var uploadErr *relay.UploadError
	if !errors.As(err, &uploadErr) {
		return nil
	}

	body := relay.RemoteBody(err)
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
