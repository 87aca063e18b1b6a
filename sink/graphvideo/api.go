package graphvideo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type startRequest struct {
	UploadPhase string `json:"upload_phase"`
	FileSize    int64  `json:"file_size"`
	AccessToken string `json:"access_token"`
}

type startResponse struct {
	UploadSessionID string `json:"upload_session_id"`
	VideoID         string `json:"video_id"`
	StartOffset     *offset `json:"start_offset"`
	EndOffset       *offset `json:"end_offset"`
}

func (r startResponse) validate() error {
	if r.StartOffset == nil || r.EndOffset == nil {
		return fmt.Errorf("start response has no offsets")
	}
	return nil
}

type transferResponse struct {
	StartOffset *offset `json:"start_offset"`
	EndOffset   *offset `json:"end_offset"`
}

func (r transferResponse) validate() error {
	if r.StartOffset == nil || r.EndOffset == nil {
		return fmt.Errorf("transfer response has no offsets")
	}
	return nil
}

// validator is implemented by responses with required fields.
type validator interface {
	validate() error
}

type finishRequest struct {
	UploadPhase     string `json:"upload_phase"`
	UploadSessionID string `json:"upload_session_id"`
	AccessToken     string `json:"access_token"`
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
}

type finishResponse struct {
	Success bool   `json:"success"`
	VideoID string `json:"video_id"`
}

type errorResponse struct {
	Error struct {
		Message     string `json:"message"`
		Type        string `json:"type"`
		Code        int    `json:"code"`
		IsTransient bool   `json:"is_transient"`
		FBTraceID   string `json:"fbtrace_id"`
	} `json:"error"`
}

// offset accepts both "123" and 123; the API sends offsets as strings.
type offset int64

func (o *offset) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("missing offset")
	}

	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset %q: %w", data, err)
	}
	*o = offset(v)
	return nil
}

// MarshalJSON keeps the string encoding used by the API.
func (o offset) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(o), 10))
}
