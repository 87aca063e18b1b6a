package graphvideo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 0
	httpClient.Logger = nil

	client, err := NewClient(Params{
		BaseURL:     server.URL,
		PageID:      "1234",
		AccessToken: "page-token",
	}, httpClient, log.NewLogger())
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresPageAndToken(t *testing.T) {
	_, err := NewClient(Params{AccessToken: "token"}, nil, nil)
	assert.Error(t, err)

	_, err = NewClient(Params{PageID: "1234"}, nil, nil)
	assert.Error(t, err)
}

func TestClient_Start(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/1234/videos", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, `{"upload_session_id":"sess-1","video_id":"vid-9","start_offset":"0","end_offset":"1048576"}`)
	})

	result, err := client.Start(context.Background(), 5000000)

	require.NoError(t, err)
	assert.Equal(t, relay.StartResult{SessionID: "sess-1", ObjectID: "vid-9", StartOffset: 0, EndOffset: 1048576}, result)
	assert.Equal(t, "start", got["upload_phase"])
	assert.Equal(t, float64(5000000), got["file_size"])
	assert.Equal(t, "page-token", got["access_token"])
}

func TestClient_StartAcceptsNumericOffsets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"upload_session_id":"sess-1","video_id":"vid-9","start_offset":0,"end_offset":42}`)
	})

	result, err := client.Start(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, int64(42), result.EndOffset)
}

func TestClient_Transfer(t *testing.T) {
	chunk := strings.Repeat("v", 4096)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "transfer", r.FormValue("upload_phase"))
		assert.Equal(t, "8192", r.FormValue("start_offset"))
		assert.Equal(t, "sess-1", r.FormValue("upload_session_id"))
		assert.Equal(t, "page-token", r.FormValue("access_token"))

		file, header, err := r.FormFile(chunkFieldName)
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "clip.mp4", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, chunk, string(content))

		_, _ = io.WriteString(w, `{"start_offset":"12288","end_offset":"16384"}`)
	})

	result, err := client.Transfer(context.Background(), relay.TransferRequest{
		SessionID: "sess-1",
		Offset:    8192,
		Length:    int64(len(chunk)),
		Chunk:     strings.NewReader(chunk),
		Filename:  "clip.mp4",
	})

	require.NoError(t, err)
	assert.Equal(t, relay.TransferResult{NextOffset: 12288, EndOffset: 16384}, result)
}

func TestClient_TransferRejected(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantTransient bool
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`,
		},
		{
			name:          "marked transient",
			status:        http.StatusBadRequest,
			body:          `{"error":{"message":"Try again","code":1,"is_transient":true}}`,
			wantRetryable: true,
			wantTransient: true,
		},
		{
			name:          "server error without json",
			status:        http.StatusBadGateway,
			body:          `upstream gone`,
			wantTransient: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.Transfer(context.Background(), relay.TransferRequest{
				SessionID: "sess-1",
				Length:    3,
				Chunk:     strings.NewReader("abc"),
			})

			var rejected *relay.SinkRejectedError
			require.True(t, errors.As(err, &rejected))
			assert.Equal(t, relay.PhaseTransfer, rejected.Phase)
			assert.Equal(t, tt.status, rejected.StatusCode)
			assert.Equal(t, tt.body, string(rejected.Body))
			assert.Equal(t, tt.wantRetryable, rejected.Retryable)
			assert.Equal(t, tt.wantTransient, relay.IsTransient(err))
		})
	}
}

func TestClient_Finish(t *testing.T) {
	var got map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	result, err := client.Finish(context.Background(), relay.FinishRequest{
		SessionID:   "sess-1",
		Title:       "Test Upload",
		Description: "Test Upload",
	})

	require.NoError(t, err)
	assert.Equal(t, "", result.ObjectID)
	assert.Equal(t, map[string]string{
		"upload_phase":      "finish",
		"upload_session_id": "sess-1",
		"access_token":      "page-token",
		"title":             "Test Upload",
		"description":       "Test Upload",
	}, got)
}

func TestClient_FinishNotAcknowledged(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false}`)
	})

	_, err := client.Finish(context.Background(), relay.FinishRequest{SessionID: "sess-1"})

	var rejected *relay.SinkRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, relay.PhaseFinish, rejected.Phase)
	assert.False(t, relay.IsTransient(err))
}

func TestClient_InvalidResponseBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>not json</html>`)
	})

	_, err := client.Start(context.Background(), 10)

	assert.Equal(t, []byte(`<html>not json</html>`), relay.RemoteBody(err))
}

func TestClient_StartWithoutOffsets(t *testing.T) {
	body := `{"upload_session_id":"sess-1","video_id":"vid-9"}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})

	_, err := client.Start(context.Background(), 100)

	var rejected *relay.SinkRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, relay.PhaseStart, rejected.Phase)
	assert.Equal(t, []byte(body), rejected.Body)
	assert.False(t, relay.IsTransient(err))
}

func TestClient_TransferWithoutOffsets(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no offsets", body: `{}`},
		{name: "no end offset", body: `{"start_offset":"4096"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.Transfer(context.Background(), relay.TransferRequest{
				SessionID: "sess-1",
				Length:    4,
				Chunk:     strings.NewReader("data"),
			})

			var rejected *relay.SinkRejectedError
			require.True(t, errors.As(err, &rejected))
			assert.Equal(t, relay.PhaseTransfer, rejected.Phase)
		})
	}
}

func TestVideoURL(t *testing.T) {
	assert.Equal(t, "https://www.facebook.com/vid-9", VideoURL("vid-9"))
}
