// Package graphvideo implements the resumable video upload of the Graph API as a relay.SinkClient.
// All three phases hit the same endpoint and are told apart by the upload_phase field.
package graphvideo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultBaseURL is the video upload host of the Graph API.
	DefaultBaseURL = "https://graph-video.facebook.com"
	// DefaultAPIVersion ...
	DefaultAPIVersion = "v19.0"

	chunkFieldName  = "video_file_chunk"
	maxResponseSize = 1 << 20
)

// Params configures a Client.
type Params struct {
	BaseURL     string
	APIVersion  string
	PageID      string
	AccessToken string
}

// Client talks to /{version}/{page-id}/videos.
type Client struct {
	httpClient  *retryablehttp.Client
	endpoint    string
	accessToken string
	logger      log.Logger
}

// NewClient creates a Client. When httpClient is nil a retrying client is built from the logger.
// Start and finish calls are retried by the http client; transfer calls are sent once since their
// body is a one-shot stream, retrying them is up to the caller.
func NewClient(params Params, httpClient *retryablehttp.Client, logger log.Logger) (*Client, error) {
	if params.PageID == "" {
		return nil, fmt.Errorf("page ID must not be empty")
	}
	if params.AccessToken == "" {
		return nil, fmt.Errorf("access token must not be empty")
	}
	if params.BaseURL == "" {
		params.BaseURL = DefaultBaseURL
	}
	if params.APIVersion == "" {
		params.APIVersion = DefaultAPIVersion
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	if httpClient == nil {
		httpClient = retryhttp.NewClient(logger)
	}
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient:  httpClient,
		endpoint:    fmt.Sprintf("%s/%s/%s/videos", strings.TrimSuffix(params.BaseURL, "/"), params.APIVersion, params.PageID),
		accessToken: params.AccessToken,
		logger:      logger,
	}, nil
}

// VideoURL returns the public URL of an uploaded video.
func VideoURL(videoID string) string {
	return fmt.Sprintf("https://www.facebook.com/%s", videoID)
}

// Start opens an upload session for a file of totalSize bytes.
func (c *Client) Start(ctx context.Context, totalSize int64) (relay.StartResult, error) {
	var response startResponse
	err := c.postJSON(ctx, relay.PhaseStart, startRequest{
		UploadPhase: string(relay.PhaseStart),
		FileSize:    totalSize,
		AccessToken: c.accessToken,
	}, &response)
	if err != nil {
		return relay.StartResult{}, err
	}

	c.logger.Debugf("Start phase response: session=%s video=%s offsets=%d-%d",
		response.UploadSessionID, response.VideoID, *response.StartOffset, *response.EndOffset)

	return relay.StartResult{
		SessionID:   response.UploadSessionID,
		ObjectID:    response.VideoID,
		StartOffset: int64(*response.StartOffset),
		EndOffset:   int64(*response.EndOffset),
	}, nil
}

// Transfer streams one chunk as a multipart form. The chunk is never buffered: only the
// form envelope around it is held in memory.
func (c *Client) Transfer(ctx context.Context, req relay.TransferRequest) (relay.TransferResult, error) {
	head, tail, contentType, err := c.transferEnvelope(req)
	if err != nil {
		return relay.TransferResult{}, fmt.Errorf("build transfer form: %w", err)
	}

	body := io.MultiReader(bytes.NewReader(head), req.Chunk, bytes.NewReader(tail))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return relay.TransferResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.ContentLength = int64(len(head)) + req.Length + int64(len(tail))
	httpReq.Header.Set("Content-Type", contentType)

	dump, err := httputil.DumpRequest(httpReq, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Transfer request dump: %s", string(dump))

	resp, err := c.httpClient.HTTPClient.Do(httpReq)
	if err != nil {
		return relay.TransferResult{}, fmt.Errorf("transfer phase: %w", err)
	}
	defer c.closeBody(resp.Body)

	var response transferResponse
	if err := c.decode(resp, relay.PhaseTransfer, &response); err != nil {
		return relay.TransferResult{}, err
	}

	return relay.TransferResult{
		NextOffset: int64(*response.StartOffset),
		EndOffset:  int64(*response.EndOffset),
	}, nil
}

// Finish publishes the uploaded video with a title and description.
func (c *Client) Finish(ctx context.Context, req relay.FinishRequest) (relay.FinishResult, error) {
	var response finishResponse
	err := c.postJSON(ctx, relay.PhaseFinish, finishRequest{
		UploadPhase:     string(relay.PhaseFinish),
		UploadSessionID: req.SessionID,
		AccessToken:     c.accessToken,
		Title:           req.Title,
		Description:     req.Description,
	}, &response)
	if err != nil {
		return relay.FinishResult{}, err
	}
	if !response.Success {
		return relay.FinishResult{}, &relay.SinkRejectedError{
			Phase:      relay.PhaseFinish,
			StatusCode: http.StatusOK,
			Body:       []byte("finish phase was not acknowledged"),
		}
	}

	return relay.FinishResult{ObjectID: response.VideoID}, nil
}

func (c *Client) transferEnvelope(req relay.TransferRequest) ([]byte, []byte, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := []struct{ key, value string }{
		{"upload_phase", string(relay.PhaseTransfer)},
		{"start_offset", strconv.FormatInt(req.Offset, 10)},
		{"upload_session_id", req.SessionID},
		{"access_token", c.accessToken},
	}
	for _, field := range fields {
		if err := form.WriteField(field.key, field.value); err != nil {
			return nil, nil, "", err
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = "chunk"
	}
	if _, err := form.CreateFormFile(chunkFieldName, filename); err != nil {
		return nil, nil, "", err
	}
	head := append([]byte(nil), buf.Bytes()...)

	buf.Reset()
	if err := form.Close(); err != nil {
		return nil, nil, "", err
	}
	tail := append([]byte(nil), buf.Bytes()...)

	return head, tail, form.FormDataContentType(), nil
}

func (c *Client) postJSON(ctx context.Context, phase relay.Phase, payload, into interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s phase: %w", phase, err)
	}
	defer c.closeBody(resp.Body)

	return c.decode(resp, phase, into)
}

func (c *Client) decode(resp *http.Response, phase relay.Phase, into interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", phase, err)
	}
	c.logger.Debugf("%s response: HTTP %d: %s", phase, resp.StatusCode, raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(phase, resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, into); err != nil {
		return &relay.SinkRejectedError{
			Phase:      phase,
			StatusCode: resp.StatusCode,
			Body:       raw,
		}
	}
	if v, ok := into.(validator); ok {
		if err := v.validate(); err != nil {
			c.logger.Warnf("Malformed %s response: %s", phase, err)
			return &relay.SinkRejectedError{
				Phase:      phase,
				StatusCode: resp.StatusCode,
				Body:       raw,
			}
		}
	}
	return nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Warnf("close response body: %s", err)
	}
}

func unwrapError(phase relay.Phase, statusCode int, raw []byte) error {
	rejected := &relay.SinkRejectedError{
		Phase:      phase,
		StatusCode: statusCode,
		Body:       raw,
	}

	var response errorResponse
	if err := json.Unmarshal(raw, &response); err == nil {
		rejected.Retryable = response.Error.IsTransient
	}
	return rejected
}
