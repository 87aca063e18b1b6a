// Package drive reads objects from Google Drive through the v3 REST API.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL ...
const DefaultBaseURL = "https://www.googleapis.com"

const maxErrorBodySize = 64 * 1024

// Params ...
type Params struct {
	BaseURL     string
	AccessToken string
}

// Reader implements relay.SourceReader on top of Drive file downloads.
type Reader struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

type fileResponse struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

// NewReader creates a Reader. When httpClient is nil a retrying client is built from the logger.
func NewReader(params Params, httpClient *retryablehttp.Client, logger log.Logger) (*Reader, error) {
	if params.AccessToken == "" {
		return nil, fmt.Errorf("access token must not be empty")
	}
	if params.BaseURL == "" {
		params.BaseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	if httpClient == nil {
		httpClient = retryhttp.NewClient(logger)
		httpClient.CheckRetry = createCustomRetryFunction(logger)
	}
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Reader{
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(params.BaseURL, "/"),
		accessToken: params.AccessToken,
		logger:      logger,
	}, nil
}

// Metadata returns the name and size of a Drive file. Folders and native Google documents
// have no size and are reported as invalid metadata.
func (r *Reader) Metadata(ctx context.Context, objectID string) (relay.ObjectMetadata, error) {
	query := url.Values{}
	query.Set("fields", "name,size")
	query.Set("supportsAllDrives", "true")

	resp, err := r.get(ctx, objectID, query, nil)
	if err != nil {
		return relay.ObjectMetadata{}, sourceError("metadata", objectID, err)
	}
	defer r.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return relay.ObjectMetadata{}, statusError("metadata", objectID, resp)
	}

	var file fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return relay.ObjectMetadata{}, &relay.SourceError{
			Kind: relay.SourceInvalidMetadata, Op: "metadata", ObjectID: objectID, Err: err,
		}
	}

	size, err := strconv.ParseInt(file.Size, 10, 64)
	if err != nil || size < 0 {
		return relay.ObjectMetadata{}, &relay.SourceError{
			Kind:     relay.SourceInvalidMetadata,
			Op:       "metadata",
			ObjectID: objectID,
			Err:      fmt.Errorf("file has no byte size: %q", file.Size),
		}
	}

	return relay.ObjectMetadata{Name: file.Name, TotalSize: size}, nil
}

// ReadRange downloads bytes [offset, offset+length) of the file content.
func (r *Reader) ReadRange(ctx context.Context, objectID string, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || length <= 0 {
		return nil, &relay.SourceError{
			Kind:     relay.SourceRangeUnsatisfiable,
			Op:       "read",
			ObjectID: objectID,
			Err:      fmt.Errorf("invalid range: offset=%d length=%d", offset, length),
		}
	}

	query := url.Values{}
	query.Set("alt", "media")
	query.Set("supportsAllDrives", "true")
	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := r.get(ctx, objectID, query, header)
	if err != nil {
		return nil, sourceError("read", objectID, err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if err := checkContentRange(resp.Header.Get("Content-Range"), offset, length); err != nil {
			r.closeBody(resp.Body)
			return nil, &relay.SourceError{
				Kind:     relay.SourceRangeUnsatisfiable,
				Op:       "read",
				ObjectID: objectID,
				Err:      err,
			}
		}
		return resp.Body, nil
	case resp.StatusCode == http.StatusOK && offset == 0:
		// The range was ignored, the body starts at the first byte.
		return limitedBody{Reader: io.LimitReader(resp.Body, length), Closer: resp.Body}, nil
	case resp.StatusCode == http.StatusOK:
		r.closeBody(resp.Body)
		return nil, &relay.SourceError{
			Kind:     relay.SourceRangeUnsatisfiable,
			Op:       "read",
			ObjectID: objectID,
			Err:      fmt.Errorf("range request was ignored at offset %d", offset),
		}
	default:
		defer r.closeBody(resp.Body)
		return nil, statusError("read", objectID, resp)
	}
}

func (r *Reader) get(ctx context.Context, objectID string, query url.Values, header http.Header) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/drive/v3/files/%s?%s", r.baseURL, url.PathEscape(objectID), query.Encode())
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Authorization", "Bearer "+r.accessToken)

	r.logger.Debugf("GET %s %s", req.URL.Path, req.Header.Get("Range"))
	return r.httpClient.Do(req)
}

func (r *Reader) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		r.logger.Warnf("close response body: %s", err)
	}
}

// checkContentRange verifies that a partial response covers the window starting at offset.
// The window may be shorter than requested at the end of the file.
func checkContentRange(contentRange string, offset, length int64) error {
	var start, end int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-%d", &start, &end); err != nil {
		return fmt.Errorf("invalid content range %q: %w", contentRange, err)
	}
	if start != offset || end < start || end > offset+length-1 {
		return fmt.Errorf("content range %q does not match requested bytes %d-%d", contentRange, offset, offset+length-1)
	}
	return nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, checkErr, err)
		return retry, checkErr
	}
}

// sourceError wraps a transport failure. Cancellation stays non-transient since
// relay.IsTransient checks the context errors first.
func sourceError(op, objectID string, err error) error {
	return &relay.SourceError{Kind: relay.SourceTransient, Op: op, ObjectID: objectID, Err: err}
}

func statusError(op, objectID string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var kind relay.SourceErrorKind
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = relay.SourceNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = relay.SourceAccessDenied
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		kind = relay.SourceRangeUnsatisfiable
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		kind = relay.SourceTransient
	default:
		kind = relay.SourceInvalidMetadata
	}

	return &relay.SourceError{
		Kind:     kind,
		Op:       op,
		ObjectID: objectID,
		Body:     body,
		Err:      fmt.Errorf("HTTP %d", resp.StatusCode),
	}
}
