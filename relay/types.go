// Package relay moves a remote object into a resumable upload endpoint chunk by chunk.
// The endpoint assigns every offset; the relay only bounds the chunk size and streams
// each window straight from the source into the sink.
package relay

import (
	"context"
	"io"
)

// ObjectMetadata describes the source object. It is fetched once per upload.
type ObjectMetadata struct {
	Name      string
	TotalSize int64
}

// UploadSession is the sink-assigned context of one upload attempt.
// NextOffset and EndOffset bound the region the sink still expects.
type UploadSession struct {
	SessionID  string
	ObjectID   string
	NextOffset int64
	EndOffset  int64
	TotalSize  int64
}

// Remaining returns the number of bytes the sink still expects in the current window.
func (s UploadSession) Remaining() int64 {
	return s.EndOffset - s.NextOffset
}

// ChunkRequest is a single window of the source object.
type ChunkRequest struct {
	Offset int64
	Length int64
}

// End returns the exclusive end of the window.
func (c ChunkRequest) End() int64 {
	return c.Offset + c.Length
}

// TransferResult holds the offsets reported by the sink after a chunk was accepted.
type TransferResult struct {
	NextOffset int64
	EndOffset  int64
}

// StartResult is the sink's answer to the start phase.
type StartResult struct {
	SessionID   string
	ObjectID    string
	StartOffset int64
	EndOffset   int64
}

// TransferRequest carries one chunk to the sink. Chunk yields exactly Length bytes.
type TransferRequest struct {
	SessionID string
	Offset    int64
	Length    int64
	Chunk     io.Reader
	Filename  string
}

// FinishRequest closes the session and publishes the object.
type FinishRequest struct {
	SessionID   string
	Title       string
	Description string
}

// FinishResult is the sink's answer to the finish phase.
type FinishResult struct {
	ObjectID string
}

// SourceReader gives random access to a remote object.
type SourceReader interface {
	// Metadata returns the name and size of the object.
	Metadata(ctx context.Context, objectID string) (ObjectMetadata, error)

	// ReadRange opens a stream over [offset, offset+length).
	// The caller closes the returned reader.
	ReadRange(ctx context.Context, objectID string, offset, length int64) (io.ReadCloser, error)
}

// SinkClient performs the three phases of the resumable upload protocol.
type SinkClient interface {
	Start(ctx context.Context, totalSize int64) (StartResult, error)
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	Finish(ctx context.Context, req FinishRequest) (FinishResult, error)
}
