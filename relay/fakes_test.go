package relay

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// fakeSource serves either data or, when data is nil, size bytes of filler.
type fakeSource struct {
	name    string
	data    []byte
	size    int64
	metaErr error
	// readErrs fails the n-th ReadRange call (1-based).
	readErrs map[int]error
	// shortBy makes every stream end that many bytes early.
	shortBy int64

	reads []ChunkRequest
}

func newDataSource(name string, data []byte) *fakeSource {
	return &fakeSource{name: name, data: data, size: int64(len(data))}
}

func newSizedSource(name string, size int64) *fakeSource {
	return &fakeSource{name: name, size: size}
}

func (s *fakeSource) Metadata(_ context.Context, _ string) (ObjectMetadata, error) {
	if s.metaErr != nil {
		return ObjectMetadata{}, s.metaErr
	}
	return ObjectMetadata{Name: s.name, TotalSize: s.size}, nil
}

func (s *fakeSource) ReadRange(_ context.Context, objectID string, offset, length int64) (io.ReadCloser, error) {
	s.reads = append(s.reads, ChunkRequest{Offset: offset, Length: length})
	if err, ok := s.readErrs[len(s.reads)]; ok {
		return nil, err
	}
	if offset < 0 || offset+length > s.size {
		return nil, &SourceError{Kind: SourceRangeUnsatisfiable, Op: "read", ObjectID: objectID}
	}

	n := length - s.shortBy
	if s.data != nil {
		return io.NopCloser(bytes.NewReader(s.data[offset : offset+n])), nil
	}
	return io.NopCloser(io.LimitReader(fillerReader{}, n)), nil
}

// fillerReader reports full reads without touching the buffer.
type fillerReader struct{}

func (fillerReader) Read(p []byte) (int, error) {
	return len(p), nil
}

type transferCall struct {
	SessionID string
	Offset    int64
	Length    int64
	Received  int64
	Filename  string
}

// fakeSink accepts every chunk and, unless respond is set, advances by the
// received length while keeping the end offset of the start response.
type fakeSink struct {
	start     StartResult
	startErr  error
	respond   func(call int, req TransferRequest, received int64) (TransferResult, error)
	finish    FinishResult
	finishErr error

	mu         sync.Mutex
	transfers  []transferCall
	received   bytes.Buffer
	keepBytes  bool
	finishReqs []FinishRequest
	startCalls int
}

func (s *fakeSink) Start(_ context.Context, _ int64) (StartResult, error) {
	s.startCalls++
	if s.startErr != nil {
		return StartResult{}, s.startErr
	}
	return s.start, nil
}

func (s *fakeSink) Transfer(_ context.Context, req TransferRequest) (TransferResult, error) {
	var dst io.Writer = io.Discard
	if s.keepBytes {
		dst = &s.received
	}
	n, err := io.Copy(dst, req.Chunk)

	s.mu.Lock()
	s.transfers = append(s.transfers, transferCall{
		SessionID: req.SessionID,
		Offset:    req.Offset,
		Length:    req.Length,
		Received:  n,
		Filename:  req.Filename,
	})
	call := len(s.transfers)
	s.mu.Unlock()

	if err != nil {
		return TransferResult{}, err
	}
	if s.respond != nil {
		return s.respond(call, req, n)
	}
	return TransferResult{NextOffset: req.Offset + n, EndOffset: s.start.EndOffset}, nil
}

func (s *fakeSink) Finish(_ context.Context, req FinishRequest) (FinishResult, error) {
	s.finishReqs = append(s.finishReqs, req)
	if s.finishErr != nil {
		return FinishResult{}, s.finishErr
	}
	return s.finish, nil
}

type fakeMetrics struct {
	phases   map[Phase]int
	bytes    int64
	started  int
	outcomes []string
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{phases: map[Phase]int{}}
}

func (m *fakeMetrics) ObservePhase(phase Phase, _ time.Duration, _ error) {
	m.phases[phase]++
}

func (m *fakeMetrics) RecordChunkBytes(bytes int64) {
	m.bytes += bytes
}

func (m *fakeMetrics) UploadStarted() {
	m.started++
}

func (m *fakeMetrics) UploadCompleted(outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}
