package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// ErrOffsetOutOfRange is wrapped when the sink reports offsets that break
// 0 <= next <= end <= total size.
var ErrOffsetOutOfRange = errors.New("sink reported offsets outside of the object")

var errChunkShortRead = errors.New("source stream ended before the end of the chunk")

// Request is a single upload job.
type Request struct {
	SourceObjectID string
	Caption        string
}

// Result describes a finished upload.
type Result struct {
	RunID     string
	ObjectID  string
	Name      string
	TotalSize int64
	Stats     Stats
	Duration  time.Duration
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics ...
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracker sends analytics events for every upload.
func WithTracker(t analytics.Tracker) Option {
	return func(o *Orchestrator) {
		o.tracker = t
	}
}

// Orchestrator drives uploads from a SourceReader into a SinkClient.
// It keeps no per-upload state, so one value can serve concurrent uploads.
type Orchestrator struct {
	source  SourceReader
	sink    SinkClient
	planner ChunkPlanner
	config  Config
	logger  log.Logger
	metrics Metrics
	tracker analytics.Tracker
}

// New creates an Orchestrator.
func New(source SourceReader, sink SinkClient, config Config, logger log.Logger, opts ...Option) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("source reader must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink client must not be nil")
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	planner, err := NewChunkPlanner(config.MaxChunkSize)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.NewLogger()
	}

	o := &Orchestrator{
		source:  source,
		sink:    sink,
		planner: planner,
		config:  config,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Upload relays the source object and returns the object id assigned by the sink.
func (o *Orchestrator) Upload(ctx context.Context, sourceObjectID, caption string) (string, error) {
	result, err := o.Run(ctx, Request{SourceObjectID: sourceObjectID, Caption: caption})
	if err != nil {
		return "", err
	}
	return result.ObjectID, nil
}

// Run relays the source object and reports how the transfer went.
// Any returned error other than an invalid request is an *UploadError.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if req.SourceObjectID == "" {
		return nil, fmt.Errorf("source object id must not be empty")
	}
	if req.Caption == "" {
		req.Caption = DefaultCaption
	}

	u := o.newUpload(req)
	startTime := time.Now()
	uploadStarted(o.metrics)

	for !u.state.Terminal() {
		if err := u.step(ctx); err != nil {
			u.abort(err)
		}
	}

	took := time.Since(startTime)
	if u.err != nil {
		uploadCompleted(o.metrics, string(u.err.Kind))
		u.events.logUploadAborted(u.err, u.stats)
		return nil, u.err
	}

	uploadCompleted(o.metrics, outcomeFinished)
	u.events.logUploadFinished(took, u.stats)
	o.logger.Donef("Upload finished in %s, object id: %s", took.Round(time.Second), u.objectID)

	return &Result{
		RunID:     u.runID,
		ObjectID:  u.objectID,
		Name:      u.meta.Name,
		TotalSize: u.meta.TotalSize,
		Stats:     u.stats,
		Duration:  took,
	}, nil
}

// upload is the run-local state of one Run call.
type upload struct {
	*Orchestrator

	runID    string
	req      Request
	state    State
	meta     ObjectMetadata
	session  UploadSession
	objectID string
	stats    Stats
	events   uploadTracker
	err      *UploadError
}

func (o *Orchestrator) newUpload(req Request) *upload {
	runID := uuid.NewString()
	return &upload{
		Orchestrator: o,
		runID:        runID,
		req:          req,
		state:        StateIdle,
		events:       newUploadTracker(o.tracker, runID),
	}
}

func (u *upload) step(ctx context.Context) error {
	switch u.state {
	case StateIdle:
		return u.fetchMetadata(ctx)
	case StateMetadataFetched:
		return u.startSession(ctx)
	case StateSessionStarted, StateTransferring:
		return u.transferNext(ctx)
	}
	return fmt.Errorf("no step defined for state %s", u.state)
}

func (u *upload) transition(to State) error {
	if !canTransition(u.state, to) {
		return fmt.Errorf("illegal transition %s -> %s", u.state, to)
	}
	if u.state != to {
		u.logger.Debugf("[%s] %s -> %s", u.runID, u.state, to)
	}
	u.state = to
	return nil
}

// abort moves the upload into its terminal failure state. Finish is never called afterwards.
func (u *upload) abort(err error) {
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		uploadErr = u.newError(kindOf(u.state), -1, err)
		uploadErr.Fatal = true
	}

	u.err = uploadErr
	u.state = StateAborted
	u.logger.Errorf("[%s] Upload aborted in state %s: %s", u.runID, uploadErr.State, uploadErr)
	if body := RemoteBody(uploadErr); len(body) > 0 {
		u.logger.Debugf("[%s] Remote error body: %s", u.runID, body)
	}
}

func (u *upload) newError(kind Kind, offset int64, err error) *UploadError {
	return &UploadError{
		Kind:   kind,
		State:  u.state,
		Offset: offset,
		Fatal:  !IsTransient(err),
		Err:    err,
	}
}

// kindOf names the failure of the step that runs next from the given state.
func kindOf(state State) Kind {
	switch state {
	case StateIdle:
		return SourceUnavailable
	case StateMetadataFetched:
		return SessionStartFailed
	default:
		return ChunkUploadFailed
	}
}

func (u *upload) fetchMetadata(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return u.newError(SourceUnavailable, -1, err)
	}

	meta, err := u.source.Metadata(ctx, u.req.SourceObjectID)
	if err != nil {
		return u.newError(SourceUnavailable, -1, err)
	}
	if meta.TotalSize < 0 {
		return u.newError(SourceUnavailable, -1, &SourceError{
			Kind:     SourceInvalidMetadata,
			Op:       "metadata",
			ObjectID: u.req.SourceObjectID,
			Err:      fmt.Errorf("negative size %d", meta.TotalSize),
		})
	}

	u.meta = meta
	u.logger.Infof("File: %s (%s)", meta.Name, units.HumanSizeWithPrecision(float64(meta.TotalSize), 3))
	return u.transition(StateMetadataFetched)
}

func (u *upload) startSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return u.newError(SessionStartFailed, -1, err)
	}

	start := time.Now()
	res, err := u.sink.Start(ctx, u.meta.TotalSize)
	observePhase(u.metrics, PhaseStart, start, err)
	if err != nil {
		return u.newError(SessionStartFailed, -1, err)
	}

	session := UploadSession{
		SessionID:  res.SessionID,
		ObjectID:   res.ObjectID,
		NextOffset: res.StartOffset,
		EndOffset:  res.EndOffset,
		TotalSize:  u.meta.TotalSize,
	}
	if session.SessionID == "" {
		err = errors.New("sink returned no session id")
	} else {
		err = validateOffsets(session)
	}
	if err != nil {
		uploadErr := u.newError(SessionStartFailed, -1, err)
		uploadErr.Fatal = true
		return uploadErr
	}

	u.session = session
	u.stats.InitialOffset = session.NextOffset
	u.stats.FinalOffset = session.EndOffset
	u.events.logSessionStarted(u.meta, session)
	u.logger.Donef("Start phase: session %s, object %s, window %d-%d", session.SessionID, session.ObjectID, session.NextOffset, session.EndOffset)
	return u.transition(StateSessionStarted)
}

func (u *upload) transferNext(ctx context.Context) error {
	if err := u.transition(StateTransferring); err != nil {
		return err
	}

	chunk, done := u.planner.Plan(u.session)
	if done {
		return u.finish(ctx)
	}

	result, err := u.sendChunk(ctx, chunk)
	if err != nil {
		return err
	}

	previous := u.session.NextOffset
	if result.NextOffset <= previous {
		uploadErr := u.newError(StalledUpload, chunk.Offset, fmt.Errorf("next offset %d did not advance past %d", result.NextOffset, previous))
		uploadErr.Fatal = true
		return uploadErr
	}

	next := u.session
	next.NextOffset = result.NextOffset
	next.EndOffset = result.EndOffset
	if err := validateOffsets(next); err != nil {
		uploadErr := u.newError(ChunkUploadFailed, chunk.Offset, err)
		uploadErr.Fatal = true
		return uploadErr
	}

	u.session = next
	u.stats.FinalOffset = next.EndOffset
	u.logger.Printf("Uploaded %d-%d -> next offset: %d (%s of %s)",
		chunk.Offset, chunk.End()-1, next.NextOffset,
		units.HumanSizeWithPrecision(float64(next.NextOffset), 3),
		units.HumanSizeWithPrecision(float64(next.TotalSize), 3))
	return nil
}

// sendChunk streams one window from the source into the sink, retrying transient
// failures up to Config.ChunkAttempts times. Every attempt reopens the source range.
// A cancellation during the retry wait aborts right away and keeps the last failure as cause.
func (u *upload) sendChunk(ctx context.Context, chunk ChunkRequest) (TransferResult, error) {
	var result TransferResult
	var last *UploadError
	err := retry.Times(uint(u.config.ChunkAttempts - 1)).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			if err := sleepContext(ctx, u.config.RetryWait); err != nil {
				cancelled := u.newError(last.Kind, chunk.Offset, fmt.Errorf("%w (last attempt: %w)", err, last.Err))
				cancelled.Fatal = true
				return cancelled, true
			}
			u.logger.Warnf("[%s] Retrying chunk %d-%d (attempt %d/%d)", u.runID, chunk.Offset, chunk.End()-1, attempt+1, u.config.ChunkAttempts)
		}

		res, err := u.transferChunk(ctx, chunk)
		if err != nil {
			if !err.Fatal {
				u.logger.Warnf("[%s] Chunk %d-%d attempt %d failed: %s", u.runID, chunk.Offset, chunk.End()-1, attempt+1, err)
			}
			last = err
			return err, err.Fatal
		}
		result = res
		return nil, true
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (u *upload) transferChunk(ctx context.Context, chunk ChunkRequest) (TransferResult, *UploadError) {
	if err := ctx.Err(); err != nil {
		return TransferResult{}, u.newError(ChunkReadFailed, chunk.Offset, err)
	}
	u.stats.Attempts++

	body, err := u.source.ReadRange(ctx, u.req.SourceObjectID, chunk.Offset, chunk.Length)
	if err != nil {
		return TransferResult{}, u.newError(ChunkReadFailed, chunk.Offset, err)
	}
	defer func() {
		if err := body.Close(); err != nil {
			u.logger.Debugf("close chunk stream: %s", err)
		}
	}()

	reader := &chunkReader{r: body, remaining: chunk.Length}
	start := time.Now()
	res, err := u.sink.Transfer(ctx, TransferRequest{
		SessionID: u.session.SessionID,
		Offset:    chunk.Offset,
		Length:    chunk.Length,
		Chunk:     reader,
		Filename:  u.meta.Name,
	})
	observePhase(u.metrics, PhaseTransfer, start, err)
	if reader.err != nil {
		return TransferResult{}, u.newError(ChunkReadFailed, chunk.Offset, reader.err)
	}
	if err != nil {
		return TransferResult{}, u.newError(ChunkUploadFailed, chunk.Offset, err)
	}
	if reader.read != chunk.Length {
		uploadErr := u.newError(ChunkUploadFailed, chunk.Offset, fmt.Errorf("sink consumed %d of %d chunk bytes", reader.read, chunk.Length))
		uploadErr.Fatal = true
		return TransferResult{}, uploadErr
	}

	took := time.Since(start)
	u.stats.update(chunk.Length, took)
	recordChunkBytes(u.metrics, chunk.Length)
	u.logger.Debugf("[%s] Chunk %d-%d sent in %s (avg %s)", u.runID, chunk.Offset, chunk.End()-1, took.Round(time.Millisecond), u.stats.Average().Round(time.Millisecond))
	return res, nil
}

func (u *upload) finish(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return u.newError(SessionFinishFailed, -1, err)
	}

	start := time.Now()
	res, err := u.sink.Finish(ctx, FinishRequest{
		SessionID:   u.session.SessionID,
		Title:       u.meta.Name,
		Description: u.req.Caption,
	})
	observePhase(u.metrics, PhaseFinish, start, err)
	if err != nil {
		return u.newError(SessionFinishFailed, -1, err)
	}

	objectID := res.ObjectID
	if objectID == "" {
		objectID = u.session.ObjectID
	}
	if objectID == "" {
		uploadErr := u.newError(SessionFinishFailed, -1, errors.New("sink assigned no object id"))
		uploadErr.Fatal = true
		return uploadErr
	}

	u.objectID = objectID
	return u.transition(StateFinished)
}

func validateOffsets(s UploadSession) error {
	if s.NextOffset < 0 || s.NextOffset > s.EndOffset || s.EndOffset > s.TotalSize {
		return fmt.Errorf("%w: next=%d end=%d total=%d", ErrOffsetOutOfRange, s.NextOffset, s.EndOffset, s.TotalSize)
	}
	return nil
}

// chunkReader yields exactly the planned window and records source failures,
// so a broken source stream is not mistaken for a sink rejection.
type chunkReader struct {
	r         io.Reader
	remaining int64
	read      int64
	err       error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}

	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	c.read += int64(n)

	switch {
	case err == io.EOF && c.remaining > 0:
		c.err = errChunkShortRead
		return n, c.err
	case err == io.EOF:
		return n, io.EOF
	case err != nil:
		c.err = err
	}
	return n, err
}
