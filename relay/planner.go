package relay

import "fmt"

// ChunkPlanner sizes the next window from the sink-reported offsets.
// The total object size never takes part in the decision: the sink may shrink its
// window independently of the file size.
type ChunkPlanner struct {
	maxChunkSize int64
}

// NewChunkPlanner creates a planner that never plans windows above maxChunkSize.
func NewChunkPlanner(maxChunkSize int64) (ChunkPlanner, error) {
	if maxChunkSize <= 0 {
		return ChunkPlanner{}, fmt.Errorf("max chunk size must be positive, got %d", maxChunkSize)
	}
	return ChunkPlanner{maxChunkSize: maxChunkSize}, nil
}

// MaxChunkSize ...
func (p ChunkPlanner) MaxChunkSize() int64 {
	return p.maxChunkSize
}

// Plan returns the next window, or done=true once NextOffset reached EndOffset.
func (p ChunkPlanner) Plan(session UploadSession) (req ChunkRequest, done bool) {
	remaining := session.Remaining()
	if remaining <= 0 {
		return ChunkRequest{}, true
	}

	length := p.maxChunkSize
	if remaining < length {
		length = remaining
	}

	return ChunkRequest{Offset: session.NextOffset, Length: length}, false
}
