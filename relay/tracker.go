package relay

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
)

// uploadTracker sends upload events when an analytics tracker is configured.
type uploadTracker struct {
	tracker analytics.Tracker
	runID   string
}

func newUploadTracker(tracker analytics.Tracker, runID string) uploadTracker {
	return uploadTracker{tracker: tracker, runID: runID}
}

func (t uploadTracker) enqueue(event string, properties analytics.Properties) {
	if t.tracker == nil {
		return
	}
	properties["run_id"] = t.runID
	t.tracker.Enqueue(event, properties)
}

func (t uploadTracker) logSessionStarted(meta ObjectMetadata, session UploadSession) {
	t.enqueue("relay_session_started", analytics.Properties{
		"total_size_bytes": meta.TotalSize,
		"start_offset":     session.NextOffset,
		"end_offset":       session.EndOffset,
	})
}

func (t uploadTracker) logUploadFinished(uploadTime time.Duration, stats Stats) {
	t.enqueue("relay_upload_finished", analytics.Properties{
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes": stats.BytesSent,
		"chunk_count":       stats.Chunks,
		"attempt_count":     stats.Attempts,
	})
}

func (t uploadTracker) logUploadAborted(err *UploadError, stats Stats) {
	t.enqueue("relay_upload_aborted", analytics.Properties{
		"reason":            string(err.Kind),
		"state":             err.State.String(),
		"fatal":             err.Fatal,
		"upload_size_bytes": stats.BytesSent,
		"chunk_count":       stats.Chunks,
	})
}
