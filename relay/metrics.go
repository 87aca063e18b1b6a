package relay

import "time"

// Metrics receives upload telemetry. A nil Metrics is valid and records nothing.
type Metrics interface {
	// ObservePhase records one remote call of the given phase.
	ObservePhase(phase Phase, duration time.Duration, err error)

	// RecordChunkBytes records the length of an accepted chunk.
	RecordChunkBytes(bytes int64)

	// UploadStarted marks a new upload as active.
	UploadStarted()

	// UploadCompleted marks an upload as no longer active.
	// Outcome is "finished" or the Kind the upload aborted with.
	UploadCompleted(outcome string)
}

const outcomeFinished = "finished"

func observePhase(m Metrics, phase Phase, start time.Time, err error) {
	if m != nil {
		m.ObservePhase(phase, time.Since(start), err)
	}
}

func recordChunkBytes(m Metrics, bytes int64) {
	if m != nil {
		m.RecordChunkBytes(bytes)
	}
}

func uploadStarted(m Metrics) {
	if m != nil {
		m.UploadStarted()
	}
}

func uploadCompleted(m Metrics, outcome string) {
	if m != nil {
		m.UploadCompleted(outcome)
	}
}
