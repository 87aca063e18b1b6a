package relay

import "time"

// Stats tracks the transfer loop of a single upload.
// It is owned by the upload's own goroutine and needs no locking.
type Stats struct {
	Chunks        int
	BytesSent     int64
	Attempts      int
	TransferTime  time.Duration
	InitialOffset int64
	FinalOffset   int64
}

func (s *Stats) update(length int64, took time.Duration) {
	s.Chunks++
	s.BytesSent += length
	s.TransferTime += took
}

// Average returns the average duration of a successful chunk transfer.
func (s Stats) Average() time.Duration {
	if s.Chunks == 0 {
		return 0
	}
	return s.TransferTime / time.Duration(s.Chunks)
}
