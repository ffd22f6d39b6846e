package engine

import "time"

// SyncWindow bounds a run to a practical horizon: the start of the previous
// month through the end of the month after next. Keeps fetch batches small
// without missing anything a user is likely to look at.
func SyncWindow(now time.Time) (start, end time.Time) {
	now = now.UTC()

	start = time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(now.Year(), now.Month()+3, 1, 0, 0, 0, 0, time.UTC)

	return start, end
}
