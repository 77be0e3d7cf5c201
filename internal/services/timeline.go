package services

import (
	"sort"
	"time"

	"github.com/saeid-a/minicoachy/internal/models"
)

// timeline is one coach's sessions sorted by start time. A committed,
// non-overlapping timeline also has sorted end times, which lets a lookup stop
// at the first session that ends at or before the candidate's start.
type timeline struct {
	sessions    []models.Session
	endsInOrder bool
}

func newTimeline(sessions []models.Session) *timeline {
	sorted := make([]models.Session, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	endsInOrder := true
	for i := 1; i < len(sorted); i++ {
		if sorted[i].EndTime.Before(sorted[i-1].EndTime) {
			endsInOrder = false
			break
		}
	}
	return &timeline{sessions: sorted, endsInOrder: endsInOrder}
}

// conflicts returns the sessions, other than excludingID, overlapping
// [start, end). excludingID 0 excludes nothing.
func (t *timeline) conflicts(start, end time.Time, excludingID int64) []models.Session {
	// Sessions from upper on start at or after end and cannot overlap.
	upper := sort.Search(len(t.sessions), func(i int) bool {
		return !t.sessions[i].StartTime.Before(end)
	})

	var out []models.Session
	for i := upper - 1; i >= 0; i-- {
		s := t.sessions[i]
		if excludingID != 0 && s.ID == excludingID {
			continue
		}
		if s.Overlaps(start, end) {
			out = append(out, s)
			continue
		}
		if t.endsInOrder && !s.EndTime.After(start) {
			break
		}
	}
	return out
}
