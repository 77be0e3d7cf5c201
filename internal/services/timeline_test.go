package services

import (
	"testing"
	"time"

	"github.com/saeid-a/minicoachy/internal/models"
)

var day = time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func slot(id int64, startHour, startMin, endHour, endMin int) models.Session {
	return models.Session{ID: id, CoachID: 7, StartTime: at(startHour, startMin), EndTime: at(endHour, endMin)}
}

func TestTimelineConflicts(t *testing.T) {
	tl := newTimeline([]models.Session{
		slot(3, 14, 0, 15, 0),
		slot(1, 9, 0, 10, 0),
		slot(2, 10, 0, 11, 0),
	})

	cases := []struct {
		name      string
		start     time.Time
		end       time.Time
		excluding int64
		want      []int64
	}{
		{"inside one", at(9, 15), at(9, 45), 0, []int64{1}},
		{"spanning two", at(9, 30), at(10, 30), 0, []int64{2, 1}},
		{"touching end", at(11, 0), at(12, 0), 0, nil},
		{"touching start", at(8, 0), at(9, 0), 0, nil},
		{"gap", at(12, 0), at(13, 0), 0, nil},
		{"covering all", at(0, 0), at(23, 0), 0, []int64{3, 2, 1}},
		{"self excluded", at(10, 0), at(11, 0), 2, nil},
		{"self excluded keeps neighbours", at(9, 30), at(11, 0), 2, []int64{1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tl.conflicts(tc.start, tc.end, tc.excluding)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %+v", tc.want, got)
			}
			for i, id := range tc.want {
				if got[i].ID != id {
					t.Fatalf("expected %v, got %+v", tc.want, got)
				}
			}
		})
	}
}

func TestTimelineScansUnorderedEnds(t *testing.T) {
	// A long session that contains a later short one breaks end ordering, so
	// the lookup must not stop early.
	tl := newTimeline([]models.Session{
		slot(1, 8, 0, 18, 0),
		slot(2, 9, 0, 9, 30),
	})

	got := tl.conflicts(at(12, 0), at(13, 0), 0)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected long session to conflict, got %+v", got)
	}
}
