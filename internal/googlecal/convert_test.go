package googlecal

import (
	"strings"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/hearthlabs/hearthsync/internal/model"
)

func timedAPIEvent() *calendar.Event {
	return &calendar.Event{
		Id:          "goog-1",
		Summary:     "Soccer practice",
		Location:    "Riverside field",
		Description: "Bring cleats",
		Status:      "confirmed",
		Updated:     "2026-03-01T10:00:00Z",
		Start:       &calendar.EventDateTime{DateTime: "2026-03-01T12:00:00Z"},
		End:         &calendar.EventDateTime{DateTime: "2026-03-01T13:00:00Z"},
	}
}

// ---------------------------------------------------------------------------
// toRemoteEvent
// ---------------------------------------------------------------------------

func TestToRemoteEvent_Timed(t *testing.T) {
	rev, err := toRemoteEvent(timedAPIEvent())
	if err != nil {
		t.Fatalf("toRemoteEvent: %v", err)
	}

	if rev.ExternalID != "goog-1" {
		t.Errorf("ExternalID = %q, want goog-1", rev.ExternalID)
	}
	if rev.Title != "Soccer practice" {
		t.Errorf("Title = %q", rev.Title)
	}
	wantStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !rev.StartAt.Equal(wantStart) {
		t.Errorf("StartAt = %v, want %v", rev.StartAt, wantStart)
	}
	if rev.EndAt == nil || !rev.EndAt.Equal(wantStart.Add(time.Hour)) {
		t.Errorf("EndAt = %v, want %v", rev.EndAt, wantStart.Add(time.Hour))
	}
	if rev.Deleted {
		t.Error("confirmed event reported deleted")
	}
}

func TestToRemoteEvent_AllDay(t *testing.T) {
	ev := timedAPIEvent()
	ev.Start = &calendar.EventDateTime{Date: "2026-03-01"}
	ev.End = &calendar.EventDateTime{Date: "2026-03-02"}

	rev, err := toRemoteEvent(ev)
	if err != nil {
		t.Fatalf("toRemoteEvent: %v", err)
	}
	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !rev.StartAt.Equal(wantStart) {
		t.Errorf("StartAt = %v, want %v", rev.StartAt, wantStart)
	}
	if rev.EndAt != nil {
		t.Errorf("EndAt = %v, want nil for all-day", rev.EndAt)
	}
}

func TestToRemoteEvent_Cancelled(t *testing.T) {
	// Cancelled events arrive stripped of everything but identity.
	ev := &calendar.Event{
		Id:      "goog-2",
		Status:  "cancelled",
		Updated: "2026-03-01T10:00:00Z",
	}

	rev, err := toRemoteEvent(ev)
	if err != nil {
		t.Fatalf("toRemoteEvent: %v", err)
	}
	if !rev.Deleted {
		t.Error("cancelled event not marked deleted")
	}
	if rev.ExternalID != "goog-2" {
		t.Errorf("ExternalID = %q", rev.ExternalID)
	}
}

func TestToRemoteEvent_Recurrence(t *testing.T) {
	ev := timedAPIEvent()
	ev.Recurrence = []string{"EXDATE:20260308T120000Z", "RRULE:FREQ=WEEKLY;BYDAY=SU"}

	rev, err := toRemoteEvent(ev)
	if err != nil {
		t.Fatalf("toRemoteEvent: %v", err)
	}
	if rev.Recurrence != "FREQ=WEEKLY;BYDAY=SU" {
		t.Errorf("Recurrence = %q", rev.Recurrence)
	}
}

func TestToRemoteEvent_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*calendar.Event)
	}{
		{"missing id", func(ev *calendar.Event) { ev.Id = "" }},
		{"bad updated", func(ev *calendar.Event) { ev.Updated = "yesterday" }},
		{"missing start", func(ev *calendar.Event) { ev.Start = nil }},
		{"bad start", func(ev *calendar.Event) { ev.Start = &calendar.EventDateTime{DateTime: "noon"} }},
		{"bad rrule", func(ev *calendar.Event) { ev.Recurrence = []string{"RRULE:FREQ=SOMETIMES"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := timedAPIEvent()
			tt.mutate(ev)
			if _, err := toRemoteEvent(ev); err == nil {
				t.Error("expected translation error")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// fieldsToAPIEvent
// ---------------------------------------------------------------------------

func TestFieldsToAPIEvent_Timed(t *testing.T) {
	end := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	f := model.EventFields{
		Title:       "Soccer practice",
		StartAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EndAt:       &end,
		Location:    "Riverside field",
		Description: "Bring cleats",
		Recurrence:  "FREQ=WEEKLY;BYDAY=SU",
	}

	ev := fieldsToAPIEvent(f)
	if ev.Start.DateTime != "2026-03-01T12:00:00Z" {
		t.Errorf("Start.DateTime = %q", ev.Start.DateTime)
	}
	if ev.End.DateTime != "2026-03-01T13:00:00Z" {
		t.Errorf("End.DateTime = %q", ev.End.DateTime)
	}
	if len(ev.Recurrence) != 1 || !strings.HasPrefix(ev.Recurrence[0], "RRULE:") {
		t.Errorf("Recurrence = %v", ev.Recurrence)
	}
}

func TestFieldsToAPIEvent_AllDay(t *testing.T) {
	f := model.EventFields{
		Title:   "Spring break",
		StartAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	ev := fieldsToAPIEvent(f)
	if ev.Start.Date != "2026-03-01" {
		t.Errorf("Start.Date = %q", ev.Start.Date)
	}
	// Google all-day ends are exclusive: the next day.
	if ev.End.Date != "2026-03-02" {
		t.Errorf("End.Date = %q", ev.End.Date)
	}
	if ev.Start.DateTime != "" {
		t.Error("all-day event must not carry a DateTime")
	}
}

// Round trip: a pushed field set must translate back to equal content,
// otherwise every push would echo as a phantom remote change.
func TestConvert_RoundTripPreservesContent(t *testing.T) {
	end := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	f := model.EventFields{
		Title:      "Soccer practice",
		StartAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EndAt:      &end,
		Location:   "Riverside field",
		Recurrence: "FREQ=WEEKLY;BYDAY=SU",
	}

	ev := fieldsToAPIEvent(f)
	ev.Id = "goog-9"
	ev.Updated = "2026-03-01T12:00:01Z"

	rev, err := toRemoteEvent(ev)
	if err != nil {
		t.Fatalf("toRemoteEvent: %v", err)
	}
	if !rev.Fields().Equal(f) {
		t.Errorf("round trip changed content:\n got %+v\nwant %+v", rev.Fields(), f)
	}
}
