package googlecal

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"google.golang.org/api/calendar/v3"

	"github.com/hearthlabs/hearthsync/internal/model"
)

const (
	statusCancelled = "cancelled"

	dateLayout = "2006-01-02"

	rrulePrefix = "RRULE:"
)

// toRemoteEvent translates a provider event into the sync engine's read-only
// projection. Cancelled events become deletion markers and carry no fields
// beyond identity and timestamp.
func toRemoteEvent(ev *calendar.Event) (model.RemoteEvent, error) {
	if ev.Id == "" {
		return model.RemoteEvent{}, fmt.Errorf("remote event has no id")
	}

	updated, err := time.Parse(time.RFC3339, ev.Updated)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("remote event %s: bad updated timestamp %q: %w", ev.Id, ev.Updated, err)
	}

	if ev.Status == statusCancelled {
		return model.RemoteEvent{ExternalID: ev.Id, UpdatedAt: updated, Deleted: true}, nil
	}

	startAt, endAt, err := parseEventTimes(ev)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("remote event %s: %w", ev.Id, err)
	}

	recurrence, err := normalizeRecurrence(ev.Recurrence)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("remote event %s: %w", ev.Id, err)
	}

	return model.RemoteEvent{
		ExternalID:  ev.Id,
		Title:       ev.Summary,
		StartAt:     startAt,
		EndAt:       endAt,
		Location:    ev.Location,
		Description: ev.Description,
		Recurrence:  recurrence,
		UpdatedAt:   updated,
	}, nil
}

// parseEventTimes extracts start/end. All-day events (date-only start) map to
// a midnight-UTC start with a nil end, matching the local data model.
func parseEventTimes(ev *calendar.Event) (time.Time, *time.Time, error) {
	if ev.Start == nil {
		return time.Time{}, nil, fmt.Errorf("missing start time")
	}

	if ev.Start.Date != "" {
		start, err := time.ParseInLocation(dateLayout, ev.Start.Date, time.UTC)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("bad all-day start %q: %w", ev.Start.Date, err)
		}
		return start, nil, nil
	}

	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("bad start time %q: %w", ev.Start.DateTime, err)
	}

	var end *time.Time
	if ev.End != nil && ev.End.DateTime != "" {
		e, err := time.Parse(time.RFC3339, ev.End.DateTime)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("bad end time %q: %w", ev.End.DateTime, err)
		}
		end = &e
	}
	return start, end, nil
}

// normalizeRecurrence extracts the RRULE line from a provider recurrence set
// and validates it. EXDATE/RDATE lines are not part of the comparable field
// set and are dropped.
func normalizeRecurrence(lines []string) (string, error) {
	for _, line := range lines {
		if !strings.HasPrefix(line, rrulePrefix) {
			continue
		}
		rule := strings.TrimPrefix(line, rrulePrefix)
		if _, err := rrule.StrToRRule(rule); err != nil {
			return "", fmt.Errorf("bad recurrence rule %q: %w", rule, err)
		}
		return rule, nil
	}
	return "", nil
}

// fieldsToAPIEvent builds the provider payload for a create or update push.
// A nil end time marks the event all-day; Google requires an exclusive end
// date, so the day after the start is used.
func fieldsToAPIEvent(f model.EventFields) *calendar.Event {
	ev := &calendar.Event{
		Summary:     f.Title,
		Location:    f.Location,
		Description: f.Description,
	}

	if f.EndAt == nil {
		start := f.StartAt.UTC()
		ev.Start = &calendar.EventDateTime{Date: start.Format(dateLayout)}
		ev.End = &calendar.EventDateTime{Date: start.AddDate(0, 0, 1).Format(dateLayout)}
	} else {
		ev.Start = &calendar.EventDateTime{DateTime: f.StartAt.UTC().Format(time.RFC3339)}
		ev.End = &calendar.EventDateTime{DateTime: f.EndAt.UTC().Format(time.RFC3339)}
	}

	if f.Recurrence != "" {
		ev.Recurrence = []string{rrulePrefix + f.Recurrence}
	}

	return ev
}
