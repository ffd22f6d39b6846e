package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevetools/calsync/internal/store"
)

func icsPayload(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestDecode_SingleEvent(t *testing.T) {
	payload := icsPayload(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:abc-123",
		"DTSTAMP:20240301T000000Z",
		"DTSTART:20240315T090000Z",
		"DTEND:20240315T100000Z",
		"SUMMARY:Standup",
		"DESCRIPTION:Daily status",
		"LOCATION:Room 4",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "abc-123", rec.UID)
	assert.Equal(t, "Standup", rec.Summary)
	assert.Equal(t, "Daily status", rec.Description)
	assert.Equal(t, "Room 4", rec.Location)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), rec.Start)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), rec.End)
	assert.False(t, rec.AllDay)
	assert.Empty(t, rec.RecurrenceID)
	assert.Equal(t, "abc-123", rec.DerivedID())
}

func TestDecode_MissingEndDefaultsToOneHour(t *testing.T) {
	payload := icsPayload(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:no-end",
		"DTSTAMP:20240301T000000Z",
		"DTSTART:20240315T090000Z",
		"SUMMARY:Open ended",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, records[0].Start.Add(time.Hour), records[0].End)
}

func TestDecode_AllDay(t *testing.T) {
	payload := icsPayload(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:allday-1",
		"DTSTAMP:20240301T000000Z",
		"DTSTART;VALUE=DATE:20240315",
		"DTEND;VALUE=DATE:20240316",
		"SUMMARY:Holiday",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.True(t, rec.AllDay)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), rec.Start)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), rec.End)
}

func TestDecode_RecurrenceOverride(t *testing.T) {
	payload := icsPayload(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:weekly-1",
		"DTSTAMP:20240301T000000Z",
		"DTSTART:20240315T090000Z",
		"DTEND:20240315T100000Z",
		"SUMMARY:Series",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:weekly-1",
		"DTSTAMP:20240301T000000Z",
		"RECURRENCE-ID:20240322T090000Z",
		"DTSTART:20240322T100000Z",
		"DTEND:20240322T110000Z",
		"SUMMARY:Series (moved)",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "weekly-1", records[0].DerivedID())
	assert.Equal(t, "weekly-1_2024-03-22T09:00:00Z", records[1].DerivedID())
	assert.NotEqual(t, records[0].DerivedID(), records[1].DerivedID())
}

func TestDecode_DropsEventWithoutStart(t *testing.T) {
	payload := icsPayload(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:no-start",
		"DTSTAMP:20240301T000000Z",
		"SUMMARY:Broken",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:good",
		"DTSTAMP:20240301T000000Z",
		"DTSTART:20240315T090000Z",
		"SUMMARY:Fine",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].UID)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode("this is not a calendar")
	assert.Error(t, err)
}

func TestToEvent_Defaults(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	rec := VEventRecord{
		UID:   "uid-1",
		Start: time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC),
	}

	ev := ToEvent(rec, "qq-sync", now)

	assert.Equal(t, "uid-1", ev.ID)
	assert.Equal(t, "(untitled)", ev.Title)
	assert.Equal(t, "qq-sync", ev.Source)
	assert.Equal(t, "uid-1", ev.RemoteUID)
	assert.False(t, ev.NeedsPush)
	assert.Equal(t, now, ev.CreatedAt)
	assert.Equal(t, now, ev.UpdatedAt)
}

func TestToEvent_KeepsRemoteTimestamps(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	modified := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	ev := ToEvent(VEventRecord{
		UID:          "uid-2",
		Summary:      "Kept",
		Start:        created,
		End:          created.Add(time.Hour),
		Created:      created,
		LastModified: modified,
	}, "generic-sync", now)

	assert.Equal(t, created, ev.CreatedAt)
	assert.Equal(t, modified, ev.UpdatedAt)
}

func TestEncode_TimedEvent(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	ev := &store.Event{
		ID:          "ev-1",
		Title:       "Dentist",
		Description: "Bring insurance card",
		Location:    "Main St",
		Start:       time.Date(2024, 4, 10, 14, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 4, 10, 15, 0, 0, 0, time.UTC),
	}

	payload, err := Encode(ev, now)
	require.NoError(t, err)

	assert.Contains(t, payload, "BEGIN:VCALENDAR")
	assert.Contains(t, payload, "VERSION:2.0")
	assert.Contains(t, payload, "METHOD:PUBLISH")
	assert.Contains(t, payload, "UID:ev-1")
	assert.Contains(t, payload, "SUMMARY:Dentist")
	assert.Contains(t, payload, "DESCRIPTION:Bring insurance card")
	assert.Contains(t, payload, "LOCATION:Main St")
	assert.Contains(t, payload, "DTSTART:20240410T140000Z")
	assert.Contains(t, payload, "DTEND:20240410T150000Z")
	assert.Contains(t, payload, "DTSTAMP:20240401T120000Z")
}

func TestEncode_AllDayUsesDateValuesWithExclusiveEnd(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	ev := &store.Event{
		ID:     "ev-2",
		Title:  "Offsite",
		AllDay: true,
		Start:  time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
	}

	payload, err := Encode(ev, now)
	require.NoError(t, err)

	assert.Contains(t, payload, "DTSTART;VALUE=DATE:20240410")
	assert.Contains(t, payload, "DTEND;VALUE=DATE:20240411")
}

func TestEncode_EndNotAfterStart(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	start := time.Date(2024, 4, 10, 14, 0, 0, 0, time.UTC)
	ev := &store.Event{ID: "ev-3", Title: "Zero length", Start: start, End: start}

	payload, err := Encode(ev, now)
	require.NoError(t, err)

	assert.Contains(t, payload, "DTEND:20240410T150000Z")
}

func TestEncode_RoundTrip(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	ev := &store.Event{
		ID:          "round-1",
		Title:       "Round trip",
		Description: "Line one",
		Start:       time.Date(2024, 4, 10, 14, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 4, 10, 15, 30, 0, 0, time.UTC),
	}

	payload, err := Encode(ev, now)
	require.NoError(t, err)

	records, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, ev.ID, rec.UID)
	assert.Equal(t, ev.Title, rec.Summary)
	assert.Equal(t, ev.Description, rec.Description)
	assert.True(t, ev.Start.Equal(rec.Start))
	assert.True(t, ev.End.Equal(rec.End))
}
