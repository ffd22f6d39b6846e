// Package ics encodes and decodes the iCalendar wire representation of
// calendar events. It is pure and stateless: no I/O, no protocol knowledge.
package ics

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/stevetools/calsync/internal/store"
)

const prodID = "-//stevetools//calsync//EN"

// defaultDuration is assumed when a VEVENT has no DTEND.
const defaultDuration = time.Hour

// VEventRecord is one decoded VEVENT component. A single calendar object can
// contain several records sharing a UID with different recurrence ids
// (recurrence overrides).
type VEventRecord struct {
	UID          string
	RecurrenceID string // RFC3339, empty when not an override
	Summary      string
	Description  string
	Location     string
	Start        time.Time
	End          time.Time
	AllDay       bool
	Created      time.Time // zero when absent
	LastModified time.Time // zero when absent
}

// DerivedID computes the stable local event id for a record: the UID, with
// the recurrence id appended when present, so re-pulling the same remote
// object always maps to the same local event.
func (r VEventRecord) DerivedID() string {
	if r.RecurrenceID != "" {
		return r.UID + "_" + r.RecurrenceID
	}

	return r.UID
}

// Decode parses a raw iCalendar payload into zero or more VEVENT records.
// Components without a usable DTSTART are dropped.
func Decode(payload string) ([]VEventRecord, error) {
	cal, err := ical.NewDecoder(strings.NewReader(payload)).Decode()
	if err != nil {
		return nil, fmt.Errorf("ics: decoding calendar: %w", err)
	}

	var records []VEventRecord

	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}

		rec, err := decodeEvent(child)
		if err != nil {
			return nil, err
		}

		if rec.Start.IsZero() {
			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

func decodeEvent(comp *ical.Component) (VEventRecord, error) {
	var rec VEventRecord

	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		rec.UID = prop.Value
	}

	rec.Summary = textProp(comp, ical.PropSummary)
	rec.Description = textProp(comp, ical.PropDescription)
	rec.Location = textProp(comp, ical.PropLocation)

	if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return rec, fmt.Errorf("ics: parsing DTSTART: %w", err)
		}

		rec.Start = t.UTC()
		rec.AllDay = prop.ValueType() == ical.ValueDate
	}

	if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return rec, fmt.Errorf("ics: parsing DTEND: %w", err)
		}

		rec.End = t.UTC()
	}

	if rec.End.IsZero() && !rec.Start.IsZero() {
		rec.End = rec.Start.Add(defaultDuration)
	}

	if prop := comp.Props.Get(ical.PropRecurrenceID); prop != nil {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return rec, fmt.Errorf("ics: parsing RECURRENCE-ID: %w", err)
		}

		rec.RecurrenceID = t.UTC().Format(time.RFC3339)
	}

	if prop := comp.Props.Get(ical.PropCreated); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			rec.Created = t.UTC()
		}
	}

	if prop := comp.Props.Get(ical.PropLastModified); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			rec.LastModified = t.UTC()
		}
	}

	return rec, nil
}

func textProp(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}

	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}

	return text
}

// ToEvent maps a decoded record to a local event tagged with the given sync
// source. Remote linkage (URL, ETag) is filled in by the caller from the wire
// object the record came from.
func ToEvent(rec VEventRecord, sourceTag string, now time.Time) *store.Event {
	title := rec.Summary
	if title == "" {
		title = "(untitled)"
	}

	createdAt := rec.Created
	if createdAt.IsZero() {
		createdAt = now
	}

	updatedAt := rec.LastModified
	if updatedAt.IsZero() {
		updatedAt = now
	}

	return &store.Event{
		ID:          rec.DerivedID(),
		Title:       title,
		Description: rec.Description,
		Location:    rec.Location,
		Start:       rec.Start,
		End:         rec.End,
		AllDay:      rec.AllDay,
		Source:      sourceTag,
		RemoteUID:   rec.UID,
		NeedsPush:   false,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// Encode produces the wire payload for a local event: UID, DTSTAMP, start and
// end, summary, plus description and location when non-empty. All-day events
// are encoded as VALUE=DATE pairs with an exclusive end date, per the
// half-open-interval convention. Output is kept minimal: extraneous fields
// are a common cause of provider-specific rejection.
func Encode(ev *store.Event, now time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropMethod, "PUBLISH")

	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, ev.ID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	if ev.AllDay {
		start := ev.Start.UTC().Truncate(24 * time.Hour)

		end := start.Add(24 * time.Hour)
		if ev.End.UTC().After(end) {
			end = ev.End.UTC().Truncate(24 * time.Hour)
		}

		event.Props.Set(dateProp(ical.PropDateTimeStart, start))
		event.Props.Set(dateProp(ical.PropDateTimeEnd, end))
	} else {
		end := ev.End
		if !end.After(ev.Start) {
			end = ev.Start.Add(defaultDuration)
		}

		event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	}

	title := ev.Title
	if title == "" {
		title = "(untitled)"
	}

	event.Props.SetText(ical.PropSummary, title)

	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}

	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}

	cal.Children = append(cal.Children, event)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("ics: encoding event %s: %w", ev.ID, err)
	}

	return buf.String(), nil
}

func dateProp(name string, t time.Time) *ical.Prop {
	prop := ical.NewProp(name)
	prop.SetValueType(ical.ValueDate)
	prop.Value = t.UTC().Format("20060102")

	return prop
}
