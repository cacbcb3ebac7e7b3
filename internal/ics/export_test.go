package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"github.com/satoqz/rapla-sync/internal/rapla"
)

func sampleCalendar() *rapla.Calendar {
	room := "Room 101"
	return &rapla.Calendar{
		Name: "Informatik TINF20",
		Events: []rapla.Event{
			{
				Date:     rapla.NewDate(2020, time.February, 3),
				Start:    rapla.Clock{Hour: 9},
				End:      rapla.Clock{Hour: 10, Minute: 30},
				Title:    "Algorithms & Data Structures",
				Location: &room,
			},
			{
				Date:  rapla.NewDate(2020, time.February, 4),
				Start: rapla.Clock{Hour: 14},
				End:   rapla.Clock{Hour: 15, Minute: 30},
				Title: "Theory",
			},
		},
	}
}

func TestSerializeDocumentShape(t *testing.T) {
	out := Serialize(sampleCalendar())

	assert.Equal(t, 1, strings.Count(out, "BEGIN:VTIMEZONE"), "exactly one timezone definition")
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"), "one VEVENT per event")

	assert.Contains(t, out, "VERSION:2.0")
	assert.Contains(t, out, "PRODID:Informatik TINF20")

	assert.Contains(t, out, "TZID:Europe/Berlin")
	assert.Contains(t, out, "TZNAME:CEST")
	assert.Contains(t, out, "TZOFFSETFROM:+0100")
	assert.Contains(t, out, "RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU")
	assert.Contains(t, out, "TZNAME:CET")
	assert.Contains(t, out, "TZOFFSETFROM:+0200")
	assert.Contains(t, out, "RRULE:FREQ=YEARLY;BYMONTH=10;BYDAY=-1SU")

	assert.Contains(t, out, "DTSTART:20200203T090000")
	assert.Contains(t, out, "DTEND:20200203T103000")
	assert.Contains(t, out, "SUMMARY:Algorithms & Data Structures")
	assert.Contains(t, out, "UID:20200203T090000_Algorithms-&-Data-Structures")

	// Location only for the event that has one.
	assert.Equal(t, 1, strings.Count(out, "LOCATION:"))
	assert.Contains(t, out, "LOCATION:Room 101")

	// Events keep extraction order.
	assert.Less(t,
		strings.Index(out, "SUMMARY:Algorithms & Data Structures"),
		strings.Index(out, "SUMMARY:Theory"))
}

func TestSerializeLocalInstants(t *testing.T) {
	out := Serialize(sampleCalendar())

	// Instants are local to the embedded timezone: no UTC suffix.
	for _, line := range strings.Split(out, "\r\n") {
		if strings.HasPrefix(line, "DTSTART:") || strings.HasPrefix(line, "DTEND:") {
			assert.False(t, strings.HasSuffix(line, "Z"), "unexpected UTC instant: %s", line)
		}
	}
}

// The hard-coded transition rules must actually select the last Sundays
// of October and March.
func TestTransitionRulesPickLastSundays(t *testing.T) {
	cases := []struct {
		transition tzTransition
		want       time.Time
	}{
		{berlinTimezone.standard, time.Date(2024, time.October, 27, 3, 0, 0, 0, time.UTC)},
		{berlinTimezone.daylight, time.Date(2024, time.March, 31, 2, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		rule, err := rrule.StrToRRule(tc.transition.rrule)
		require.NoError(t, err)

		dtstart, err := time.Parse("20060102T150405", tc.transition.start)
		require.NoError(t, err)
		rule.DTStart(dtstart.UTC())

		next := rule.After(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), false)
		assert.Equal(t, tc.want, next, "rule %s", tc.transition.rrule)
	}
}
