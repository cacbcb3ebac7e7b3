package rapla

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Cell classes used by Rapla's week grid. A separator cell marks the
// start of a new day column; only week_block cells hold sessions.
const (
	classSessionBlock = "week_block"
	classDaySeparator = "week_separatorcell"
)

// nbspHyphen splits the "09:00&nbsp;-10:30" time range once the parser
// has decoded the entity to U+00A0.
const nbspHyphen = "\u00a0-"

// Selectors holds the compiled queries the extractor runs against a
// timetable page. Compiling happens once, in DefaultSelectors; the
// extractor itself never parses selector strings.
type Selectors struct {
	Title      goquery.Matcher
	Year       goquery.Matcher
	Weeks      goquery.Matcher
	WeekNumber goquery.Matcher
	WeekHeader goquery.Matcher
	Rows       goquery.Matcher
	Columns    goquery.Matcher
	Anchor     goquery.Matcher
	Resource   goquery.Matcher
}

// DefaultSelectors returns the queries matching the Rapla page shape.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:      cascadia.MustCompile("title"),
		Year:       cascadia.MustCompile("select[name=year] > option[selected]"),
		Weeks:      cascadia.MustCompile("div.calendar > table.week_table > tbody"),
		WeekNumber: cascadia.MustCompile("th.week_number"),
		WeekHeader: cascadia.MustCompile("tr > td.week_header > nobr"),
		Rows:       cascadia.MustCompile("tr"),
		Columns:    cascadia.MustCompile("td"),
		Anchor:     cascadia.MustCompile("a"),
		Resource:   cascadia.MustCompile("span.resource"),
	}
}

// Extractor turns a parsed timetable page into a Calendar.
type Extractor struct {
	sel Selectors
}

func NewExtractor() *Extractor {
	return NewExtractorWith(DefaultSelectors())
}

func NewExtractorWith(sel Selectors) *Extractor {
	return &Extractor{sel: sel}
}

// Extract walks the document's week blocks in order and reconstructs the
// absolute date of every session. The page never states a full date per
// cell: the year comes from the year <select>, the Monday of each week
// from the block header, and the weekday from the number of separator
// cells passed within the row. Any cell or label that does not match the
// expected shape aborts the whole extraction; there are no partial
// results.
func (x *Extractor) Extract(doc *goquery.Document) (*Calendar, error) {
	name := strings.TrimSpace(doc.FindMatcher(x.sel.Title).First().Text())
	if name == "" {
		return nil, errors.New("missing document title")
	}

	yearLabel := strings.TrimSpace(doc.FindMatcher(x.sel.Year).First().Text())
	if yearLabel == "" {
		return nil, errors.New("missing selected year option")
	}
	year, err := strconv.Atoi(yearLabel)
	if err != nil {
		return nil, fmt.Errorf("malformed year option %q: %w", yearLabel, err)
	}

	events := []Event{}
	var walkErr error

	doc.FindMatcher(x.sel.Weeks).EachWithBreak(func(idx int, week *goquery.Selection) bool {
		weekEvents, err := x.extractWeek(week, idx, &year)
		if err != nil {
			walkErr = err
			return false
		}
		events = append(events, weekEvents...)
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return &Calendar{Name: name, Events: events}, nil
}

// extractWeek handles one week block. year is the running year counter:
// a continuous academic schedule crosses the turn of the year without
// any explicit year field, so week number 1 after the first block bumps
// the counter.
func (x *Extractor) extractWeek(week *goquery.Selection, idx int, year *int) ([]Event, error) {
	numberLabel := week.FindMatcher(x.sel.WeekNumber).First().Text()
	fields := strings.Fields(numberLabel)
	if len(fields) < 2 {
		return nil, fmt.Errorf("week block %d: malformed week number label %q", idx, numberLabel)
	}
	weekNumber, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("week block %d: malformed week number label %q: %w", idx, numberLabel, err)
	}

	if weekNumber == 1 && idx > 0 {
		*year++
	}

	monday, err := x.mondayOf(week, idx, *year)
	if err != nil {
		return nil, err
	}

	var events []Event
	var walkErr error

	week.FindMatcher(x.sel.Rows).EachWithBreak(func(rowIdx int, row *goquery.Selection) bool {
		if rowIdx == 0 {
			// Header row carries the weekday labels, not sessions.
			return true
		}

		dayOffset := 0

		row.FindMatcher(x.sel.Columns).EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			classes := strings.Fields(cell.AttrOr("class", ""))
			if len(classes) == 0 {
				walkErr = fmt.Errorf("week block %d: table cell without class", idx)
				return false
			}

			if strings.HasPrefix(classes[0], classDaySeparator) {
				dayOffset++
			}
			if classes[0] != classSessionBlock {
				return true
			}

			event, err := x.eventFromCell(cell, monday.AddDays(dayOffset))
			if err != nil {
				walkErr = fmt.Errorf("week block %d: %w", idx, err)
				return false
			}
			events = append(events, event)
			return true
		})

		return walkErr == nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return events, nil
}

// mondayOf reads the week header label of the form "<weekday> D.M." and
// composes the Monday date of the block from it and the running year.
func (x *Extractor) mondayOf(week *goquery.Selection, idx int, year int) (Date, error) {
	headerLabel := week.FindMatcher(x.sel.WeekHeader).First().Text()
	fields := strings.Fields(headerLabel)
	if len(fields) < 2 {
		return Date{}, fmt.Errorf("week block %d: malformed week header label %q", idx, headerLabel)
	}

	dayMonth := strings.Split(strings.TrimRight(fields[1], "."), ".")
	if len(dayMonth) < 2 {
		return Date{}, fmt.Errorf("week block %d: malformed week header date %q", idx, fields[1])
	}

	day, err := strconv.ParseUint(dayMonth[0], 10, 32)
	if err != nil {
		return Date{}, fmt.Errorf("week block %d: malformed day in week header %q: %w", idx, fields[1], err)
	}
	month, err := strconv.ParseUint(dayMonth[1], 10, 32)
	if err != nil {
		return Date{}, fmt.Errorf("week block %d: malformed month in week header %q: %w", idx, fields[1], err)
	}

	monday := NewDate(year, time.Month(month), int(day))
	// time.Date normalizes out-of-range components instead of failing,
	// so an invalid calendar date shows up as a round-trip mismatch.
	if month < 1 || month > 12 || monday.Day() != int(day) || monday.Month() != time.Month(month) {
		return Date{}, fmt.Errorf("week block %d: invalid date %d.%d.%d in week header", idx, day, month, year)
	}

	return monday, nil
}

// eventFromCell extracts a single session from a week_block cell. The
// cell's anchor markup is "HH:MM&nbsp;-HH:MM<br>Title"; an optional
// second span.resource holds the room (the first one names the course
// group, never a room).
func (x *Extractor) eventFromCell(cell *goquery.Selection, date Date) (Event, error) {
	anchor := cell.FindMatcher(x.sel.Anchor).First()
	if anchor.Length() == 0 {
		return Event{}, errors.New("session cell has no anchor")
	}

	markup, err := anchor.Html()
	if err != nil {
		return Event{}, fmt.Errorf("session cell markup: %w", err)
	}

	parts := strings.SplitN(normalizeLineBreaks(markup), "\n", 3)
	if len(parts) < 2 {
		return Event{}, fmt.Errorf("session cell markup %q has no title line", markup)
	}

	startRaw, endRaw, ok := strings.Cut(parts[0], nbspHyphen)
	if !ok {
		return Event{}, fmt.Errorf("malformed session time range %q", parts[0])
	}
	start, err := ParseClock(strings.TrimSpace(startRaw))
	if err != nil {
		return Event{}, fmt.Errorf("session start time: %w", err)
	}
	end, err := ParseClock(strings.TrimSpace(endRaw))
	if err != nil {
		return Event{}, fmt.Errorf("session end time: %w", err)
	}

	title := strings.TrimSpace(html.UnescapeString(parts[1]))
	if title == "" {
		return Event{}, fmt.Errorf("session cell markup %q has an empty title", markup)
	}

	var location *string
	if resources := cell.FindMatcher(x.sel.Resource); resources.Length() >= 2 {
		room := resources.Eq(1).Text()
		location = &room
	}

	return Event{
		Date:     date,
		Start:    start,
		End:      end,
		Title:    title,
		Location: location,
	}, nil
}

// normalizeLineBreaks maps the <br> variants the net/html renderer may
// produce onto newlines so the cell markup splits into lines.
func normalizeLineBreaks(markup string) string {
	r := strings.NewReplacer("<br/>", "\n", "<br />", "\n", "<br>", "\n")
	return r.Replace(markup)
}
