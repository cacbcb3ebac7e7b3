package rapla

import (
	"fmt"
	"time"
)

// DateFormat is the JSON rendering of a Date.
const DateFormat = "2006-01-02"

// Date is a calendar date at day precision. The underlying time.Time is
// always midnight UTC so that two Dates compare with ==.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// AddDays returns the Date n days later.
func (d Date) AddDays(n int) Date {
	t := d.Time.AddDate(0, 0, n)
	return NewDate(t.Year(), t.Month(), t.Day())
}

func (d Date) String() string {
	return d.Format(DateFormat)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	t, err := time.Parse(`"`+DateFormat+`"`, string(data))
	if err != nil {
		return err
	}
	*d = NewDate(t.Year(), t.Month(), t.Day())
	return nil
}

// Clock is a time of day at minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a 24-hour "HH:MM" value.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid clock value %s", data)
	}
	parsed, err := ParseClock(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Event is a single timetabled session. Location is nil when the source
// cell carries no room.
type Event struct {
	Date     Date    `json:"date"`
	Start    Clock   `json:"start"`
	End      Clock   `json:"end"`
	Title    string  `json:"title"`
	Location *string `json:"location"`
}

// Calendar is the extracted timetable. Events appear in document order,
// which is chronological: weeks and rows are walked top to bottom.
type Calendar struct {
	Name   string  `json:"name"`
	Events []Event `json:"events"`
}
