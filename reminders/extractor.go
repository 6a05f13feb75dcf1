// Package reminders turns free-text reminder requests ("take my medicine
// at 8:00 AM every 6 hours") into structured events.
package reminders

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const dateLayout = "02/01/2006"

var (
	datePattern = regexp.MustCompile(`(?i)\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{1,2}\s*[A-Za-z]+\s*\d{2,4})\b`)
	timePattern = regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}\s*(?:AM|PM|am|pm|a.m|.p.m)?|\d{1,2}\s*(?:AM|PM|am|pm|.a.m|.p.m)?)\b`)
	// used when locating the time that follows an event
	eventTimePattern = regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}\s*(?:AM|PM|am|pm|.a.m|.p.m)?|\d{1,2}\s*(?:AM|PM|am|pm|.a.m|.p.m)?)\b`)

	time12Pattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*(AM|PM)$`)
	time24Pattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

	everyHours   = regexp.MustCompile(`(?i)every (\d+)\s*hour`)
	everyMinutes = regexp.MustCompile(`(?i)every (\d+)\s*minute`)

	eventPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)take my medicine`),
		regexp.MustCompile(`(?i)check my blood pressure`),
		regexp.MustCompile(`(?i)meeting`),
		regexp.MustCompile(`(?i)doctor's appointment`),
		regexp.MustCompile(`(?i)medication`),
		regexp.MustCompile(`(?i)schedule`),
		regexp.MustCompile(`(?i)appointment`),
		regexp.MustCompile(`(?i)visit`),
		regexp.MustCompile(`(?i)yoga class`),
	}
)

// recurrenceKeywords are checked in order; the first contained keyword wins.
var recurrenceKeywords = []struct{ keyword, recurrence string }{
	{"everyday", "daily"},
	{"every week", "weekly"},
	{"every month", "monthly"},
	{"daily", "daily"},
	{"weekly", "weekly"},
	{"monthly", "monthly"},
}

// Event is one reminder found in the text.
type Event struct {
	Description string `json:"description"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Recurrence  string `json:"recurrence"`
	Day         string `json:"day"`
}

// Result mirrors the JSON answered by the reminders endpoint. Empty lists
// are nil so they encode as null.
type Result struct {
	Events         []Event  `json:"events"`
	Dates          []string `json:"dates"`
	Times          []string `json:"times"`
	ProcessingTime string   `json:"processing_time"`
}

type Extractor struct {
	now func() time.Time
}

func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract parses text. language "french" reads ambiguous numeric dates day
// first; anything else reads them month first.
func (x *Extractor) Extract(text, language string) *Result {
	start := time.Now()
	dayFirst := strings.EqualFold(language, "french")

	result := &Result{
		Dates: x.extractDates(text, dayFirst),
		Times: extractTimes(text),
	}
	recurrence := parseRecurrence(text)

	for _, ev := range x.extractEvents(text, dayFirst) {
		if recurrence != "" {
			ev.Recurrence = recurrence
		} else {
			ev.Recurrence = "once"
		}
		if ev.Date == "" {
			ev.Date = x.now().AddDate(0, 0, 1).Format(dateLayout)
		}
		ev.Day = dayOfWeek(ev.Date)
		result.Events = append(result.Events, ev)
	}

	result.ProcessingTime = fmt.Sprintf("%.2f seconds", time.Since(start).Seconds())
	return result
}

func (x *Extractor) extractDates(text string, dayFirst bool) []string {
	var dates []string
	for _, m := range datePattern.FindAllStringSubmatch(text, -1) {
		if d := StandardizeDate(m[1], dayFirst); d != "" {
			dates = append(dates, d)
		}
	}
	return dates
}

func extractTimes(text string) []string {
	var times []string
	for _, m := range timePattern.FindAllStringSubmatch(text, -1) {
		times = append(times, FormatTime(m[1]))
	}
	return times
}

func (x *Extractor) extractEvents(text string, dayFirst bool) []Event {
	var events []Event
	for _, pattern := range eventPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			rest := text[loc[0]:]
			ev := Event{Description: capitalize(text[loc[0]:loc[1]])}

			if m := eventTimePattern.FindString(rest); m != "" {
				ev.Time = FormatTime(m)
			}
			if m := datePattern.FindString(rest); m != "" {
				ev.Date = StandardizeDate(m, dayFirst)
			}
			events = append(events, ev)
		}
	}
	return events
}

// StandardizeDate parses a loose date and renders it dd/mm/yyyy, or returns
// "" when it cannot be read.
func StandardizeDate(s string, dayFirst bool) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "not mentioned", "non mentionnée":
		return ""
	}

	t, err := dateparse.ParseAny(s,
		dateparse.PreferMonthFirst(!dayFirst),
		dateparse.RetryAmbiguousDateWithSwap(true),
	)
	if err != nil {
		return ""
	}
	return t.Format(dateLayout)
}

// FormatTime normalises "8:05 pm" to "8:05 PM" and "20:05" to "08:05 PM";
// anything else is trimmed and upper-cased.
func FormatTime(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	if m := time12Pattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%d:%s %s", hour, m[2], m[3])
	}

	if m := time24Pattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return s
		}
		return time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC).Format("03:04 PM")
	}

	return s
}

func parseRecurrence(text string) string {
	var recurrence string
	lower := strings.ToLower(text)
	for _, k := range recurrenceKeywords {
		if strings.Contains(lower, k.keyword) {
			recurrence = k.recurrence
			break
		}
	}

	if m := everyHours.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("every %d hours", n)
	}
	if m := everyMinutes.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("every %d minutes", n)
	}
	return recurrence
}

func dayOfWeek(date string) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return ""
	}
	return t.Weekday().String()
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
