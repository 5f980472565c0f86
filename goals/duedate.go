package goals

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Relative date phrases resolve against the tracker clock. All resolved
// dates land at end of day (23:59:59) in the clock's location so "by
// tomorrow" is not overdue at tomorrow 00:01.

var (
	dueLeadRe   = regexp.MustCompile(`(?i)\s*\b(?:by|before|until|due)\s+(.+)$`)
	inAmountRe  = regexp.MustCompile(`(?i)^in\s+(\d+)\s+(day|week|month)s?\b`)
	monthDayRe  = regexp.MustCompile(`(?i)^(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	weekdayRe   = regexp.MustCompile(`(?i)^(?:next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	simpleTerms = map[string]func(now time.Time) time.Time{
		"today":   func(now time.Time) time.Time { return endOfDay(now) },
		"tonight": func(now time.Time) time.Time { return endOfDay(now) },
		"tomorrow": func(now time.Time) time.Time {
			return endOfDay(now.AddDate(0, 0, 1))
		},
		"next week": func(now time.Time) time.Time {
			return endOfDay(now.AddDate(0, 0, 7))
		},
		"end of month": func(now time.Time) time.Time {
			firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
			return endOfDay(firstOfNext.AddDate(0, 0, -1))
		},
		"end of the month": func(now time.Time) time.Time {
			firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
			return endOfDay(firstOfNext.AddDate(0, 0, -1))
		},
	}
)

var monthsByName = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// extractDueDate finds a trailing "by <phrase>" clause in a goal
// description, parses it, and returns the description with the clause
// removed. Unparseable phrases leave the description untouched.
func extractDueDate(desc string, now time.Time) (string, *time.Time) {
	loc := dueLeadRe.FindStringSubmatchIndex(desc)
	if loc == nil {
		return desc, nil
	}
	phrase := strings.TrimSpace(desc[loc[2]:loc[3]])
	due := parseDuePhrase(phrase, now)
	if due == nil {
		return desc, nil
	}
	return strings.TrimSpace(desc[:loc[0]]), due
}

// parseDuePhrase resolves a relative date phrase against now, or nil when
// the phrase is not recognized.
func parseDuePhrase(phrase string, now time.Time) *time.Time {
	phrase = strings.TrimSpace(strings.ToLower(phrase))
	phrase = strings.TrimSuffix(phrase, ".")

	for term, resolve := range simpleTerms {
		if strings.HasPrefix(phrase, term) {
			d := resolve(now)
			return &d
		}
	}

	if m := inAmountRe.FindStringSubmatch(phrase); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil
		}
		var d time.Time
		switch strings.ToLower(m[2]) {
		case "day":
			d = endOfDay(now.AddDate(0, 0, n))
		case "week":
			d = endOfDay(now.AddDate(0, 0, 7*n))
		case "month":
			d = endOfDay(now.AddDate(0, n, 0))
		}
		return &d
	}

	if m := monthDayRe.FindStringSubmatch(phrase); m != nil {
		month := monthsByName[strings.ToLower(m[1])]
		day, err := strconv.Atoi(m[2])
		if err != nil || day < 1 || day > 31 {
			return nil
		}
		d := endOfDay(time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location()))
		// A date already past rolls to next year.
		if d.Before(now) {
			d = endOfDay(time.Date(now.Year()+1, month, day, 0, 0, 0, 0, now.Location()))
		}
		return &d
	}

	if m := weekdayRe.FindStringSubmatch(phrase); m != nil {
		target := weekdayByName(strings.ToLower(m[1]))
		days := (int(target) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		d := endOfDay(now.AddDate(0, 0, days))
		return &d
	}

	return nil
}

func weekdayByName(name string) time.Weekday {
	switch name {
	case "sunday":
		return time.Sunday
	case "monday":
		return time.Monday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	default:
		return time.Saturday
	}
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
