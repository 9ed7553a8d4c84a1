// Package cron parses cron expressions and computes firing instants.
//
// The grammar is the standard five fields (minute hour day month dow) with
// an optional sixth year field. Fields accept lists, ranges, steps, month
// and weekday names, `?` as an alias for `*` in the day fields, and `L` for
// the last day of the month. The `@yearly`, `@annually`, `@monthly`,
// `@weekly`, `@daily` and `@hourly` macros expand to their conventional
// expressions.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mpeters8/flowrun/internal/errors"
)

// Year bounds accepted by the optional sixth field.
const (
	minYear = 1970
	maxYear = 2099
)

var macros = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dowNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Schedule is a parsed cron expression. It carries no timezone; Next and
// Prev interpret instants in the location of their argument.
type Schedule struct {
	expr string

	minute uint64 // bits 0..59
	hour   uint64 // bits 0..23
	dom    uint64 // bits 1..31
	month  uint64 // bits 1..12
	dow    uint64 // bits 0..6

	// years is nil when the year field is absent or `*`.
	years map[int]bool

	// domStar/dowStar record whether the day fields were `*` or `?`,
	// which selects between the union and intersection day rules.
	domStar bool
	dowStar bool
	// domLast is set by the `L` token.
	domLast bool
}

// Parse parses a cron expression or macro.
func Parse(expr string) (*Schedule, error) {
	raw := strings.TrimSpace(expr)
	if expanded, ok := macros[strings.ToLower(raw)]; ok {
		raw = expanded
	} else if strings.HasPrefix(raw, "@") {
		return nil, errors.CronParse("unknown macro %q", raw)
	}

	fields := strings.Fields(raw)
	if len(fields) != 5 && len(fields) != 6 {
		return nil, errors.CronParse("expected 5 or 6 fields, got %d in %q", len(fields), expr)
	}

	s := &Schedule{expr: expr}
	var err error
	if s.minute, _, err = parseField(fields[0], 0, 59, nil); err != nil {
		return nil, errors.CronParse("minute field %q: %v", fields[0], err)
	}
	if s.hour, _, err = parseField(fields[1], 0, 23, nil); err != nil {
		return nil, errors.CronParse("hour field %q: %v", fields[1], err)
	}
	if err = s.parseDayOfMonth(fields[2]); err != nil {
		return nil, errors.CronParse("day field %q: %v", fields[2], err)
	}
	if s.month, _, err = parseField(fields[3], 1, 12, monthNames); err != nil {
		return nil, errors.CronParse("month field %q: %v", fields[3], err)
	}
	if s.dow, s.dowStar, err = parseField(fields[4], 0, 7, dowNames); err != nil {
		return nil, errors.CronParse("weekday field %q: %v", fields[4], err)
	}
	// Both 0 and 7 mean Sunday.
	if s.dow&(1<<7) != 0 {
		s.dow = (s.dow &^ (1 << 7)) | 1
	}
	if len(fields) == 6 {
		if s.years, err = parseYears(fields[5]); err != nil {
			return nil, errors.CronParse("year field %q: %v", fields[5], err)
		}
	}
	return s, nil
}

// String returns the original expression.
func (s *Schedule) String() string { return s.expr }

func (s *Schedule) parseDayOfMonth(field string) error {
	if strings.EqualFold(field, "L") {
		s.domLast = true
		return nil
	}
	var err error
	s.dom, s.domStar, err = parseField(field, 1, 31, nil)
	return err
}

// parseField parses one field into a bitmask. star reports whether the
// field was a bare `*` or `?`, which the day rules treat as "any".
func parseField(field string, min, max int, names map[string]int) (mask uint64, star bool, err error) {
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, false, fmt.Errorf("empty list entry")
		}
		m, isStar, err := parseRange(part, min, max, names)
		if err != nil {
			return 0, false, err
		}
		if isStar && len(strings.Split(field, ",")) == 1 {
			star = true
		}
		mask |= m
	}
	return mask, star, nil
}

// parseRange parses a single list entry: `*`, `?`, `N`, `A-B`, optionally
// followed by `/step`.
func parseRange(part string, min, max int, names map[string]int) (uint64, bool, error) {
	step := 1
	stepped := false
	if body, stepStr, found := strings.Cut(part, "/"); found {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return 0, false, fmt.Errorf("invalid step %q", stepStr)
		}
		step, stepped, part = n, true, body
	}

	lo, hi := min, max
	switch {
	case part == "*" || part == "?":
		// Full range.
	case strings.Contains(part, "-"):
		loStr, hiStr, _ := strings.Cut(part, "-")
		var err error
		if lo, err = parseValue(loStr, names); err != nil {
			return 0, false, err
		}
		if hi, err = parseValue(hiStr, names); err != nil {
			return 0, false, err
		}
		if lo > hi {
			return 0, false, fmt.Errorf("range %d-%d is inverted", lo, hi)
		}
	default:
		v, err := parseValue(part, names)
		if err != nil {
			return 0, false, err
		}
		lo = v
		if stepped {
			hi = max // `N/step` runs from N to the field maximum
		} else {
			hi = v
		}
	}

	if lo < min || hi > max {
		return 0, false, fmt.Errorf("value out of range [%d,%d]", min, max)
	}
	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	isStar := (part == "*" || part == "?") && !stepped
	return mask, isStar, nil
}

func parseValue(s string, names map[string]int) (int, error) {
	if names != nil {
		if v, ok := names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}

func parseYears(field string) (map[int]bool, error) {
	if field == "*" {
		return nil, nil
	}
	years := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		step := 1
		if body, stepStr, found := strings.Cut(part, "/"); found {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", stepStr)
			}
			step, part = n, body
		}
		lo, hi := minYear, maxYear
		if part != "*" {
			if loStr, hiStr, found := strings.Cut(part, "-"); found {
				var err error
				if lo, err = strconv.Atoi(loStr); err != nil {
					return nil, fmt.Errorf("invalid year %q", loStr)
				}
				if hi, err = strconv.Atoi(hiStr); err != nil {
					return nil, fmt.Errorf("invalid year %q", hiStr)
				}
			} else {
				v, err := strconv.Atoi(part)
				if err != nil {
					return nil, fmt.Errorf("invalid year %q", part)
				}
				lo, hi = v, v
			}
		}
		if lo < minYear || hi > maxYear || lo > hi {
			return nil, fmt.Errorf("year out of range [%d,%d]", minYear, maxYear)
		}
		for y := lo; y <= hi; y += step {
			years[y] = true
		}
	}
	return years, nil
}

func (s *Schedule) yearMatch(y int) bool {
	if s.years == nil {
		return y >= minYear && y <= maxYear
	}
	return s.years[y]
}

func (s *Schedule) monthMatch(m time.Month) bool { return s.month&(1<<uint(m)) != 0 }
func (s *Schedule) hourMatch(h int) bool         { return s.hour&(1<<uint(h)) != 0 }
func (s *Schedule) minuteMatch(m int) bool       { return s.minute&(1<<uint(m)) != 0 }

// dayMatch applies the day rules: when both day-of-month and day-of-week
// are restricted, the union rule fires on either; otherwise `*`/`?` fields
// match every day and the result is the usual intersection.
func (s *Schedule) dayMatch(y int, mo time.Month, d int) bool {
	domOK := true
	if s.domLast {
		domOK = d == daysIn(y, mo)
	} else if !s.domStar {
		domOK = s.dom&(1<<uint(d)) != 0
	}

	wd := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC).Weekday()
	dowOK := s.dowStar || s.dow&(1<<uint(wd)) != 0

	domRestricted := s.domLast || !s.domStar
	if domRestricted && !s.dowStar {
		return domOK || dowOK
	}
	return domOK && dowOK
}

func daysIn(y int, mo time.Month) int {
	return time.Date(y, mo+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
