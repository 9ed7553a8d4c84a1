package cron

import (
	"time"

	"github.com/mpeters8/flowrun/internal/errors"
)

// lookahead bounds the search in either direction. An expression that
// matches nothing inside this window (February 31st and friends) yields
// CronNoMatch instead of spinning.
const lookaheadDays = 366

// civil is a wall-clock cursor. The search walks civil time so that DST
// transitions cannot skew field arithmetic; realization back to an absolute
// instant happens only once all fields match.
type civil struct {
	y  int
	mo time.Month
	d  int
	h  int
	mi int
}

func civilOf(t time.Time) civil {
	y, mo, d := t.Date()
	return civil{y: y, mo: mo, d: d, h: t.Hour(), mi: t.Minute()}
}

func (c *civil) bumpMinute() {
	c.mi++
	if c.mi > 59 {
		c.bumpHour()
	}
}

func (c *civil) bumpHour() {
	c.mi = 0
	c.h++
	if c.h > 23 {
		c.bumpDay()
	}
}

func (c *civil) bumpDay() {
	c.mi, c.h = 0, 0
	c.d++
	if c.d > daysIn(c.y, c.mo) {
		c.bumpMonth()
	}
}

func (c *civil) bumpMonth() {
	c.mi, c.h, c.d = 0, 0, 1
	c.mo++
	if c.mo > time.December {
		c.mo = time.January
		c.y++
	}
}

func (c *civil) bumpYear() {
	c.mi, c.h, c.d, c.mo = 0, 0, 1, time.January
	c.y++
}

func (c *civil) dropMinute() {
	c.mi--
	if c.mi < 0 {
		c.dropHour()
	}
}

func (c *civil) dropHour() {
	c.mi = 59
	c.h--
	if c.h < 0 {
		c.dropDay()
	}
}

func (c *civil) dropDay() {
	c.mi, c.h = 59, 23
	c.d--
	if c.d < 1 {
		c.dropMonth()
	}
}

func (c *civil) dropMonth() {
	c.mo--
	if c.mo < time.January {
		c.mo = time.December
		c.y--
	}
	c.mi, c.h = 59, 23
	c.d = daysIn(c.y, c.mo)
}

func (c *civil) dropYear() {
	c.y--
	c.mo, c.d, c.h, c.mi = time.December, 31, 23, 59
}

// realize maps the civil cursor to an absolute instant in loc. ok is false
// when the wall-clock time does not exist in loc (spring-forward gap); in
// the ambiguous fall-back hour the runtime picks the first occurrence,
// which matches the fire-once rule.
func (c civil) realize(loc *time.Location) (time.Time, bool) {
	t := time.Date(c.y, c.mo, c.d, c.h, c.mi, 0, 0, loc)
	if t.Minute() != c.mi || t.Hour() != c.h || t.Day() != c.d {
		return t, false
	}
	return t, true
}

// Next returns the smallest instant strictly after t that matches the
// schedule, interpreted in t's location.
func (s *Schedule) Next(t time.Time) (time.Time, error) {
	loc := t.Location()
	limit := t.AddDate(0, 0, lookaheadDays)
	c := civilOf(t.Truncate(time.Minute).Add(time.Minute))

	for {
		if time.Date(c.y, c.mo, c.d, 0, 0, 0, 0, loc).After(limit) {
			return time.Time{}, errors.CronNoMatch(s.expr)
		}
		switch {
		case !s.yearMatch(c.y):
			if c.y > maxYear {
				return time.Time{}, errors.CronNoMatch(s.expr)
			}
			c.bumpYear()
		case !s.monthMatch(c.mo):
			c.bumpMonth()
		case !s.dayMatch(c.y, c.mo, c.d):
			c.bumpDay()
		case !s.hourMatch(c.h):
			c.bumpHour()
		case !s.minuteMatch(c.mi):
			c.bumpMinute()
		default:
			fire, ok := c.realize(loc)
			if !ok || !fire.After(t) {
				// Either a spring-forward gap (the civil minute does
				// not exist) or an ambiguous instant at or before t.
				c.bumpMinute()
				continue
			}
			return fire, nil
		}
	}
}

// Prev returns the largest instant strictly before t that matches the
// schedule, interpreted in t's location.
func (s *Schedule) Prev(t time.Time) (time.Time, error) {
	loc := t.Location()
	limit := t.AddDate(0, 0, -lookaheadDays)
	start := t.Truncate(time.Minute)
	if start.Equal(t) {
		start = start.Add(-time.Minute)
	}
	c := civilOf(start)

	for {
		if time.Date(c.y, c.mo, c.d, 23, 59, 0, 0, loc).Before(limit) {
			return time.Time{}, errors.CronNoMatch(s.expr)
		}
		switch {
		case !s.yearMatch(c.y):
			if c.y < minYear {
				return time.Time{}, errors.CronNoMatch(s.expr)
			}
			c.dropYear()
		case !s.monthMatch(c.mo):
			c.dropMonth()
		case !s.dayMatch(c.y, c.mo, c.d):
			c.dropDay()
		case !s.hourMatch(c.h):
			c.dropHour()
		case !s.minuteMatch(c.mi):
			c.dropMinute()
		default:
			fire, ok := c.realize(loc)
			if !ok || !fire.Before(t) {
				c.dropMinute()
				continue
			}
			return fire, nil
		}
	}
}

// Runner iterates the firing instants of a schedule in a fixed location.
type Runner struct {
	sched  *Schedule
	loc    *time.Location
	cursor time.Time
}

// NewRunner returns a runner whose first Next is the earliest firing at or
// after start.
func NewRunner(sched *Schedule, loc *time.Location, start time.Time) *Runner {
	return &Runner{sched: sched, loc: loc, cursor: start.In(loc).Add(-time.Second)}
}

// Schedule returns the underlying schedule.
func (r *Runner) Schedule() *Schedule { return r.sched }

// Next advances the iterator and returns the next firing instant.
func (r *Runner) Next() (time.Time, error) {
	fire, err := r.sched.Next(r.cursor.In(r.loc))
	if err != nil {
		return time.Time{}, err
	}
	r.cursor = fire
	return fire, nil
}

// Peek returns the next firing instant without advancing.
func (r *Runner) Peek() (time.Time, error) {
	return r.sched.Next(r.cursor.In(r.loc))
}
