package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	minYear = 1970
	maxYear = 2099

	// Upper bound on year jumps while searching for the next fire time.
	maxYearHops = maxYear - minYear + 1
)

// Parser understands 5 field (minute first), 6 field (second first) and 7 field
// (second first with a trailing year) expressions, plus robfig descriptors.
type Parser struct {
	parser cron.Parser
	loc    *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
	}
}

func (p *Parser) Parse(expression string) (cron.Schedule, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	if strings.HasPrefix(expr, "@") {
		sched, err := p.parser.Parse(expr)
		if err != nil {
			return nil, err
		}
		return &schedule{inner: sched, loc: p.loc}, nil
	}

	fields := strings.Fields(expr)
	var years *yearSet
	if len(fields) == 7 {
		set, err := parseYears(fields[6])
		if err != nil {
			return nil, fmt.Errorf("year field: %w", err)
		}
		years = set
		fields = fields[:6]
	}

	sched, err := p.parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, err
	}

	return &schedule{inner: sched, years: years, loc: p.loc}, nil
}

// Validate reports whether expression parses, without keeping the schedule.
func (p *Parser) Validate(expression string) error {
	_, err := p.Parse(expression)
	return err
}

type schedule struct {
	inner cron.Schedule
	years *yearSet
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	t := s.inner.Next(after.In(s.loc))
	if s.years == nil {
		return t
	}

	for i := 0; i < maxYearHops; i++ {
		if t.IsZero() {
			return t
		}
		if s.years.contains(t.Year()) {
			return t
		}
		year, ok := s.years.after(t.Year())
		if !ok {
			return time.Time{}
		}
		t = s.inner.Next(time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc).Add(-time.Second))
	}
	return time.Time{}
}

// delayedSchedule holds back the first firing until notBefore.
type delayedSchedule struct {
	inner     cron.Schedule
	notBefore time.Time
}

func (d *delayedSchedule) Next(after time.Time) time.Time {
	if after.Before(d.notBefore) {
		after = d.notBefore.Add(-time.Nanosecond)
	}
	return d.inner.Next(after)
}

func withStartDelay(sched cron.Schedule, armedAt time.Time, delay time.Duration) cron.Schedule {
	if delay <= 0 {
		return sched
	}
	return &delayedSchedule{inner: sched, notBefore: armedAt.Add(delay)}
}

type yearSet struct {
	allowed [maxYear - minYear + 1]bool
}

func (y *yearSet) contains(year int) bool {
	if year < minYear || year > maxYear {
		return false
	}
	return y.allowed[year-minYear]
}

func (y *yearSet) after(year int) (int, bool) {
	for next := year + 1; next <= maxYear; next++ {
		if y.contains(next) {
			return next, true
		}
	}
	return 0, false
}

func parseYears(field string) (*yearSet, error) {
	set := &yearSet{}
	for _, part := range strings.Split(field, ",") {
		if err := set.add(part); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (y *yearSet) add(part string) error {
	if part == "" {
		return fmt.Errorf("empty year expression")
	}

	rangeAndStep := strings.Split(part, "/")
	if len(rangeAndStep) > 2 {
		return fmt.Errorf("too many slashes: %s", part)
	}

	start, end := minYear, maxYear
	lowAndHigh := strings.Split(rangeAndStep[0], "-")
	switch {
	case rangeAndStep[0] == "*" || rangeAndStep[0] == "?":
	case len(lowAndHigh) == 1:
		v, err := parseYear(lowAndHigh[0])
		if err != nil {
			return err
		}
		start, end = v, v
		if len(rangeAndStep) == 2 {
			end = maxYear
		}
	case len(lowAndHigh) == 2:
		lo, err := parseYear(lowAndHigh[0])
		if err != nil {
			return err
		}
		hi, err := parseYear(lowAndHigh[1])
		if err != nil {
			return err
		}
		if lo > hi {
			return fmt.Errorf("beginning of range (%d) beyond end of range (%d): %s", lo, hi, part)
		}
		start, end = lo, hi
	default:
		return fmt.Errorf("too many hyphens: %s", part)
	}

	step := 1
	if len(rangeAndStep) == 2 {
		v, err := strconv.Atoi(rangeAndStep[1])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid step: %s", part)
		}
		step = v
	}

	for year := start; year <= end; year += step {
		y.allowed[year-minYear] = true
	}
	return nil
}

func parseYear(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	if v < minYear || v > maxYear {
		return 0, fmt.Errorf("year %d outside %d-%d", v, minYear, maxYear)
	}
	return v, nil
}
