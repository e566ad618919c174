package engine

import (
	"sync"
	"time"
)

// =============================================================================
// DATE - Day-granular point in time
// =============================================================================

// Date is a calendar day, always UTC. All request boundaries and ledger
// periods are day-granular.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a time to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) Before(o Date) bool  { return d.t.Before(o.t) }
func (d Date) After(o Date) bool   { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool   { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date  { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Year() int           { return d.t.Year() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool        { return d.t.IsZero() }
func (d Date) Time() time.Time     { return d.t }
func (d Date) String() string      { return d.t.Format("2006-01-02") }

func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a company holiday that does not count against leave balance.
type Holiday struct {
	ID        string
	Date      Date
	Name      string
	Recurring bool // same month/day every year
}

// HolidayCalendar provides holiday lookup. Implementations must be safe
// for concurrent readers.
type HolidayCalendar interface {
	IsHoliday(date Date) bool
}

// NoHolidays is the calendar used when no holiday table is configured.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(Date) bool { return false }

// MemoryHolidayCalendar holds holidays in memory. Recurring holidays match
// on month/day in any year.
type MemoryHolidayCalendar struct {
	mu        sync.RWMutex
	fixed     map[Date]struct{}
	recurring map[[2]int]struct{} // month, day
}

func NewMemoryHolidayCalendar(holidays ...Holiday) *MemoryHolidayCalendar {
	c := &MemoryHolidayCalendar{
		fixed:     make(map[Date]struct{}),
		recurring: make(map[[2]int]struct{}),
	}
	for _, h := range holidays {
		c.Add(h)
	}
	return c
}

func (c *MemoryHolidayCalendar) Add(h Holiday) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.Recurring {
		c.recurring[[2]int{int(h.Date.t.Month()), h.Date.t.Day()}] = struct{}{}
		return
	}
	c.fixed[h.Date] = struct{}{}
}

func (c *MemoryHolidayCalendar) IsHoliday(date Date) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.fixed[date]; ok {
		return true
	}
	_, ok := c.recurring[[2]int{int(date.t.Month()), date.t.Day()}]
	return ok
}

// =============================================================================
// WORKING CALENDAR - Day counting for requests and notice periods
// =============================================================================

// WorkingCalendar answers "how many working days does this request cover"
// and "how much notice was given". Weekends and holidays are skipped.
type WorkingCalendar struct {
	Holidays HolidayCalendar
}

func NewWorkingCalendar(holidays HolidayCalendar) *WorkingCalendar {
	if holidays == nil {
		holidays = NoHolidays{}
	}
	return &WorkingCalendar{Holidays: holidays}
}

// IsWorkingDay reports whether the date is neither a weekend nor a holiday.
func (c *WorkingCalendar) IsWorkingDay(date Date) bool {
	return !date.IsWeekend() && !c.Holidays.IsHoliday(date)
}

// WorkingDays counts working days in [start, end] inclusive, with optional
// half-day boundaries. A half flag on a non-working boundary day has no
// effect. Returns ErrInvalidPeriod when end precedes start, and
// ErrInvalidAmount for a single day marked half on both ends.
func (c *WorkingCalendar) WorkingDays(start, end Date, startHalf, endHalf bool) (Days, error) {
	if end.Before(start) {
		return Days{}, ErrInvalidPeriod
	}
	if start.Equal(end) && startHalf && endHalf {
		return Days{}, ErrInvalidAmount
	}

	count := ZeroDays()
	for d := start; !d.After(end); d = d.AddDays(1) {
		if c.IsWorkingDay(d) {
			count = count.Add(DaysFromInt(1))
		}
	}
	half := NewDays(0.5)
	if startHalf && c.IsWorkingDay(start) {
		count = count.Sub(half)
	}
	if endHalf && c.IsWorkingDay(end) && !start.Equal(end) {
		count = count.Sub(half)
	}
	if count.IsNegative() {
		return Days{}, ErrInvalidAmount
	}
	return count, nil
}

// NoticeDays counts the working days strictly between the submission day
// and the leave start. Zero when the start is today or in the past.
func (c *WorkingCalendar) NoticeDays(submittedOn, start Date) int {
	n := 0
	for d := submittedOn.AddDays(1); d.Before(start); d = d.AddDays(1) {
		if c.IsWorkingDay(d) {
			n++
		}
	}
	return n
}
