package utils

import (
	"sync"
	"time"

	"github.com/scmhub/calendar"

	"z88-quant/internal/models"
)

// Session describes an exchange's regular trading hours.
type Session struct {
	Location    *time.Location
	OpenMinute  int // minutes after local midnight
	CloseMinute int
	Weekend     [2]time.Weekday
	// Holidays, when set, excludes exchange holidays as well as weekends.
	Holidays *calendar.Calendar
}

func loadLocation(name string, offset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, offset)
	}
	return loc
}

var (
	egxSession = Session{
		Location:    loadLocation("Africa/Cairo", 2*60*60),
		OpenMinute:  10 * 60,
		CloseMinute: 14*60 + 30,
		Weekend:     [2]time.Weekday{time.Friday, time.Saturday},
	}
	indiaSession = Session{
		Location:    loadLocation("Asia/Kolkata", 5*60*60+30*60),
		OpenMinute:  9*60 + 15,
		CloseMinute: 15*60 + 30,
		Weekend:     [2]time.Weekday{time.Saturday, time.Sunday},
	}
)

var (
	holidayOnce sync.Once
	holidays    map[models.Exchange]*calendar.Calendar
)

// holidayCalendar returns the ISO 10383 calendar for an exchange, or nil.
// EGX has no published calendar there, so only weekends apply to it.
func holidayCalendar(exchange models.Exchange) *calendar.Calendar {
	holidayOnce.Do(func() {
		holidays = map[models.Exchange]*calendar.Calendar{
			models.NSE: calendar.GetCalendar("xnse"),
			models.BSE: calendar.GetCalendar("xbom"),
		}
	})
	return holidays[exchange]
}

// SessionFor returns the trading session of an exchange; unknown exchanges use EGX hours.
func SessionFor(exchange models.Exchange) Session {
	switch exchange {
	case models.NSE, models.BSE:
		s := indiaSession
		s.Holidays = holidayCalendar(exchange)
		return s
	default:
		return egxSession
	}
}

// IsTradingDay reports whether the local date of t is a session day for the exchange.
func (s Session) IsTradingDay(t time.Time) bool {
	local := t.In(s.Location)
	wd := local.Weekday()
	if wd == s.Weekend[0] || wd == s.Weekend[1] {
		return false
	}
	if s.Holidays != nil {
		return s.Holidays.IsBusinessDay(local)
	}
	return true
}

// IsOpen returns true if the market is open at t.
func (s Session) IsOpen(t time.Time) bool {
	local := t.In(s.Location)
	if !s.IsTradingDay(local) {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	return m >= s.OpenMinute && m < s.CloseMinute
}

// LastCompletedSession returns the date (UTC midnight) of the most recent
// session that has closed at or before t.
func (s Session) LastCompletedSession(t time.Time) time.Time {
	local := t.In(s.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	if local.Hour()*60+local.Minute() < s.CloseMinute {
		day = day.AddDate(0, 0, -1)
	}
	for !s.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}
