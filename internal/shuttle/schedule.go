package shuttle

import "time"

// NoService marks a day without a shuttle run.
const NoService = "—"

type ScheduleDay struct {
	Day     string `json:"day"`
	Morning string `json:"morning"`
	Evening string `json:"evening"`
}

// WeeklySchedule lists departures Monday first.
var WeeklySchedule = []ScheduleDay{
	{Day: "Monday", Morning: "07:30", Evening: "18:00"},
	{Day: "Tuesday", Morning: "07:30", Evening: "18:00"},
	{Day: "Wednesday", Morning: "07:30", Evening: "18:00"},
	{Day: "Thursday", Morning: "07:30", Evening: "18:00"},
	{Day: "Friday", Morning: "07:30", Evening: "17:00"},
	{Day: "Saturday", Morning: NoService, Evening: NoService},
	{Day: "Sunday", Morning: NoService, Evening: NoService},
}

// TodayIndex converts t's weekday into an index of WeeklySchedule (Monday = 0).
func TodayIndex(t time.Time) int {
	wd := int(t.Weekday()) // 0=Sunday
	if wd == 0 {
		return 6
	}
	return wd - 1
}

// IsServiceDay reports whether the day has at least one departure.
func (d ScheduleDay) IsServiceDay() bool {
	return d.Morning != NoService || d.Evening != NoService
}
