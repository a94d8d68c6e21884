package model

import (
	"sort"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
)

// Frequency of a scheduled (recurring) order.
type Frequency string

const (
	FrequencyDaily         Frequency = "daily"
	FrequencyEveryOtherDay Frequency = "every_other_day"
	FrequencyWeekly        Frequency = "weekly"
	FrequencyCustom        Frequency = "custom" // explicit day-of-week set
)

// ScheduleStatus is derived, never stored.
type ScheduleStatus string

const (
	ScheduleInactive ScheduleStatus = "inactive"
	SchedulePending  ScheduleStatus = "pending"
	ScheduleExpired  ScheduleStatus = "expired"
	ScheduleActive   ScheduleStatus = "active"
)

// ScheduleRule is the part of a scheduled order the next-date math needs.
// DaysOfWeek uses 0=Sunday … 6=Saturday.
type ScheduleRule struct {
	Frequency     Frequency  `json:"frequency"`
	DaysOfWeek    []int      `json:"daysOfWeek,omitempty"`
	StartDate     time.Time  `json:"startDate"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	LastCreatedAt *time.Time `json:"lastCreatedAt,omitempty"`
	IsActive      bool       `json:"isActive"`
}

// NextExecution returns the next candidate execution date for rule.
// Fixed-step frequencies count from LastCreatedAt (or StartDate); the custom
// day set counts from now.
func NextExecution(rule ScheduleRule, now time.Time) (time.Time, error) {
	base := rule.StartDate
	if rule.LastCreatedAt != nil && !rule.LastCreatedAt.IsZero() {
		base = *rule.LastCreatedAt
	}

	switch rule.Frequency {
	case FrequencyDaily:
		return base.AddDate(0, 0, 1), nil
	case FrequencyEveryOtherDay:
		return base.AddDate(0, 0, 2), nil
	case FrequencyWeekly:
		return base.AddDate(0, 0, 7), nil
	case FrequencyCustom:
		return nextSelectedWeekday(rule.DaysOfWeek, now)
	}
	return time.Time{}, domain.ErrInvalidArgument
}

func nextSelectedWeekday(days []int, now time.Time) (time.Time, error) {
	if len(days) == 0 {
		return time.Time{}, domain.ErrInvalidArgument
	}
	sorted := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return time.Time{}, domain.ErrInvalidArgument
		}
		sorted = append(sorted, d)
	}
	sort.Ints(sorted)

	today := int(now.Weekday())
	delta := 7 - today + sorted[0] // wrap into next week
	for _, d := range sorted {
		if d > today {
			delta = d - today
			break
		}
	}

	y, m, dd := now.Date()
	midnight := time.Date(y, m, dd, 0, 0, 0, 0, now.Location())
	return midnight.AddDate(0, 0, delta), nil
}

// ActivationStatus derives a schedule's status at now.
func ActivationStatus(isActive bool, startDate time.Time, endDate *time.Time, now time.Time) ScheduleStatus {
	if !isActive {
		return ScheduleInactive
	}
	if now.Before(startDate) {
		return SchedulePending
	}
	if endDate != nil && now.After(*endDate) {
		return ScheduleExpired
	}
	return ScheduleActive
}

func (r ScheduleRule) Status(now time.Time) ScheduleStatus {
	return ActivationStatus(r.IsActive, r.StartDate, r.EndDate, now)
}
