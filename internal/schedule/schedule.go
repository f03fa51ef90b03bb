// Package schedule implements the scheduling/override state machine for a
// single climate entity: it maps a weekday/weekend schedule of (time, preset)
// pairs onto the preset that should currently be active, honouring a manual
// override window and an overall enable/disable switch.
package schedule

import (
	"fmt"
	"sort"
	"time"
)

// DayClass selects one of the two schedule tables.
type DayClass string

const (
	Weekday DayClass = "weekday"
	Weekend DayClass = "weekend"
)

// ParseDayClass validates a schedule type received from a caller.
func ParseDayClass(s string) (DayClass, error) {
	switch DayClass(s) {
	case Weekday, Weekend:
		return DayClass(s), nil
	default:
		return "", &ValidationError{msg: fmt.Sprintf("invalid schedule type %q", s)}
	}
}

// DayClassOf returns the day class for the given day: Weekend on Saturday and
// Sunday, Weekday otherwise.
func DayClassOf(t time.Time) DayClass {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return Weekend
	default:
		return Weekday
	}
}

// Entry is one scheduled preset change.
type Entry struct {
	Time   TimeOfDay `yaml:"time" json:"time"`
	Preset Preset    `yaml:"preset" json:"preset"`
}

// Schedule holds the entry lists for both day classes. Entries need not be
// sorted or unique; the resolver sorts internally and, for duplicate times,
// prefers the entry that appears later in the list.
type Schedule map[DayClass][]Entry

// sortedEntries returns a stable-sorted copy of the entries for a day class.
// The stable sort preserves list order between entries with equal times, so a
// scan that keeps the last qualifying entry implements the documented
// "later entry wins" tie-break.
func sortedEntries(entries []Entry) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.minutes() < sorted[j].Time.minutes()
	})
	return sorted
}
