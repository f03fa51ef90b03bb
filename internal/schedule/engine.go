package schedule

import (
	"fmt"
	"sync"
	"time"
)

// DefaultOverrideDuration is how long a manual preset change blocks the
// schedule, unless configured otherwise.
const DefaultOverrideDuration = 30 * time.Minute

// Override records a manual preset change that supersedes the schedule until
// it expires. Expiry is evaluated lazily at resolution time; there is no
// background timer.
type Override struct {
	Preset Preset    `json:"preset"`
	Expiry time.Time `json:"expiry"`
}

// Transition is an upcoming scheduled preset change.
type Transition struct {
	Time        time.Time
	Preset      Preset
	Temperature float64
}

// ResolvedState is the externally visible state of an engine at a point in
// time. It is derived on demand and never persisted.
type ResolvedState struct {
	ActivePreset      Preset
	TargetTemperature float64
	Enabled           bool
	OverrideActive    bool
	NextSchedule      *time.Time
	NextTemperature   *float64
}

// Config is the initial state of an Engine. Enabled, LastPreset and Override
// allow a persisted engine to be restored across restarts.
type Config struct {
	Schedule         Schedule
	Temperatures     Temperatures
	OverrideDuration time.Duration
	Enabled          bool
	LastPreset       Preset
	Override         *Override
}

// An Engine owns the schedule tables and override state for one climate
// entity and arbitrates between schedule-driven and manually-overridden
// presets. All methods are safe for concurrent use.
type Engine struct {
	mu               sync.RWMutex
	schedule         Schedule
	temperatures     Temperatures
	overrideDuration time.Duration
	enabled          bool
	lastPreset       Preset
	applied          Preset
	override         *Override
}

// New creates an Engine from the given configuration.
func New(cfg Config) *Engine {
	schedule := make(Schedule, len(cfg.Schedule))
	for dayClass, entries := range cfg.Schedule {
		schedule[dayClass] = append([]Entry(nil), entries...)
	}
	overrideDuration := cfg.OverrideDuration
	if overrideDuration == 0 {
		overrideDuration = DefaultOverrideDuration
	}
	lastPreset := cfg.LastPreset
	if lastPreset == "" {
		lastPreset = DefaultPreset
	}
	return &Engine{
		schedule:         schedule,
		temperatures:     cfg.Temperatures,
		overrideDuration: overrideDuration,
		enabled:          cfg.Enabled,
		lastPreset:       lastPreset,
		override:         cfg.Override,
	}
}

// ActivePreset determines the preset that should be in effect at now.
//
// If the schedule is disabled, it returns the last explicitly applied preset.
// An unexpired override wins next. Otherwise the latest entry of today's day
// class at or before now applies; before the first entry of the day, the last
// entry of the previous day's class carries over. An empty schedule resolves
// to the default preset.
func (e *Engine) ActivePreset(now time.Time) Preset {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.enabled {
		return e.lastPreset
	}
	if e.override != nil && now.Before(e.override.Expiry) {
		return e.override.Preset
	}

	entries := sortedEntries(e.schedule[DayClassOf(now)])
	if len(entries) == 0 {
		return DefaultPreset
	}

	timeOfDay := TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	active := Preset("")
	for _, entry := range entries {
		if entry.Time.minutes() > timeOfDay.minutes() {
			break
		}
		active = entry.Preset
	}
	if active != "" {
		return active
	}

	// before the first entry of the day: the previous day's last scheduled
	// preset remains in effect overnight
	previous := sortedEntries(e.schedule[DayClassOf(now.AddDate(0, 0, -1))])
	if len(previous) == 0 {
		return DefaultPreset
	}
	return previous[len(previous)-1].Preset
}

// NextTransition finds the soonest scheduled change strictly after now,
// walking forward at most 7 days. It returns false if both schedules are
// empty.
func (e *Engine) NextTransition(now time.Time) (Transition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for offset := range 8 {
		day := now.AddDate(0, 0, offset)
		entries := sortedEntries(e.schedule[DayClassOf(day)])
		for i, entry := range entries {
			at := entry.Time.On(day)
			if !at.After(now) {
				continue
			}
			// equal times: the last entry of the run wins
			for i+1 < len(entries) && entries[i+1].Time == entry.Time {
				i++
				entry = entries[i]
			}
			return Transition{
				Time:        at,
				Preset:      entry.Preset,
				Temperature: e.temperatures[entry.Preset],
			}, true
		}
	}
	return Transition{}, false
}

// Resolve derives the full externally visible state at now.
func (e *Engine) Resolve(now time.Time) ResolvedState {
	active := e.ActivePreset(now)

	e.mu.RLock()
	state := ResolvedState{
		ActivePreset:      active,
		TargetTemperature: e.temperatures[active],
		Enabled:           e.enabled,
		OverrideActive:    e.override != nil && now.Before(e.override.Expiry),
	}
	e.mu.RUnlock()

	if next, ok := e.NextTransition(now); ok {
		state.NextSchedule = &next.Time
		state.NextTemperature = &next.Temperature
	}
	return state
}

// ApplyManualPreset records a manual preset change, blocking schedule-driven
// changes until the override window expires. It does not change the
// enabled/disabled state.
func (e *Engine) ApplyManualPreset(preset Preset, now time.Time) error {
	if !preset.Valid() {
		return &ValidationError{msg: fmt.Sprintf("invalid preset %q", preset)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.override = &Override{Preset: preset, Expiry: now.Add(e.overrideDuration)}
	e.lastPreset = preset
	return nil
}

// EnableSchedule re-enables automatic control and clears any active override:
// re-enabling is an explicit "trust the schedule again" signal. Idempotent.
func (e *Engine) EnableSchedule() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = true
	e.override = nil
}

// DisableSchedule stops automatic control. The device retains whatever preset
// is currently applied. Idempotent.
func (e *Engine) DisableSchedule() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = false
}

// SetSchedule replaces the entry list for one day class. The update is atomic:
// if any entry fails validation, the previous schedule remains in effect.
func (e *Engine) SetSchedule(dayClass DayClass, entries []Entry) error {
	if dayClass != Weekday && dayClass != Weekend {
		return &ValidationError{msg: fmt.Sprintf("invalid schedule type %q", dayClass)}
	}
	for _, entry := range entries {
		if !entry.Preset.Valid() {
			return &ValidationError{msg: fmt.Sprintf("invalid preset %q", entry.Preset)}
		}
		if !entry.Time.Valid() {
			return &ValidationError{msg: fmt.Sprintf("invalid time of day %q", entry.Time)}
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedule[dayClass] = append([]Entry(nil), entries...)
	return nil
}

// SetApplied records the preset that was successfully commanded on the
// device. The controller calls this after each confirmed device write; a
// failed write leaves it untouched so the next evaluation re-commands the
// device.
func (e *Engine) SetApplied(preset Preset) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = preset
	e.lastPreset = preset
}

// LastApplied returns the preset last successfully commanded on the device,
// or the empty string if no command has been confirmed yet.
func (e *Engine) LastApplied() Preset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.applied
}

// LastPreset returns the preset last in effect, manual or scheduled. This is
// what a disabled schedule reports, and what is persisted across restarts.
func (e *Engine) LastPreset() Preset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastPreset
}

// Enabled reports whether automatic schedule control is active.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Override returns the current override, if any, without evaluating expiry.
func (e *Engine) Override() (Override, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.override == nil {
		return Override{}, false
	}
	return *e.override, true
}

// Schedule returns a copy of the schedule tables.
func (e *Engine) Schedule() Schedule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	schedule := make(Schedule, len(e.schedule))
	for dayClass, entries := range e.schedule {
		schedule[dayClass] = append([]Entry(nil), entries...)
	}
	return schedule
}

// Temperatures returns the preset temperature table.
func (e *Engine) Temperatures() Temperatures {
	e.mu.RLock()
	defer e.mu.RUnlock()
	temperatures := make(Temperatures, len(e.temperatures))
	for preset, temperature := range e.temperatures {
		temperatures[preset] = temperature
	}
	return temperatures
}

// SetTemperatures replaces the preset temperature table.
func (e *Engine) SetTemperatures(temperatures Temperatures) error {
	for preset := range temperatures {
		if !preset.Valid() {
			return &ValidationError{msg: fmt.Sprintf("invalid preset %q", preset)}
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.temperatures = temperatures
	return nil
}
