package schedule

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func defaultSchedule() Schedule {
	return Schedule{
		Weekday: {
			{Time: TimeOfDay{Hour: 6}, Preset: PresetHome},
			{Time: TimeOfDay{Hour: 8}, Preset: PresetAway},
			{Time: TimeOfDay{Hour: 17}, Preset: PresetHome},
			{Time: TimeOfDay{Hour: 22}, Preset: PresetSleep},
		},
		Weekend: {
			{Time: TimeOfDay{Hour: 8}, Preset: PresetHome},
			{Time: TimeOfDay{Hour: 23}, Preset: PresetSleep},
		},
	}
}

func defaultTemperatures() Temperatures {
	return Temperatures{PresetHome: 21, PresetAway: 18, PresetSleep: 19, PresetVacation: 16}
}

// 2024-01-02 is a Tuesday
func tuesday(hour, minute int) time.Time {
	return time.Date(2024, time.January, 2, hour, minute, 0, 0, time.Local)
}

func TestEngine_ActivePreset(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want Preset
	}{
		{name: "weekday morning", now: tuesday(7, 30), want: PresetHome},
		{name: "weekday working hours", now: tuesday(9, 0), want: PresetAway},
		{name: "weekday evening", now: tuesday(18, 0), want: PresetHome},
		{name: "weekday night", now: tuesday(22, 30), want: PresetSleep},
		{name: "exact boundary", now: tuesday(8, 0), want: PresetAway},
		{name: "before first entry: previous day carries over", now: tuesday(5, 0), want: PresetSleep},
		{name: "monday before first entry: weekend carries over", now: time.Date(2024, time.January, 1, 5, 0, 0, 0, time.Local), want: PresetSleep},
		{name: "saturday morning", now: time.Date(2024, time.January, 6, 9, 0, 0, 0, time.Local), want: PresetHome},
		{name: "saturday before first entry: friday carries over", now: time.Date(2024, time.January, 6, 7, 0, 0, 0, time.Local), want: PresetSleep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})
			assert.Equal(t, tt.want, e.ActivePreset(tt.now))
		})
	}
}

func TestEngine_ActivePreset_EmptySchedules(t *testing.T) {
	e := New(Config{Schedule: Schedule{}, Temperatures: defaultTemperatures(), Enabled: true})
	assert.Equal(t, PresetHome, e.ActivePreset(tuesday(12, 0)))

	_, ok := e.NextTransition(tuesday(12, 0))
	assert.False(t, ok)
}

func TestEngine_ActivePreset_EmptyPreviousDay(t *testing.T) {
	// weekend table is empty: before monday's first entry, resolution falls
	// back to the default preset rather than carrying over
	s := defaultSchedule()
	delete(s, Weekend)
	e := New(Config{Schedule: s, Temperatures: defaultTemperatures(), Enabled: true})
	monday := time.Date(2024, time.January, 1, 5, 0, 0, 0, time.Local)
	assert.Equal(t, DefaultPreset, e.ActivePreset(monday))
}

func TestEngine_ActivePreset_UnsortedAndDuplicateEntries(t *testing.T) {
	e := New(Config{
		Schedule: Schedule{
			Weekday: {
				{Time: TimeOfDay{Hour: 17}, Preset: PresetHome},
				{Time: TimeOfDay{Hour: 6}, Preset: PresetHome},
				{Time: TimeOfDay{Hour: 8}, Preset: PresetSleep},
				{Time: TimeOfDay{Hour: 8}, Preset: PresetAway},
			},
		},
		Temperatures: defaultTemperatures(),
		Enabled:      true,
	})
	// duplicate times: the later entry in the list wins
	assert.Equal(t, PresetAway, e.ActivePreset(tuesday(9, 0)))

	next, ok := e.NextTransition(tuesday(7, 0))
	require.True(t, ok)
	assert.Equal(t, PresetAway, next.Preset)
	assert.Equal(t, tuesday(8, 0), next.Time)
}

func TestEngine_NextTransition(t *testing.T) {
	e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})

	next, ok := e.NextTransition(tuesday(7, 30))
	require.True(t, ok)
	assert.Equal(t, tuesday(8, 0), next.Time)
	assert.Equal(t, PresetAway, next.Preset)
	assert.Equal(t, 18.0, next.Temperature)

	// after the last weekday entry, the next transition is tomorrow morning
	next, ok = e.NextTransition(tuesday(22, 30))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.January, 3, 6, 0, 0, 0, time.Local), next.Time)
	assert.Equal(t, PresetHome, next.Preset)

	// friday evening rolls over to the weekend table
	friday := time.Date(2024, time.January, 5, 23, 0, 0, 0, time.Local)
	next, ok = e.NextTransition(friday)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.January, 6, 8, 0, 0, 0, time.Local), next.Time)

	// an entry exactly at now is not "strictly after"
	next, ok = e.NextTransition(tuesday(8, 0))
	require.True(t, ok)
	assert.Equal(t, tuesday(17, 0), next.Time)
}

func TestEngine_ManualOverride(t *testing.T) {
	e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})

	require.NoError(t, e.ApplyManualPreset(PresetVacation, tuesday(9, 0)))

	assert.Equal(t, PresetVacation, e.ActivePreset(tuesday(9, 15)))
	// override has no lingering effect after expiry
	assert.Equal(t, PresetAway, e.ActivePreset(tuesday(9, 31)))
}

func TestEngine_ApplyManualPreset_InvalidPreset(t *testing.T) {
	e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})
	err := e.ApplyManualPreset("tropical", tuesday(9, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, &ValidationError{})
}

func TestEngine_EnableSchedule_ClearsOverride(t *testing.T) {
	e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})

	require.NoError(t, e.ApplyManualPreset(PresetAway, tuesday(18, 0)))
	assert.Equal(t, PresetAway, e.ActivePreset(tuesday(18, 1)))

	e.EnableSchedule()
	assert.Equal(t, PresetHome, e.ActivePreset(tuesday(18, 1)))
	_, ok := e.Override()
	assert.False(t, ok)
}

func TestEngine_DisableSchedule(t *testing.T) {
	e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})
	e.SetApplied(PresetAway)

	e.DisableSchedule()
	// disabled: the last applied preset sticks, regardless of the schedule
	assert.Equal(t, PresetAway, e.ActivePreset(tuesday(18, 0)))
	assert.Equal(t, PresetAway, e.ActivePreset(tuesday(3, 0)))

	// idempotent
	e.DisableSchedule()
	assert.False(t, e.Enabled())

	e.EnableSchedule()
	assert.True(t, e.Enabled())
	assert.Equal(t, PresetHome, e.ActivePreset(tuesday(18, 0)))
}

func TestEngine_LastApplied(t *testing.T) {
	e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})

	// nothing confirmed on the device yet
	assert.Empty(t, e.LastApplied())

	// a manual preset takes effect without a confirmed device write
	require.NoError(t, e.ApplyManualPreset(PresetVacation, tuesday(9, 0)))
	assert.Empty(t, e.LastApplied())
	assert.Equal(t, PresetVacation, e.LastPreset())

	e.SetApplied(PresetVacation)
	assert.Equal(t, PresetVacation, e.LastApplied())
	assert.Equal(t, PresetVacation, e.LastPreset())
}

func TestEngine_SetSchedule(t *testing.T) {
	tests := []struct {
		name     string
		dayClass DayClass
		entries  []Entry
		wantErr  assert.ErrorAssertionFunc
	}{
		{
			name:     "valid",
			dayClass: Weekday,
			entries:  []Entry{{Time: TimeOfDay{Hour: 7}, Preset: PresetHome}},
			wantErr:  assert.NoError,
		},
		{
			name:     "empty list is valid",
			dayClass: Weekend,
			entries:  nil,
			wantErr:  assert.NoError,
		},
		{
			name:     "unknown preset",
			dayClass: Weekday,
			entries:  []Entry{{Time: TimeOfDay{Hour: 7}, Preset: "party"}},
			wantErr:  assert.Error,
		},
		{
			name:     "malformed time",
			dayClass: Weekday,
			entries:  []Entry{{Time: TimeOfDay{Hour: 25}, Preset: PresetHome}},
			wantErr:  assert.Error,
		},
		{
			name:     "unknown schedule type",
			dayClass: "holiday",
			entries:  []Entry{{Time: TimeOfDay{Hour: 7}, Preset: PresetHome}},
			wantErr:  assert.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})
			tt.wantErr(t, e.SetSchedule(tt.dayClass, tt.entries))
		})
	}
}

func TestEngine_SetSchedule_RejectedAtomically(t *testing.T) {
	e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})

	err := e.SetSchedule(Weekday, []Entry{
		{Time: TimeOfDay{Hour: 7}, Preset: PresetHome},
		{Time: TimeOfDay{Hour: 9}, Preset: "party"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, &ValidationError{})

	// prior schedule remains fully in effect
	assert.Equal(t, PresetAway, e.ActivePreset(tuesday(9, 0)))
}

func TestEngine_Resolve(t *testing.T) {
	e := New(Config{Schedule: defaultSchedule(), Temperatures: defaultTemperatures(), Enabled: true})

	state := e.Resolve(tuesday(7, 30))
	assert.Equal(t, PresetHome, state.ActivePreset)
	assert.Equal(t, 21.0, state.TargetTemperature)
	assert.True(t, state.Enabled)
	assert.False(t, state.OverrideActive)
	require.NotNil(t, state.NextSchedule)
	assert.Equal(t, tuesday(8, 0), *state.NextSchedule)
	require.NotNil(t, state.NextTemperature)
	assert.Equal(t, 18.0, *state.NextTemperature)

	require.NoError(t, e.ApplyManualPreset(PresetVacation, tuesday(9, 0)))
	state = e.Resolve(tuesday(9, 15))
	assert.Equal(t, PresetVacation, state.ActivePreset)
	assert.Equal(t, 16.0, state.TargetTemperature)
	assert.True(t, state.OverrideActive)
}

func TestEngine_RestoredState(t *testing.T) {
	override := Override{Preset: PresetVacation, Expiry: tuesday(9, 30)}
	e := New(Config{
		Schedule:     defaultSchedule(),
		Temperatures: defaultTemperatures(),
		Enabled:      true,
		LastPreset:   PresetSleep,
		Override:     &override,
	})

	assert.Equal(t, PresetVacation, e.ActivePreset(tuesday(9, 15)))
	assert.Equal(t, PresetAway, e.ActivePreset(tuesday(9, 31)))

	restored, ok := e.Override()
	require.True(t, ok)
	assert.Equal(t, override, restored)
}
