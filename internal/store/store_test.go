package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iret33/ha-climate-scheduler/internal/schedule"
	"github.com/iret33/ha-climate-scheduler/internal/store"
)

func testState(entity string) store.EntityState {
	return store.EntityState{
		Entity: entity,
		Schedule: schedule.Schedule{
			schedule.Weekday: {
				{Time: schedule.TimeOfDay{Hour: 6}, Preset: schedule.PresetHome},
				{Time: schedule.TimeOfDay{Hour: 22}, Preset: schedule.PresetSleep},
			},
			schedule.Weekend: {
				{Time: schedule.TimeOfDay{Hour: 8}, Preset: schedule.PresetHome},
			},
		},
		Temperatures: schedule.Temperatures{
			schedule.PresetHome:  21,
			schedule.PresetAway:  18,
			schedule.PresetSleep: 19,
		},
		Enabled:    true,
		LastPreset: schedule.PresetHome,
	}
}

func TestStore(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()

	ctx := context.Background()

	_, err = s.Get(ctx, "living_room")
	assert.ErrorIs(t, err, store.ErrNotFound)

	state := testState("living_room")
	require.NoError(t, s.Save(ctx, state))

	loaded, err := s.Get(ctx, "living_room")
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	// update is an upsert
	state.Enabled = false
	state.LastPreset = schedule.PresetAway
	state.Override = &schedule.Override{
		Preset: schedule.PresetVacation,
		Expiry: time.Date(2024, time.January, 2, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(ctx, state))

	loaded, err = s.Get(ctx, "living_room")
	require.NoError(t, err)
	assert.False(t, loaded.Enabled)
	require.NotNil(t, loaded.Override)
	assert.Equal(t, schedule.PresetVacation, loaded.Override.Preset)
	assert.True(t, loaded.Override.Expiry.Equal(state.Override.Expiry))

	require.NoError(t, s.Save(ctx, testState("bedroom")))
	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bedroom", all[0].Entity)
	assert.Equal(t, "living_room", all[1].Entity)

	require.NoError(t, s.Delete(ctx, "bedroom"))
	all, err = s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
