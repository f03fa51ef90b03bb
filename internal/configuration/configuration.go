// Package configuration loads the per-entity scheduler configuration
// (schedule tables and preset temperatures) from a yaml file.
package configuration

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/iret33/ha-climate-scheduler/internal/schedule"
)

// EntityConfig configures the scheduler for one climate entity.
type EntityConfig struct {
	ID        string                `yaml:"id"`
	Name      string                `yaml:"name"`
	Schedules schedule.Schedule     `yaml:"schedules"`
	Presets   schedule.Temperatures `yaml:"presets"`
}

// Configuration is the content of schedules.yaml.
type Configuration struct {
	Entities []EntityConfig `yaml:"entities"`
}

// DefaultSchedule is applied to entities that don't configure their own.
func DefaultSchedule() schedule.Schedule {
	return schedule.Schedule{
		schedule.Weekday: {
			{Time: schedule.TimeOfDay{Hour: 6}, Preset: schedule.PresetHome},
			{Time: schedule.TimeOfDay{Hour: 8}, Preset: schedule.PresetAway},
			{Time: schedule.TimeOfDay{Hour: 17}, Preset: schedule.PresetHome},
			{Time: schedule.TimeOfDay{Hour: 22}, Preset: schedule.PresetSleep},
		},
		schedule.Weekend: {
			{Time: schedule.TimeOfDay{Hour: 8}, Preset: schedule.PresetHome},
			{Time: schedule.TimeOfDay{Hour: 23}, Preset: schedule.PresetSleep},
		},
	}
}

// DefaultTemperatures is applied to entities that don't configure their own.
func DefaultTemperatures() schedule.Temperatures {
	return schedule.Temperatures{
		schedule.PresetHome:     21,
		schedule.PresetAway:     18,
		schedule.PresetSleep:    19,
		schedule.PresetVacation: 16,
	}
}

// Load reads and validates a Configuration, filling in defaults for missing
// schedule tables and preset temperatures.
func Load(r io.Reader) (Configuration, error) {
	var cfg Configuration
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Entities))
	for i, entity := range cfg.Entities {
		if entity.ID == "" {
			return Configuration{}, fmt.Errorf("entity %d: missing id", i)
		}
		if _, ok := seen[entity.ID]; ok {
			return Configuration{}, fmt.Errorf("duplicate entity id %q", entity.ID)
		}
		seen[entity.ID] = struct{}{}

		if entity.Schedules == nil {
			cfg.Entities[i].Schedules = DefaultSchedule()
		} else if err := validateSchedule(entity.Schedules); err != nil {
			return Configuration{}, fmt.Errorf("entity %q: %w", entity.ID, err)
		}

		if entity.Presets == nil {
			cfg.Entities[i].Presets = DefaultTemperatures()
		} else if err := validatePresets(entity.Presets); err != nil {
			return Configuration{}, fmt.Errorf("entity %q: %w", entity.ID, err)
		}
	}
	return cfg, nil
}

func validateSchedule(s schedule.Schedule) error {
	for dayClass, entries := range s {
		if _, err := schedule.ParseDayClass(string(dayClass)); err != nil {
			return err
		}
		for _, entry := range entries {
			if !entry.Preset.Valid() {
				return fmt.Errorf("invalid preset %q", entry.Preset)
			}
		}
	}
	return nil
}

func validatePresets(t schedule.Temperatures) error {
	for preset := range t {
		if !preset.Valid() {
			return fmt.Errorf("invalid preset %q", preset)
		}
	}
	return nil
}
