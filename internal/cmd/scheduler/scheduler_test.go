package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iret33/ha-climate-scheduler/internal/configuration"
	"github.com/iret33/ha-climate-scheduler/internal/device"
	"github.com/iret33/ha-climate-scheduler/internal/schedule"
	"github.com/iret33/ha-climate-scheduler/pkg/pubsub"
)

type fakeDevice struct{}

func (f fakeDevice) SetPreset(_ context.Context, _ schedule.Preset, _ float64) error {
	return nil
}

func Test_makeTasks(t *testing.T) {
	testCases := []struct {
		name     string
		registry *prometheus.Registry
		length   int
	}{
		{name: "with registry", registry: prometheus.NewPedanticRegistry(), length: 7},
		{name: "without registry", length: 6},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := viper.New()
			cfg.SetConfigType("yaml")
			require.NoError(t, cfg.ReadConfig(bytes.NewBufferString(`
poller:
  interval: 30s
server:
  addr: :8080
`)))

			entities := configuration.Configuration{Entities: []configuration.EntityConfig{{
				ID:        "living_room",
				Name:      "Living Room",
				Schedules: configuration.DefaultSchedule(),
				Presets:   configuration.DefaultTemperatures(),
			}}}

			tasks, err := makeTasks(t.Context(), cfg, entities,
				func(_ string) device.Setter { return fakeDevice{} },
				pubsub.New[device.Event](slog.New(slog.DiscardHandler)),
				nil, tt.registry, slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			assert.Len(t, tasks, tt.length)
		})
	}
}

func Test_maybeLoadSchedules(t *testing.T) {
	testCases := []struct {
		name     string
		content  string
		wantErr  assert.ErrorAssertionFunc
		entities int
	}{
		{
			name: "valid",
			content: `entities:
  - id: living_room
    name: Living Room
`,
			wantErr:  assert.NoError,
			entities: 1,
		},
		{
			name:    "invalid",
			content: `not valid yaml`,
			wantErr: assert.Error,
		},
		{
			name:    "missing",
			content: ``,
			wantErr: assert.NoError,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := os.CreateTemp("", "")
			require.NoError(t, err)

			if tt.content != "" {
				_, err := f.Write([]byte(tt.content))
				require.NoError(t, err)
				_ = f.Close()
				defer func() { _ = os.Remove(f.Name()) }()
			} else {
				_ = f.Close()
				_ = os.Remove(f.Name())
			}

			cfg, err := maybeLoadSchedules(f.Name())
			tt.wantErr(t, err)
			assert.Len(t, cfg.Entities, tt.entities)
		})
	}
}
