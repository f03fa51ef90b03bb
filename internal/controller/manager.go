package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/iret33/ha-climate-scheduler/internal/configuration"
	"github.com/iret33/ha-climate-scheduler/internal/device"
	"github.com/iret33/ha-climate-scheduler/internal/poller"
	"github.com/iret33/ha-climate-scheduler/internal/schedule"
	"github.com/iret33/ha-climate-scheduler/internal/store"
	"github.com/iret33/ha-climate-scheduler/pkg/pubsub"
)

// ErrUnknownEntity is returned for service calls targeting an entity that is
// not configured.
var ErrUnknownEntity = errors.New("unknown entity")

// Store persists entity state. *store.Store satisfies it; a nil Store
// disables persistence.
type Store interface {
	Save(ctx context.Context, state store.EntityState) error
	Get(ctx context.Context, entity string) (store.EntityState, error)
}

// DeviceFactory returns the Setter commanding one climate entity.
type DeviceFactory func(entity string) device.Setter

// Options configures a Manager.
type Options struct {
	Poller           Publisher[poller.Update]
	Events           Publisher[device.Event]
	Devices          DeviceFactory
	Store            Store
	OverrideDuration time.Duration
	PersistOverride  bool
	// DeviceErrors counts failed device commands, labeled by entity. Optional.
	DeviceErrors *prometheus.CounterVec
	Logger       *slog.Logger
}

type entry struct {
	name       string
	engine     *schedule.Engine
	device     device.Setter
	controller *Controller
}

// A Manager owns one independent engine/controller pair per configured
// entity, keyed by entity id. It is the single entry point for service calls
// (apply preset, enable/disable, set schedule) and for state lookups.
type Manager struct {
	entries         map[string]*entry
	order           []string
	store           Store
	persistOverride bool
	states          *pubsub.Publisher[StateUpdate]
	deviceErrors    *prometheus.CounterVec
	logger          *slog.Logger
}

// NewManager builds the engines and controllers for all configured entities.
// Persisted state, where present, takes precedence over the configuration
// file for the schedule tables, enable state and override; the preset
// temperatures always come from the configuration file, which is their
// reconfiguration surface.
func NewManager(ctx context.Context, cfg configuration.Configuration, o Options) (*Manager, error) {
	m := Manager{
		entries:         make(map[string]*entry, len(cfg.Entities)),
		store:           o.Store,
		persistOverride: o.PersistOverride,
		states:          pubsub.New[StateUpdate](o.Logger.With(slog.String("component", "states"))),
		deviceErrors:    o.DeviceErrors,
		logger:          o.Logger,
	}

	for _, entityCfg := range cfg.Entities {
		engineCfg := schedule.Config{
			Schedule:         entityCfg.Schedules,
			Temperatures:     entityCfg.Presets,
			OverrideDuration: o.OverrideDuration,
			Enabled:          true,
		}
		if engineCfg.Schedule == nil {
			engineCfg.Schedule = configuration.DefaultSchedule()
		}
		if engineCfg.Temperatures == nil {
			engineCfg.Temperatures = configuration.DefaultTemperatures()
		}
		if o.Store != nil {
			if persisted, err := o.Store.Get(ctx, entityCfg.ID); err == nil {
				engineCfg.Schedule = persisted.Schedule
				engineCfg.Enabled = persisted.Enabled
				engineCfg.LastPreset = persisted.LastPreset
				if o.PersistOverride {
					engineCfg.Override = persisted.Override
				}
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("could not restore state for %q: %w", entityCfg.ID, err)
			}
		}

		engine := schedule.New(engineCfg)
		dev := o.Devices(entityCfg.ID)
		e := entry{
			name:   entityCfg.Name,
			engine: engine,
			device: dev,
			controller: newController(entityCfg.ID, engine, dev, o.Poller, o.Events, &m, m.states, o.DeviceErrors,
				o.Logger.With(slog.String("module", "controller"), slog.String("entity", entityCfg.ID))),
		}
		m.entries[entityCfg.ID] = &e
		m.order = append(m.order, entityCfg.ID)
	}
	return &m, nil
}

// Run starts all controllers and waits for them to terminate.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Debug("manager started")
	defer m.logger.Debug("manager stopped")

	var g errgroup.Group
	for _, e := range m.entries {
		g.Go(func() error { return e.controller.Run(ctx) })
	}
	return g.Wait()
}

// States returns the publisher of resolved-state updates.
func (m *Manager) States() *pubsub.Publisher[StateUpdate] {
	return m.states
}

// Entities lists the configured entity ids, in configuration order.
func (m *Manager) Entities() []string {
	return m.order
}

// ApplyPreset applies a manual preset: the engine records an override and the
// device is commanded immediately. A device failure is reported (wrapped
// device.ErrUnavailable) but the override still takes effect; the controller
// retries on the next tick.
func (m *Manager) ApplyPreset(ctx context.Context, entity string, preset schedule.Preset, now time.Time) error {
	e, ok := m.entries[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if err := e.engine.ApplyManualPreset(preset, now); err != nil {
		return err
	}

	err := e.device.SetPreset(ctx, preset, e.engine.Temperatures()[preset])
	if err != nil {
		m.countDeviceError(entity)
	} else {
		e.engine.SetApplied(preset)
	}
	m.saveEntity(ctx, entity)
	m.publishState(entity, now)
	return err
}

// EnableSchedule re-enables automatic control, clearing any override.
func (m *Manager) EnableSchedule(ctx context.Context, entity string, now time.Time) error {
	e, ok := m.entries[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	e.engine.EnableSchedule()
	m.saveEntity(ctx, entity)
	m.publishState(entity, now)
	return nil
}

// DisableSchedule stops automatic control until explicitly re-enabled.
func (m *Manager) DisableSchedule(ctx context.Context, entity string, now time.Time) error {
	e, ok := m.entries[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	e.engine.DisableSchedule()
	m.saveEntity(ctx, entity)
	m.publishState(entity, now)
	return nil
}

// SetSchedule replaces one day class's entry list wholesale.
func (m *Manager) SetSchedule(ctx context.Context, entity string, dayClass schedule.DayClass, entries []schedule.Entry, now time.Time) error {
	e, ok := m.entries[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if err := e.engine.SetSchedule(dayClass, entries); err != nil {
		return err
	}
	m.saveEntity(ctx, entity)
	m.publishState(entity, now)
	return nil
}

// ResolvedState returns the current resolved state for one entity.
func (m *Manager) ResolvedState(entity string, now time.Time) (schedule.ResolvedState, error) {
	e, ok := m.entries[entity]
	if !ok {
		return schedule.ResolvedState{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return e.engine.Resolve(now), nil
}

// Schedule returns the current schedule tables for one entity.
func (m *Manager) Schedule(entity string) (schedule.Schedule, error) {
	e, ok := m.entries[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return e.engine.Schedule(), nil
}

// saveEntity writes one entity's state through to the store, best-effort: a
// failed write is logged, never fatal.
func (m *Manager) saveEntity(ctx context.Context, entity string) {
	if m.store == nil {
		return
	}
	e, ok := m.entries[entity]
	if !ok {
		return
	}
	state := store.EntityState{
		Entity:       entity,
		Schedule:     e.engine.Schedule(),
		Temperatures: e.engine.Temperatures(),
		Enabled:      e.engine.Enabled(),
		LastPreset:   e.engine.LastPreset(),
	}
	if m.persistOverride {
		if override, ok := e.engine.Override(); ok {
			state.Override = &override
		}
	}
	if err := m.store.Save(ctx, state); err != nil {
		m.logger.Warn("failed to persist state", slog.String("entity", entity), slog.Any("err", err))
	}
}

func (m *Manager) countDeviceError(entity string) {
	if m.deviceErrors != nil {
		m.deviceErrors.WithLabelValues(entity).Inc()
	}
}

func (m *Manager) publishState(entity string, now time.Time) {
	e := m.entries[entity]
	m.states.Publish(StateUpdate{Entity: entity, Time: now, State: e.engine.Resolve(now)})
}
