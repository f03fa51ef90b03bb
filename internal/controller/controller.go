// Package controller runs the scheduling loop for the configured climate
// entities: each Controller owns one entity's schedule engine, evaluates it
// on every poller tick and commands the device when the active preset
// changes. Device-reported preset changes are recorded as manual overrides.
package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iret33/ha-climate-scheduler/internal/device"
	"github.com/iret33/ha-climate-scheduler/internal/poller"
	"github.com/iret33/ha-climate-scheduler/internal/schedule"
)

// Publisher is the subscription interface of pubsub.Publisher.
type Publisher[T any] interface {
	Subscribe() chan T
	Unsubscribe(chan T)
}

// A StateUpdate is published whenever an entity's resolved state has been
// (re-)evaluated. The collector and the websocket stream subscribe to it.
type StateUpdate struct {
	Entity string
	Time   time.Time
	State  schedule.ResolvedState
}

// A Controller evaluates one entity's schedule on every tick and commands the
// device when the resolved preset differs from the one last applied. Device
// write failures are logged and never corrupt the engine state; the next tick
// retries.
type Controller struct {
	entity       string
	engine       *schedule.Engine
	device       device.Setter
	updates      Publisher[poller.Update]
	events       Publisher[device.Event]
	saver        saver
	states       statePublisher
	deviceErrors *prometheus.CounterVec
	logger       *slog.Logger
}

type saver interface {
	saveEntity(ctx context.Context, entity string)
}

type statePublisher interface {
	Publish(StateUpdate)
}

func newController(entity string, engine *schedule.Engine, dev device.Setter, updates Publisher[poller.Update], events Publisher[device.Event], s saver, states statePublisher, deviceErrors *prometheus.CounterVec, logger *slog.Logger) *Controller {
	return &Controller{
		entity:       entity,
		engine:       engine,
		device:       dev,
		updates:      updates,
		events:       events,
		saver:        s,
		states:       states,
		deviceErrors: deviceErrors,
		logger:       logger,
	}
}

// Run processes poller ticks and device events until ctx is done. Events are
// handled strictly in arrival order; there is no concurrent mutation of the
// engine from this loop.
func (c *Controller) Run(ctx context.Context) error {
	updates := c.updates.Subscribe()
	defer c.updates.Unsubscribe(updates)
	events := c.events.Subscribe()
	defer c.events.Unsubscribe(events)

	c.logger.Debug("controller started")
	defer c.logger.Debug("controller stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-updates:
			c.processUpdate(ctx, update)
		case event := <-events:
			c.processEvent(ctx, event)
		}
	}
}

// processUpdate re-resolves the active preset and commands the device if it
// differs from the last confirmed device write. The first update always
// commands the device, since the device's state at startup is unknown, and a
// failed write leaves the applied preset unconfirmed, so the next update
// retries it.
func (c *Controller) processUpdate(ctx context.Context, update poller.Update) {
	state := c.engine.Resolve(update.Time)

	if state.ActivePreset != c.engine.LastApplied() {
		c.logger.Info("applying preset",
			slog.String("preset", state.ActivePreset.String()),
			slog.Float64("temperature", state.TargetTemperature),
		)
		if err := c.device.SetPreset(ctx, state.ActivePreset, state.TargetTemperature); err != nil {
			c.logger.Warn("failed to command device", slog.Any("err", err))
			if c.deviceErrors != nil {
				c.deviceErrors.WithLabelValues(c.entity).Inc()
			}
		} else {
			c.engine.SetApplied(state.ActivePreset)
			c.saver.saveEntity(ctx, c.entity)
		}
	}

	c.states.Publish(StateUpdate{Entity: c.entity, Time: update.Time, State: state})
}

// processEvent records an out-of-band preset change made on the device itself
// as a manual override. The device is already in the reported preset, so it
// is not commanded again.
func (c *Controller) processEvent(ctx context.Context, event device.Event) {
	if event.Entity != c.entity {
		return
	}
	now := time.Now()
	c.logger.Info("manual preset change detected", slog.String("preset", event.Preset.String()))
	if err := c.engine.ApplyManualPreset(event.Preset, now); err != nil {
		c.logger.Warn("ignoring invalid preset report", slog.Any("err", err))
		return
	}
	c.engine.SetApplied(event.Preset)
	c.saver.saveEntity(ctx, c.entity)
	c.states.Publish(StateUpdate{Entity: c.entity, Time: now, State: c.engine.Resolve(now)})
}
