// Package collector exports the resolved state of all entities as prometheus
// metrics.
package collector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iret33/ha-climate-scheduler/internal/controller"
	"github.com/iret33/ha-climate-scheduler/internal/schedule"
)

var (
	activePreset = prometheus.NewDesc(
		prometheus.BuildFQName("climate_scheduler", "entity", "active_preset"),
		"Active preset. Always 1. See label 'preset'",
		[]string{"entity", "preset"},
		nil,
	)
	targetTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("climate_scheduler", "entity", "target_temperature"),
		"Target temperature of this entity",
		[]string{"entity"},
		nil,
	)
	scheduleEnabled = prometheus.NewDesc(
		prometheus.BuildFQName("climate_scheduler", "entity", "schedule_enabled"),
		"1 if automatic schedule control is enabled for this entity",
		[]string{"entity"},
		nil,
	)
	overrideActive = prometheus.NewDesc(
		prometheus.BuildFQName("climate_scheduler", "entity", "override_active"),
		"1 if a manual override is currently active for this entity",
		[]string{"entity"},
		nil,
	)
	nextTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("climate_scheduler", "entity", "next_temperature"),
		"Target temperature of the next scheduled transition",
		[]string{"entity"},
		nil,
	)
)

var _ prometheus.Collector = &Collector{}

// Collector caches the last resolved state per entity and exports it on
// scrape.
type Collector struct {
	States controller.Publisher[controller.StateUpdate]
	Logger *slog.Logger
	lock   sync.RWMutex
	cache  map[string]schedule.ResolvedState
}

// Run consumes state updates until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	ch := c.States.Subscribe()
	defer c.States.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			c.lock.Lock()
			if c.cache == nil {
				c.cache = make(map[string]schedule.ResolvedState)
			}
			c.cache[update.Entity] = update.State
			c.lock.Unlock()
		}
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- activePreset
	ch <- targetTemperature
	ch <- scheduleEnabled
	ch <- overrideActive
	ch <- nextTemperature
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for entity, state := range c.cache {
		ch <- prometheus.MustNewConstMetric(activePreset, prometheus.GaugeValue, 1, entity, state.ActivePreset.String())
		ch <- prometheus.MustNewConstMetric(targetTemperature, prometheus.GaugeValue, state.TargetTemperature, entity)
		ch <- prometheus.MustNewConstMetric(scheduleEnabled, prometheus.GaugeValue, boolToFloat(state.Enabled), entity)
		ch <- prometheus.MustNewConstMetric(overrideActive, prometheus.GaugeValue, boolToFloat(state.OverrideActive), entity)
		if state.NextTemperature != nil {
			ch <- prometheus.MustNewConstMetric(nextTemperature, prometheus.GaugeValue, *state.NextTemperature, entity)
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
