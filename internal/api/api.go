// Package api exposes the scheduler's service surface over HTTP: applying a
// manual preset, enabling/disabling the schedule, replacing a day class's
// entries, reading the published attributes and streaming state updates over
// a websocket.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iret33/ha-climate-scheduler/internal/controller"
	"github.com/iret33/ha-climate-scheduler/internal/device"
	"github.com/iret33/ha-climate-scheduler/internal/schedule"
	"github.com/iret33/ha-climate-scheduler/pkg/pubsub"
)

// Scheduler is the part of controller.Manager used by the API.
type Scheduler interface {
	Entities() []string
	ResolvedState(entity string, now time.Time) (schedule.ResolvedState, error)
	Schedule(entity string) (schedule.Schedule, error)
	ApplyPreset(ctx context.Context, entity string, preset schedule.Preset, now time.Time) error
	EnableSchedule(ctx context.Context, entity string, now time.Time) error
	DisableSchedule(ctx context.Context, entity string, now time.Time) error
	SetSchedule(ctx context.Context, entity string, dayClass schedule.DayClass, entries []schedule.Entry, now time.Time) error
	States() *pubsub.Publisher[controller.StateUpdate]
}

// Server serves the REST and websocket endpoints.
type Server struct {
	scheduler Scheduler
	addr      string
	logger    *slog.Logger
	router    *gin.Engine

	// now is overridden in tests
	now func() time.Time
}

func New(scheduler Scheduler, addr string, logger *slog.Logger) *Server {
	s := Server{
		scheduler: scheduler,
		addr:      addr,
		logger:    logger,
		now:       time.Now,
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())

	api := s.router.Group("/api/v1")
	{
		api.GET("/entities", s.listEntities)
		api.GET("/entities/:entity", s.getEntity)
		api.POST("/entities/:entity/preset", s.applyPreset)
		api.POST("/entities/:entity/schedule/enable", s.enableSchedule)
		api.POST("/entities/:entity/schedule/disable", s.disableSchedule)
		api.PUT("/entities/:entity/schedule/:type", s.setSchedule)
	}
	s.router.GET("/ws/:entity", s.wsConnect)

	return &s
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.logger.Debug("started", slog.String("addr", s.addr))
	defer s.logger.Debug("stopped")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// attributes is the published state of one entity.
type attributes struct {
	ScheduledEntity   string            `json:"scheduled_entity"`
	ActivePreset      schedule.Preset   `json:"active_preset"`
	TargetTemperature float64           `json:"target_temperature"`
	ScheduleEnabled   bool              `json:"schedule_enabled"`
	OverrideActive    bool              `json:"override_active"`
	NextSchedule      *string           `json:"next_schedule,omitempty"`
	NextTemperature   *float64          `json:"next_temperature,omitempty"`
	Schedules         schedule.Schedule `json:"schedules,omitempty"`
}

func makeAttributes(entity string, state schedule.ResolvedState, schedules schedule.Schedule) attributes {
	a := attributes{
		ScheduledEntity:   entity,
		ActivePreset:      state.ActivePreset,
		TargetTemperature: state.TargetTemperature,
		ScheduleEnabled:   state.Enabled,
		OverrideActive:    state.OverrideActive,
		NextTemperature:   state.NextTemperature,
		Schedules:         schedules,
	}
	if state.NextSchedule != nil {
		next := state.NextSchedule.Format(time.RFC3339)
		a.NextSchedule = &next
	}
	return a
}

func (s *Server) listEntities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entities": s.scheduler.Entities()})
}

func (s *Server) getEntity(c *gin.Context) {
	entity := c.Param("entity")
	state, err := s.scheduler.ResolvedState(entity, s.now())
	if err != nil {
		s.error(c, err)
		return
	}
	schedules, _ := s.scheduler.Schedule(entity)
	c.JSON(http.StatusOK, makeAttributes(entity, state, schedules))
}

func (s *Server) applyPreset(c *gin.Context) {
	var request struct {
		Preset string `json:"preset" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	entity := c.Param("entity")
	err := s.scheduler.ApplyPreset(c.Request.Context(), entity, schedule.Preset(request.Preset), s.now())
	if errors.Is(err, device.ErrUnavailable) {
		// the override took effect; the controller retries the device write
		s.logger.Warn("device unavailable", slog.String("entity", entity), slog.Any("err", err))
		s.respondWithState(c, entity, gin.H{"warning": err.Error()})
		return
	}
	if err != nil {
		s.error(c, err)
		return
	}
	s.respondWithState(c, entity, nil)
}

func (s *Server) enableSchedule(c *gin.Context) {
	entity := c.Param("entity")
	if err := s.scheduler.EnableSchedule(c.Request.Context(), entity, s.now()); err != nil {
		s.error(c, err)
		return
	}
	s.respondWithState(c, entity, nil)
}

func (s *Server) disableSchedule(c *gin.Context) {
	entity := c.Param("entity")
	if err := s.scheduler.DisableSchedule(c.Request.Context(), entity, s.now()); err != nil {
		s.error(c, err)
		return
	}
	s.respondWithState(c, entity, nil)
}

func (s *Server) setSchedule(c *gin.Context) {
	dayClass, err := schedule.ParseDayClass(c.Param("type"))
	if err != nil {
		s.error(c, err)
		return
	}
	var request struct {
		Entries []schedule.Entry `json:"entries"`
	}
	if err = c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	entity := c.Param("entity")
	if err = s.scheduler.SetSchedule(c.Request.Context(), entity, dayClass, request.Entries, s.now()); err != nil {
		s.error(c, err)
		return
	}
	s.respondWithState(c, entity, nil)
}

// respondWithState confirms a mutation and includes the resulting attributes.
func (s *Server) respondWithState(c *gin.Context, entity string, extra gin.H) {
	response := gin.H{"status": "ok"}
	for k, v := range extra {
		response[k] = v
	}
	if state, err := s.scheduler.ResolvedState(entity, s.now()); err == nil {
		response["state"] = makeAttributes(entity, state, nil)
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, controller.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, &schedule.ValidationError{}):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
