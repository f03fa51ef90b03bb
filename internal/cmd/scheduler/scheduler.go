// Package scheduler assembles and runs the scheduler daemon: the poller, the
// per-entity controllers, the MQTT device client, the REST & websocket API,
// the Prometheus exporter and the health endpoint.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/iret33/ha-climate-scheduler/internal/api"
	"github.com/iret33/ha-climate-scheduler/internal/collector"
	"github.com/iret33/ha-climate-scheduler/internal/configuration"
	"github.com/iret33/ha-climate-scheduler/internal/controller"
	"github.com/iret33/ha-climate-scheduler/internal/device"
	"github.com/iret33/ha-climate-scheduler/internal/health"
	"github.com/iret33/ha-climate-scheduler/internal/poller"
	"github.com/iret33/ha-climate-scheduler/internal/store"
)

var Cmd = cobra.Command{
	Use:   "scheduler",
	Short: "run the climate preset scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), viper.GetViper(), cmd.Root().Version, prometheus.NewRegistry(), slog.Default())
	},
}

func run(ctx context.Context, cfg *viper.Viper, version string, registry *prometheus.Registry, logger *slog.Logger) error {
	logger.Info("starting", "version", version)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	entities, err := maybeLoadSchedules(filepath.Join(filepath.Dir(cfg.ConfigFileUsed()), "schedules.yaml"))
	if err != nil {
		return fmt.Errorf("schedules: %w", err)
	}
	if len(entities.Entities) == 0 {
		return errors.New("no entities configured")
	}

	client, err := device.Connect(device.Config{
		Broker:   cfg.GetString("mqtt.broker"),
		ClientID: "climate-scheduler",
		Username: cfg.GetString("mqtt.username"),
		Password: cfg.GetString("mqtt.password"),
	}, logger.With(slog.String("component", "device")))
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	defer client.Disconnect()

	var s controller.Store
	if path := cfg.GetString("database.path"); path != "" {
		db, err := store.Open(path)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer func() { _ = db.Close() }()
		s = db
	}

	tasks, err := makeTasks(ctx, cfg, entities,
		func(entity string) device.Setter { return client.Device(entity) },
		client.Events(), s, registry, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error { return t.Run(ctx) })
	}
	return g.Wait()
}

func maybeLoadSchedules(path string) (configuration.Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		return configuration.Configuration{}, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	return configuration.Load(f)
}

type task interface {
	Run(ctx context.Context) error
}

func makeTasks(
	ctx context.Context,
	cfg *viper.Viper,
	entities configuration.Configuration,
	devices controller.DeviceFactory,
	events controller.Publisher[device.Event],
	s controller.Store,
	registry *prometheus.Registry,
	l *slog.Logger,
) ([]task, error) {
	p := poller.New(cfg.GetDuration("poller.interval"), l.With("component", "poller"))

	deviceErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate_scheduler",
		Subsystem: "device",
		Name:      "command_errors_total",
		Help:      "total number of failed device commands",
	}, []string{"entity"})
	if registry != nil {
		registry.MustRegister(deviceErrors)
	}

	m, err := controller.NewManager(ctx, entities, controller.Options{
		Poller:           p,
		Events:           events,
		Devices:          devices,
		Store:            s,
		OverrideDuration: cfg.GetDuration("override.duration"),
		PersistOverride:  cfg.GetBool("override.persist"),
		DeviceErrors:     deviceErrors,
		Logger:           l.With("component", "manager"),
	})
	if err != nil {
		return nil, err
	}

	tasks := []task{p, m}

	coll := &collector.Collector{States: m.States(), Logger: l.With("component", "collector")}
	tasks = append(tasks, coll)
	if registry != nil {
		registry.MustRegister(coll)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		tasks = append(tasks, &httpServer{
			addr:    cfg.GetString("exporter.addr"),
			handler: mux,
			logger:  l.With("component", "exporter"),
		})
	}

	h := health.New(p, m.States(), l.With("component", "health"))
	tasks = append(tasks, h)
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	tasks = append(tasks, &httpServer{
		addr:    cfg.GetString("health.addr"),
		handler: mux,
		logger:  l.With("component", "health-server"),
	})

	tasks = append(tasks, api.New(m, cfg.GetString("server.addr"), l.With("component", "api")))

	return tasks, nil
}

// httpServer serves a handler until its context is canceled, then shuts down
// gracefully.
type httpServer struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

func (s *httpServer) Run(ctx context.Context) error {
	server := &http.Server{Addr: s.addr, Handler: s.handler}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Debug("started", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Debug("stopped")
	return <-errCh
}
