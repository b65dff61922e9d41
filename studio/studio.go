// Package studio assembles a complete installation process: the event bus
// with its derived state, the transport clock, macros bridged onto the bus,
// the audit log and optional archive, the section manager with its
// installation scheduler, optional cross-process mirroring over NATS,
// telemetry, the SSE feed and the HTTP API. Construction wires everything;
// Start begins background work; Close tears it down in reverse order.
package studio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	otelapi "go.opentelemetry.io/otel"

	"github.com/nebulalabs/cosmos/audit"
	"github.com/nebulalabs/cosmos/bus"
	"github.com/nebulalabs/cosmos/clock"
	"github.com/nebulalabs/cosmos/macro"
	"github.com/nebulalabs/cosmos/mirror"
	cosmosotel "github.com/nebulalabs/cosmos/otel"
	"github.com/nebulalabs/cosmos/section"
	"github.com/nebulalabs/cosmos/server"
	"github.com/nebulalabs/cosmos/sse"
)

// Studio is one running installation process. The exported fields give
// embedders direct access to the subsystems; the HTTP surface over them
// comes from Handler.
type Studio struct {
	Bus       *bus.Bus
	Clock     *clock.Clock
	Macros    *macro.System
	Sections  *section.Manager
	Scheduler *section.Scheduler
	Audit     *audit.Logger

	// Archive is nil unless an archive path is configured.
	Archive *audit.Archive

	cfg    Config
	logger *slog.Logger

	stream  *sse.Handler
	server  *server.Server
	unsubs  []func()
	closers []func()

	shutdownTelemetry func(context.Context) error
}

// New builds and wires a studio from the configuration. Logger defaults to
// slog.Default(). The context bounds external setup work such as the OTLP
// exporter and the mirror's NATS connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Studio, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Studio{cfg: cfg, logger: logger}
	if err := s.wire(ctx); err != nil {
		s.teardown()
		if s.shutdownTelemetry != nil {
			_ = s.shutdownTelemetry(context.Background())
		}
		return nil, err
	}
	return s, nil
}

func (s *Studio) wire(ctx context.Context) error {
	shutdownTelemetry, err := setupTelemetry(ctx, s.cfg.Telemetry, s.cfg.Origin)
	if err != nil {
		return err
	}
	s.shutdownTelemetry = shutdownTelemetry

	s.Bus = bus.New(bus.Config{
		HistorySize: s.cfg.HistorySize,
		Origin:      s.cfg.Origin,
		Seed:        s.cfg.Seed,
		Logger:      s.logger,
	})

	s.Clock = clock.New(clock.Config{
		Bus:    s.Bus,
		BPM:    s.cfg.Clock.BPM,
		Logger: s.logger,
	})
	s.closers = append(s.closers, s.Clock.Close)

	s.Macros = macro.NewSystem(macro.Config{
		Random: s.Bus.Random,
		Logger: s.logger,
	})
	bridge := macro.Bind(s.Macros, s.Bus)
	s.closers = append(s.closers, bridge.Close)

	s.Audit = audit.Attach(s.Bus, audit.Config{
		MaxEntries: s.cfg.Audit.MaxEntries,
		Logger:     s.logger,
	})
	s.closers = append(s.closers, s.Audit.Close)

	if s.cfg.Audit.ArchivePath != "" {
		archive, err := audit.NewArchive(audit.ArchiveConfig{
			DSN:            s.cfg.Audit.ArchivePath,
			RetentionAge:   time.Duration(s.cfg.Audit.RetentionDays) * 24 * time.Hour,
			RetentionCount: s.cfg.Audit.RetentionCount,
			Logger:         s.logger,
		})
		if err != nil {
			return fmt.Errorf("opening audit archive: %w", err)
		}
		s.Archive = archive
		s.closers = append(s.closers, func() { _ = archive.Close() })

		sub := audit.NewArchiveSubscriber(archive, s.logger)
		s.unsubs = append(s.unsubs, s.Bus.SubscribeAll(sub.Handle))
	}

	metricsHandler, err := cosmosotel.NewMetricsHandler(
		otelapi.GetMeterProvider().Meter("cosmos/bus"),
	)
	if err != nil {
		return fmt.Errorf("initializing bus metrics: %w", err)
	}
	s.unsubs = append(s.unsubs, s.Bus.SubscribeAll(metricsHandler.Handle))

	tracingHandler := cosmosotel.NewTracingHandler(
		otelapi.GetTracerProvider().Tracer("cosmos/bus"),
	)
	s.unsubs = append(s.unsubs, s.Bus.SubscribeAll(tracingHandler.Handle))

	observer, err := cosmosotel.NewTransitionObserver(
		otelapi.GetMeterProvider().Meter("cosmos/section"),
		otelapi.GetTracerProvider().Tracer("cosmos/section"),
	)
	if err != nil {
		return fmt.Errorf("initializing section observability: %w", err)
	}

	s.Sections, err = section.NewManager(section.Config{
		Engine:   s.Clock,
		Macros:   s.Macros,
		Logger:   s.logger,
		Rand:     s.Bus.Random,
		Observer: observer,
	})
	if err != nil {
		return fmt.Errorf("creating section manager: %w", err)
	}
	s.closers = append(s.closers, s.Sections.Close)

	s.Scheduler, err = section.NewScheduler(section.SchedulerConfig{
		Manager:      s.Sections,
		PollInterval: time.Duration(s.cfg.Schedules.PollSeconds) * time.Second,
		Logger:       s.logger,
	})
	if err != nil {
		return fmt.Errorf("creating installation scheduler: %w", err)
	}

	if s.cfg.Mirror.URL != "" {
		transport, err := mirror.NewNATS(mirror.NATSConfig{
			URL:     s.cfg.Mirror.URL,
			Subject: s.cfg.Mirror.Subject,
			Name:    "cosmos-" + s.Bus.Origin(),
		})
		if err != nil {
			return fmt.Errorf("connecting mirror transport: %w", err)
		}
		m := mirror.Attach(s.Bus, transport, mirror.Config{Logger: s.logger})
		s.closers = append(s.closers, func() { _ = m.Close() })
	}

	s.stream, err = sse.NewHandler(sse.Config{
		Bus:              s.Bus,
		CoalesceInterval: time.Duration(s.cfg.Stream.CoalesceMS) * time.Millisecond,
		BufferSize:       s.cfg.Stream.BufferSize,
		Logger:           s.logger,
	})
	if err != nil {
		return fmt.Errorf("creating event stream: %w", err)
	}
	s.closers = append(s.closers, s.stream.Close)

	s.server = server.NewServer(server.ServerConfig{
		Bus:        s.Bus,
		Macros:     s.Macros,
		Sections:   s.Sections,
		Scheduler:  s.Scheduler,
		Audit:      s.Audit,
		Archive:    s.Archive,
		Stream:     s.stream,
		CORSOrigin: s.cfg.Server.CORSOrigin,
		MaxBody:    s.cfg.Server.MaxBodyBytes,
		Logger:     s.logger,
	})
	return nil
}

// Handler returns the studio's complete HTTP surface.
func (s *Studio) Handler() http.Handler {
	return s.server.Handler()
}

// Start begins background work: the schedule poll loop, and playback when
// the clock is configured to autostart.
func (s *Studio) Start() {
	s.Scheduler.Start()
	if s.cfg.Clock.Autostart {
		s.Clock.Start()
	}
}

// Close tears the studio down in reverse wiring order: the scheduler stops
// firing, the stream and mirror detach, then every subsystem releases its
// bus subscription. The context bounds the scheduler stop and the telemetry
// flush.
func (s *Studio) Close(ctx context.Context) error {
	var firstErr error
	if s.Scheduler != nil {
		if err := s.Scheduler.Stop(ctx); err != nil {
			firstErr = fmt.Errorf("stopping scheduler: %w", err)
		}
	}
	s.teardown()
	if s.shutdownTelemetry != nil {
		if err := s.shutdownTelemetry(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flushing telemetry: %w", err)
		}
	}
	return firstErr
}

// teardown releases bus subscriptions and closes subsystems in reverse
// wiring order.
func (s *Studio) teardown() {
	for i := len(s.unsubs) - 1; i >= 0; i-- {
		s.unsubs[i]()
	}
	s.unsubs = nil
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
