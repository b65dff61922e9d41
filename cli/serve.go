package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebulalabs/cosmos/studio"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the studio HTTP server",
		Long: "Assembles the full studio (bus, clock, macros, sections, audit) and " +
			"serves its control API and event stream over HTTP.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("config", "", "Path to cosmos.yaml config")
	cmd.Flags().String("origin", "", "Origin tag stamped on events from this process")
	cmd.Flags().String("seed", "", "Project seed driving deterministic randomization")
	cmd.Flags().Float64("bpm", 0, "Starting tempo")
	cmd.Flags().Bool("autostart", false, "Start the transport clock immediately")
	cmd.Flags().String("archive", "", "SQLite path for the audit archive")
	cmd.Flags().String("nats-url", "", "NATS URL for the cross-process mirror")
	cmd.Flags().String("otlp-endpoint", "", "OTLP endpoint for trace export")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("schedule-poll", 5*time.Second, "Section schedule poll interval")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	explicitConfigPath, _ := cmd.Flags().GetString("config")

	var cfg studio.Config
	configPath, found, err := studio.DiscoverConfigPath(explicitConfigPath)
	if err != nil {
		return err
	}
	if found {
		cfg, err = studio.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded config from %s\n", configPath)
	}

	applyServeFlags(cmd, &cfg)
	readTimeout, writeTimeout := serveTimeouts(cmd, cfg)

	st, err := studio.New(cmd.Context(), cfg, newServeLogger(cmd))
	if err != nil {
		return fmt.Errorf("assembling studio: %w", err)
	}

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      st.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st.Start()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Cosmos studio listening on %s\n", addr)
		if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
			errCh <- httpServer.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = st.Close(shutdownCtx)
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		if err := st.Close(shutdownCtx); err != nil {
			return exitError(exitRuntime, "closing studio: %v", err)
		}
		return nil
	case err := <-errCh:
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = st.Close(closeCtx)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// applyServeFlags overlays command-line flags onto the loaded config. An
// explicitly set flag always wins; flag defaults only fill fields the config
// file left at their zero value.
func applyServeFlags(cmd *cobra.Command, cfg *studio.Config) {
	flags := cmd.Flags()

	if flags.Changed("host") || cfg.Server.Host == "" {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") || cfg.Server.Port == 0 {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") || cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-body") || cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes, _ = flags.GetInt64("max-body")
	}
	if flags.Changed("tls-cert") {
		cfg.Server.TLSCert, _ = flags.GetString("tls-cert")
	}
	if flags.Changed("tls-key") {
		cfg.Server.TLSKey, _ = flags.GetString("tls-key")
	}
	if flags.Changed("origin") {
		cfg.Origin, _ = flags.GetString("origin")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetString("seed")
	}
	if flags.Changed("bpm") {
		cfg.Clock.BPM, _ = flags.GetFloat64("bpm")
	}
	if flags.Changed("autostart") {
		cfg.Clock.Autostart, _ = flags.GetBool("autostart")
	}
	if flags.Changed("archive") {
		cfg.Audit.ArchivePath, _ = flags.GetString("archive")
	}
	if flags.Changed("nats-url") {
		cfg.Mirror.URL, _ = flags.GetString("nats-url")
	}
	if flags.Changed("otlp-endpoint") {
		cfg.Telemetry.Endpoint, _ = flags.GetString("otlp-endpoint")
	}
	if flags.Changed("schedule-poll") {
		d, _ := flags.GetDuration("schedule-poll")
		secs := int(d / time.Second)
		if secs == 0 && d > 0 {
			secs = 1
		}
		cfg.Schedules.PollSeconds = secs
	}
}

// serveTimeouts resolves the HTTP server timeouts: flag if set, else config,
// else the flag defaults.
func serveTimeouts(cmd *cobra.Command, cfg studio.Config) (read, write time.Duration) {
	read = 30 * time.Second
	if cfg.Server.ReadTimeoutSeconds > 0 {
		read = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	}
	if cmd.Flags().Changed("read-timeout") {
		read, _ = cmd.Flags().GetDuration("read-timeout")
	}

	write = 60 * time.Second
	if cfg.Server.WriteTimeoutSeconds > 0 {
		write = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	}
	if cmd.Flags().Changed("write-timeout") {
		write, _ = cmd.Flags().GetDuration("write-timeout")
	}
	return read, write
}

// newServeLogger builds the logger handed to the studio. The root command's
// --verbose and --quiet flags pick the level; logs go to stderr so stdout
// stays clean for the listening message.
func newServeLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
