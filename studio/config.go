package studio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "cosmos.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the declarative studio configuration, usually loaded from
// cosmos.yaml. The zero value runs a complete in-memory studio: no archive,
// no mirror, no telemetry export.
type Config struct {
	// Origin identifies this process on mirrored events. Defaults to a
	// random UUID per run.
	Origin string `yaml:"origin,omitempty"`

	// Seed initializes the deterministic random source. Defaults to the
	// origin.
	Seed string `yaml:"seed,omitempty"`

	// HistorySize is the bus history ring capacity.
	HistorySize int `yaml:"history_size,omitempty"`

	Server    HTTPConfig      `yaml:"server,omitempty"`
	Clock     ClockConfig     `yaml:"clock,omitempty"`
	Stream    StreamConfig    `yaml:"stream,omitempty"`
	Audit     AuditConfig     `yaml:"audit,omitempty"`
	Schedules SchedulesConfig `yaml:"schedules,omitempty"`
	Mirror    MirrorConfig    `yaml:"mirror,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Host                string `yaml:"host,omitempty"`
	Port                int    `yaml:"port,omitempty"`
	CORSOrigin          string `yaml:"cors_origin,omitempty"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes,omitempty"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds,omitempty"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds,omitempty"`
	TLSCert             string `yaml:"tls_cert,omitempty"`
	TLSKey              string `yaml:"tls_key,omitempty"`
}

// ClockConfig configures the transport clock.
type ClockConfig struct {
	// BPM is the starting tempo.
	BPM float64 `yaml:"bpm,omitempty"`

	// Autostart starts playback as soon as the studio is up, for
	// unattended installations.
	Autostart bool `yaml:"autostart,omitempty"`
}

// StreamConfig configures the SSE feed.
type StreamConfig struct {
	// CoalesceMS thins tick and frame kinds per client; zero disables
	// thinning.
	CoalesceMS int `yaml:"coalesce_ms,omitempty"`

	// BufferSize is the per-client channel buffer.
	BufferSize int `yaml:"buffer_size,omitempty"`
}

// AuditConfig configures the provenance log and its durable archive.
type AuditConfig struct {
	// MaxEntries caps the in-memory event log.
	MaxEntries int `yaml:"max_entries,omitempty"`

	// ArchivePath is the SQLite file for the durable archive. Empty
	// disables archiving; the in-memory log still runs.
	ArchivePath string `yaml:"archive_path,omitempty"`

	// RetentionDays drops archived events older than this. Zero keeps
	// them forever.
	RetentionDays int `yaml:"retention_days,omitempty"`

	// RetentionCount caps the number of archived events. Zero means
	// unbounded.
	RetentionCount int `yaml:"retention_count,omitempty"`
}

// SchedulesConfig configures the installation scheduler.
type SchedulesConfig struct {
	// PollSeconds is the due-schedule poll interval.
	PollSeconds int `yaml:"poll_seconds,omitempty"`
}

// MirrorConfig configures cross-process event mirroring.
type MirrorConfig struct {
	// URL is the NATS server address. Empty disables mirroring.
	URL string `yaml:"url,omitempty"`

	// Subject is the subject events travel on. Every process mirroring
	// the same studio uses the same subject.
	Subject string `yaml:"subject,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector host:port. Empty disables
	// export; metrics and spans still flow to whatever global providers
	// the process installed.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure uses plain HTTP to the collector.
	Insecure bool `yaml:"insecure,omitempty"`
}

// DiscoverConfigPath resolves the config file location with first-match
// semantics: an explicit path, then ./cosmos.yaml, then ~/.cosmos/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".cosmos", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// An explicit path that does not exist is an error; the
			// fallback chain just moves on.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads and parses a config file. Environment variables in string
// values are expanded, and the archive and TLS paths are resolved relative
// to the config file's directory.
func LoadConfig(path string) (Config, error) {
	// #nosec G304 -- path comes from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.expandEnv()
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

func (c *Config) expandEnv() {
	c.Origin = expandEnvValue(c.Origin)
	c.Seed = expandEnvValue(c.Seed)
	c.Server.Host = expandEnvValue(c.Server.Host)
	c.Server.CORSOrigin = expandEnvValue(c.Server.CORSOrigin)
	c.Server.TLSCert = expandEnvValue(c.Server.TLSCert)
	c.Server.TLSKey = expandEnvValue(c.Server.TLSKey)
	c.Audit.ArchivePath = expandEnvValue(c.Audit.ArchivePath)
	c.Mirror.URL = expandEnvValue(c.Mirror.URL)
	c.Mirror.Subject = expandEnvValue(c.Mirror.Subject)
	c.Telemetry.Endpoint = expandEnvValue(c.Telemetry.Endpoint)
}

func (c *Config) resolvePaths(baseDir string) {
	c.Audit.ArchivePath = resolveConfigRelative(baseDir, c.Audit.ArchivePath)
	c.Server.TLSCert = resolveConfigRelative(baseDir, c.Server.TLSCert)
	c.Server.TLSKey = resolveConfigRelative(baseDir, c.Server.TLSKey)
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(value)
}

func resolveConfigRelative(baseDir, p string) string {
	clean := strings.TrimSpace(p)
	if clean == "" {
		return ""
	}
	// SQLite URI DSNs (file:...) pass through untouched.
	if strings.HasPrefix(strings.ToLower(clean), "file:") {
		return clean
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
