// Package telemetry installs the OpenTelemetry trace and meter providers.
//
// Instrumented packages call otel.Tracer and otel.Meter directly; New sets
// the global providers so those calls export over OTLP. With telemetry
// disabled the globals stay no-op.
package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
)

// Config is the resolved telemetry configuration.
type Config struct {
	Enabled         bool
	Endpoint        string
	Protocol        string // grpc or http/protobuf
	ServiceName     string
	ServiceVersion  string
	Insecure        bool
	SampleRate      float64
	Metrics         bool
	ExportInterval  time.Duration
	ShutdownTimeout time.Duration
}

// FromConfig resolves the user-facing telemetry section.
func FromConfig(c config.TelemetryConfig, version string) *Config {
	if version == "" {
		version = "dev"
	}
	protocol := c.Protocol
	if protocol == "" {
		protocol = "grpc"
	}
	return &Config{
		Enabled:         c.Enabled,
		Endpoint:        c.Endpoint,
		Protocol:        protocol,
		ServiceName:     c.ServiceName,
		ServiceVersion:  version,
		Insecure:        c.Insecure,
		SampleRate:      c.Sampling,
		Metrics:         c.Metrics,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required when telemetry is enabled"))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required when telemetry is enabled"))
	}
	switch c.Protocol {
	case "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("unsupported protocol %q (supported: grpc, http/protobuf)", c.Protocol))
	}
	if c.Insecure && !isLocal(c.Endpoint) {
		errs = append(errs, errors.New("insecure export is only allowed to a local endpoint"))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("sampling must be in [0,1], got %g", c.SampleRate))
	}
	if c.Metrics && c.ExportInterval <= 0 {
		errs = append(errs, errors.New("metric export interval must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	return errors.Join(errs...)
}

// isLocal reports whether endpoint names a loopback host.
func isLocal(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// stripScheme removes an http or https prefix. The OTLP HTTP exporters want
// host:port only.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
