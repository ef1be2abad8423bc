package farmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the REST server binds to.
	DefaultListen = ":9441"
	// DefaultListenProto controls the listener type when no protocol is configured.
	DefaultListenProto = "tcp"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultInboundQueue is the shared broker queue all producers publish
	// submissions to.
	DefaultInboundQueue = "farm.submit"
	// DefaultJSONMaxBytes bounds incoming JSON payloads.
	DefaultJSONMaxBytes = 4 * 1024
	// DefaultShutdownTimeout caps graceful shutdown duration.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// DefaultConfigDir returns the per-user configuration directory. The
// FARMD_CONFIG_DIR environment variable overrides the default of
// $HOME/.farmd.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv("FARMD_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".farmd"), nil
}

// Config holds every tunable for a farmd server.
type Config struct {
	// Listen is the REST bind address (for example ":9441").
	Listen string
	// ListenProto selects listener type (for example "tcp").
	ListenProto string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// InboundQueue names the shared broker queue carrying submissions.
	InboundQueue string
	// TickInterval is the consumption cadence; zero uses the default.
	TickInterval time.Duration
	// BaseRate is the consumption coefficient floor.
	BaseRate float64
	// GrowthRate scales how fast the coefficient grows with farm size.
	GrowthRate float64
	// MaxCoefficient caps the consumption coefficient.
	MaxCoefficient float64
	// MaxFailRounds is how many consecutive failed rounds of one resource a
	// farm survives before collapsing.
	MaxFailRounds int
	// MaxFarmSize is the size threshold that triggers a selling phase.
	MaxFarmSize float64
	// SellingDuration is how long submissions stay locked out while selling.
	SellingDuration time.Duration
	// JSONMaxBytes caps incoming JSON payload size.
	JSONMaxBytes int64
	// ShutdownTimeout caps total graceful shutdown duration.
	ShutdownTimeout time.Duration
}

// Validate normalizes defaults and rejects nonsensical values.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	if c.InboundQueue == "" {
		c.InboundQueue = DefaultInboundQueue
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tick interval must not be negative, got %s", c.TickInterval)
	}
	if c.BaseRate < 0 {
		return fmt.Errorf("base rate must not be negative, got %v", c.BaseRate)
	}
	if c.GrowthRate < 0 {
		return fmt.Errorf("growth rate must not be negative, got %v", c.GrowthRate)
	}
	if c.MaxCoefficient < 0 {
		return fmt.Errorf("max coefficient must not be negative, got %v", c.MaxCoefficient)
	}
	if c.MaxFailRounds < 0 {
		return fmt.Errorf("max fail rounds must not be negative, got %d", c.MaxFailRounds)
	}
	if c.MaxFarmSize < 0 {
		return fmt.Errorf("max farm size must not be negative, got %v", c.MaxFarmSize)
	}
	if c.SellingDuration < 0 {
		return fmt.Errorf("selling duration must not be negative, got %s", c.SellingDuration)
	}
	if c.JSONMaxBytes < 0 {
		return fmt.Errorf("json max bytes must not be negative, got %d", c.JSONMaxBytes)
	}
	if c.JSONMaxBytes == 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}
