// Package config loads and validates the coordinator's runtime configuration:
// scheduler tunables, server ports, and the database connection (pkg/database
// loads its own piece from the environment directly).
package config

import (
	"fmt"
	"time"
)

// SchedulerConfig holds the planner/scheduler/timekeeper tunables.
type SchedulerConfig struct {
	// MinSliceSeconds/MaxSliceSeconds bound the expected runtime of a
	// planned task slice.
	MinSliceSeconds int `yaml:"min_slice_seconds"`
	MaxSliceSeconds int `yaml:"max_slice_seconds"`

	// FallbackHashSpeed is used by the planner when no agent has a
	// benchmark for the attack's hash_type.
	FallbackHashSpeed float64 `yaml:"fallback_hash_speed"`

	// StaleWindow bounds how far backwards a status report's timestamp may
	// drift before the Reconciler rejects it as Stale.
	StaleWindow time.Duration `yaml:"stale_window"`

	// AcceptTimeout is how long an assigned task may wait for accept_task
	// before Timekeeper reverts it to pending.
	AcceptTimeout time.Duration `yaml:"accept_timeout"`

	// MinOfflineThreshold/StatusTimeoutFloor are the lower bounds in the
	// max(3*update_interval, floor) liveness formulas.
	MinOfflineThreshold time.Duration `yaml:"min_offline_threshold"`
	StatusTimeoutFloor  time.Duration `yaml:"status_timeout_floor"`

	// HeartbeatMinInterval is the per-agent rate limit floor.
	HeartbeatMinInterval time.Duration `yaml:"heartbeat_min_interval"`

	// SweepInterval is how often Timekeeper runs its periodic sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ReplanThreshold is the ±fraction hash_speed deviation that triggers
	// a replan on abandon.
	ReplanThreshold float64 `yaml:"replan_threshold"`

	// RequestTimeout bounds any single core operation.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultSchedulerConfig returns the built-in defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MinSliceSeconds:      60,
		MaxSliceSeconds:      900,
		FallbackHashSpeed:    1_000_000,
		StaleWindow:          10 * time.Second,
		AcceptTimeout:        120 * time.Second,
		MinOfflineThreshold:  90 * time.Second,
		StatusTimeoutFloor:   180 * time.Second,
		HeartbeatMinInterval: 15 * time.Second,
		SweepInterval:        20 * time.Second,
		ReplanThreshold:      0.5,
		RequestTimeout:       5 * time.Second,
	}
}

// ServerConfig holds the three HTTP surfaces' listen addresses and the admin
// gRPC address.
type ServerConfig struct {
	AgentAddr    string `yaml:"agent_addr"`
	WebAddr      string `yaml:"web_addr"`
	ControlAddr  string `yaml:"control_addr"`
	AdminRPCAddr string `yaml:"admin_rpc_addr"`
}

// DefaultServerConfig returns development-friendly listen addresses.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		AgentAddr:    ":8080",
		WebAddr:      ":8081",
		ControlAddr:  ":8082",
		AdminRPCAddr: ":9090",
	}
}

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Server    *ServerConfig    `yaml:"server"`

	// OTLPEndpoint, when non-empty, enables OpenTelemetry span export
	// (internal/otelx); empty means tracing is a no-op.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	configDir string
}

// Validate checks the merged configuration for internal consistency.
func (c *Config) Validate() error {
	s := c.Scheduler
	if s.MinSliceSeconds <= 0 || s.MaxSliceSeconds <= 0 {
		return fmt.Errorf("scheduler.min_slice_seconds and max_slice_seconds must be positive")
	}
	if s.MinSliceSeconds > s.MaxSliceSeconds {
		return fmt.Errorf("scheduler.min_slice_seconds (%d) cannot exceed max_slice_seconds (%d)", s.MinSliceSeconds, s.MaxSliceSeconds)
	}
	if s.FallbackHashSpeed <= 0 {
		return fmt.Errorf("scheduler.fallback_hash_speed must be positive")
	}
	if s.ReplanThreshold <= 0 {
		return fmt.Errorf("scheduler.replan_threshold must be positive")
	}
	if s.SweepInterval <= 0 || s.SweepInterval > 30*time.Second {
		return fmt.Errorf("scheduler.sweep_interval must be in (0, 30s]")
	}
	return nil
}
