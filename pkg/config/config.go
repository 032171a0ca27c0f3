// Package config loads the engine's configuration (spec §6): worker pool
// sizing, instance/cluster identity, the relational store DSN, work queue
// backend selection, and retention policy. Values are read from a YAML
// file, then overridden by environment variables, then defaulted exactly
// per the spec's table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// QueueBackend selects which queue.Queue implementation the engine wires
// up at startup.
type QueueBackend string

const (
	// QueueBackendLocal uses a bbolt-backed single-instance queue
	// (pkg/queue.LocalQueue) — appropriate for single-node deployments.
	QueueBackendLocal QueueBackend = "local"

	// QueueBackendSQL shares the relational store's flightqueue table
	// across every instance (pkg/queue.SQLQueue) — required for
	// multi-instance deployments.
	QueueBackendSQL QueueBackend = "sql"
)

// EngineConfig is every option spec.md §6 names, plus the DSN and backend
// selectors the ambient stack needs to wire concrete components.
type EngineConfig struct {
	// MaxParallel is the worker pool size. Default 20; any value <= 0 is
	// treated as unset and defaulted.
	MaxParallel int `yaml:"max_parallel"`

	// MaxQueued is the local backlog size before admission spills to the
	// work queue. Minimum and default 1.
	MaxQueued int `yaml:"max_queued"`

	// StairwayName is this instance's unique id. Default: a random UUID.
	StairwayName string `yaml:"stairway_name"`

	// StairwayClusterName is the logical group name, loaded from YAML or
	// the environment. No engine component reads it: the work queue and
	// the retention-leadership Raft group are not keyed by it.
	StairwayClusterName string `yaml:"stairway_cluster_name"`

	// DriverName selects the database/sql driver: "sqlite" or "pgx".
	DriverName string `yaml:"driver_name"`

	// DataSource is the driver-specific DSN.
	DataSource string `yaml:"data_source"`

	// QueueBackend selects local vs SQL-shared queue.
	QueueBackend QueueBackend `yaml:"queue_backend"`

	// LocalQueueDataDir is where the bbolt-backed local queue file lives,
	// used only when QueueBackend is QueueBackendLocal.
	LocalQueueDataDir string `yaml:"local_queue_data_dir"`

	// QueueVisibilityTimeout is how long a dispatched-but-unacked message
	// stays invisible before becoming eligible for redelivery.
	QueueVisibilityTimeout time.Duration `yaml:"queue_visibility_timeout"`

	// RetentionCheckInterval is the janitor period. Default 24h.
	RetentionCheckInterval time.Duration `yaml:"retention_check_interval"`

	// CompletedFlightRetention is the age threshold past which a
	// terminal flight is deleted. Nil (unset) means unbounded: the
	// janitor never deletes anything. An explicit zero means "delete
	// immediately" — every already-terminal flight is swept on the next
	// tick. A pointer is required to tell these two apart, since YAML's
	// zero value for an absent duration field is indistinguishable from
	// an explicit 0s.
	CompletedFlightRetention *time.Duration `yaml:"completed_flight_retention"`

	// ClusterBindAddr is the Raft transport address used for retention
	// leader election. Empty disables clustered leader election; the
	// janitor then always runs (single-instance mode).
	ClusterBindAddr string `yaml:"cluster_bind_addr"`

	// ClusterDataDir holds the Raft log/snapshot/stable stores.
	ClusterDataDir string `yaml:"cluster_data_dir"`

	// AdminListenAddr is the administrative HTTP API's bind address.
	AdminListenAddr string `yaml:"admin_listen_addr"`

	// Migrate applies schema migrations at startup when true.
	Migrate bool `yaml:"migrate"`

	// ForceClean truncates engine tables at startup when true, an
	// operator action for wiping a test/staging deployment.
	ForceClean bool `yaml:"force_clean"`
}

// Load reads path as YAML into an EngineConfig, applies STAIRWAY_*
// environment variable overrides, then fills in every default spec.md §6
// specifies. path may be empty, in which case only env vars and defaults
// apply.
func Load(path string) (*EngineConfig, error) {
	cfg := &EngineConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	cfg.applyDefaults()
	return cfg, nil
}

func applyEnvOverrides(cfg *EngineConfig) {
	if v := os.Getenv("STAIRWAY_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallel = n
		}
	}
	if v := os.Getenv("STAIRWAY_MAX_QUEUED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxQueued = n
		}
	}
	if v := os.Getenv("STAIRWAY_NAME"); v != "" {
		cfg.StairwayName = v
	}
	if v := os.Getenv("STAIRWAY_CLUSTER_NAME"); v != "" {
		cfg.StairwayClusterName = v
	}
	if v := os.Getenv("STAIRWAY_DRIVER_NAME"); v != "" {
		cfg.DriverName = v
	}
	if v := os.Getenv("STAIRWAY_DATA_SOURCE"); v != "" {
		cfg.DataSource = v
	}
	if v := os.Getenv("STAIRWAY_QUEUE_BACKEND"); v != "" {
		cfg.QueueBackend = QueueBackend(v)
	}
	if v := os.Getenv("STAIRWAY_RETENTION_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetentionCheckInterval = d
		}
	}
	if v := os.Getenv("STAIRWAY_COMPLETED_FLIGHT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CompletedFlightRetention = &d
		}
	}
	if v := os.Getenv("STAIRWAY_CLUSTER_BIND_ADDR"); v != "" {
		cfg.ClusterBindAddr = v
	}
	if v := os.Getenv("STAIRWAY_ADMIN_LISTEN_ADDR"); v != "" {
		cfg.AdminListenAddr = v
	}
}

func (c *EngineConfig) applyDefaults() {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 20
	}
	if c.MaxQueued < 1 {
		c.MaxQueued = 1
	}
	if c.StairwayName == "" {
		c.StairwayName = uuid.NewString()
	}
	if c.DriverName == "" {
		c.DriverName = "sqlite"
	}
	if c.DataSource == "" {
		c.DataSource = "stairway.db"
	}
	if c.QueueBackend == "" {
		c.QueueBackend = QueueBackendLocal
	}
	if c.LocalQueueDataDir == "" {
		c.LocalQueueDataDir = "."
	}
	if c.QueueVisibilityTimeout <= 0 {
		c.QueueVisibilityTimeout = 30 * time.Second
	}
	if c.RetentionCheckInterval <= 0 {
		c.RetentionCheckInterval = 24 * time.Hour
	}
	// CompletedFlightRetention left nil means unbounded; no default.
	if c.ClusterDataDir == "" {
		c.ClusterDataDir = "./cluster-" + c.StairwayName
	}
	if c.AdminListenAddr == "" {
		c.AdminListenAddr = ":8080"
	}
}
