// Package config loads the worker and czar configuration keys named in
// spec.md §6 from a YAML file, the way the teacher's cmd/warren apply
// command parses YAML resources with gopkg.in/yaml.v3 — defaults are
// applied the way cmd/warren/main.go seeds its Cobra flag defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MemMan holds memman.* keys.
type MemMan struct {
	Class    string `yaml:"class"`     // "None" or "Lockable"
	MemoryMB int    `yaml:"memory_mb"`
	Location string `yaml:"location"`
}

// SchedulerLane holds the per-lane subset of scheduler.* keys.
type SchedulerLane struct {
	Priority        int `yaml:"priority"`
	Reserve         int `yaml:"reserve"`
	MaxActiveChunks int `yaml:"maxactivechunks"`
	ScanMaxMinutes  int `yaml:"scanmaxminutes"`
}

// Scheduler holds scheduler.* keys.
type Scheduler struct {
	ThreadPoolSize             int           `yaml:"thread_pool_size"`
	MaxPoolThreads             int           `yaml:"max_pool_threads"`
	GroupSize                  int           `yaml:"group_size"`
	RequiredTasksCompleted     int           `yaml:"required_tasks_completed"`
	Fast                       SchedulerLane `yaml:"fast"`
	Medium                     SchedulerLane `yaml:"med"`
	Slow                       SchedulerLane `yaml:"slow"`
	Snail                      SchedulerLane `yaml:"snail"`
	MaxTasksBootedPerUserQuery int           `yaml:"maxtasksbootedperuserquery"`
	MaxConcurrentBootedTasks  int            `yaml:"maxconcurrentbootedtasks"`
	ExamineIntervalSec        int            `yaml:"examine_interval_sec"`
}

// SQLConnections holds sqlconnections.* keys.
type SQLConnections struct {
	MaxSQLConn               int `yaml:"maxsqlconn"`
	ReservedInteractiveConn int  `yaml:"reservedinteractivesqlconn"`
}

// Transmit holds transmit.* keys.
type Transmit struct {
	BufferMaxTotalGB int `yaml:"buffermaxtotalgb"`
	MaxTransmits     int `yaml:"maxtransmits"`
	MaxPerQID        int `yaml:"maxperqid"`
}

// ResultsProtocol is the result-file transport protocol.
type ResultsProtocol string

const (
	ProtocolHTTP  ResultsProtocol = "HTTP"
	ProtocolXROOT ResultsProtocol = "XROOT"
	// ProtocolS3 is an opt-in extension (SPEC_FULL.md §3.2). It is accepted
	// as a value, but no component reads Results.Protocol: result files are
	// always written to local disk.
	ProtocolS3 ResultsProtocol = "S3"
)

// Results holds results.* keys.
type Results struct {
	DirName        string          `yaml:"dirname"`
	XrootdPort     int             `yaml:"xrootd_port"`
	NumHTTPThreads int             `yaml:"num_http_threads"`
	Protocol       ResultsProtocol `yaml:"protocol"`
	CleanUpOnStart bool            `yaml:"clean_up_on_start"`
	S3Bucket       string          `yaml:"s3_bucket,omitempty"`
	S3Region       string          `yaml:"s3_region,omitempty"`
}

// Replication holds replication.* keys.
type Replication struct {
	InstanceID            string `yaml:"instance_id"`
	AuthKey                string `yaml:"auth_key"`
	AdminAuthKey           string `yaml:"admin_auth_key"`
	RegistryHost           string `yaml:"registry_host"`
	RegistryPort           int    `yaml:"registry_port"`
	RegistryHeartbeatIvalSec int  `yaml:"registry_heartbeat_ival_sec"`
	HTTPPort               int    `yaml:"http_port"`
	NumHTTPThreads         int    `yaml:"num_http_threads"`
}

// MySQL holds mysql.* keys.
type MySQL struct {
	Port     int    `yaml:"port"`
	Socket   string `yaml:"socket"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Hostname string `yaml:"hostname"`
	DB       string `yaml:"db"`
}

// WorkerConfig is the full worker configuration document.
type WorkerConfig struct {
	MemMan         MemMan          `yaml:"memman"`
	Scheduler      Scheduler       `yaml:"scheduler"`
	SQLConnections SQLConnections  `yaml:"sqlconnections"`
	Transmit       Transmit        `yaml:"transmit"`
	Results        Results         `yaml:"results"`
	Replication    Replication     `yaml:"replication"`
	MySQL          MySQL           `yaml:"mysql"`
}

// StatusIntervalSec is the C12 worker-query-status POST period (spec.md
// §4.13, "e.g. 1 s"). Not user-overridable via the worker config keys listed
// in spec.md §6, so it's a program constant instead of a YAML key.
const StatusIntervalSec = 1

// EvictTimeoutSec and ResponseTimeoutSec parameterize C14 (spec.md §4.15).
// Like StatusIntervalSec, spec.md §6 does not list these among the worker
// config keys; they are czar-side operator knobs.
type HealthMonitorConfig struct {
	ResponseTimeoutSec int `yaml:"response_timeout_sec"`
	EvictTimeoutSec    int `yaml:"evict_timeout_sec"`
}

func (h HealthMonitorConfig) ResponseTimeout() time.Duration {
	return time.Duration(h.ResponseTimeoutSec) * time.Second
}

func (h HealthMonitorConfig) EvictTimeout() time.Duration {
	return time.Duration(h.EvictTimeoutSec) * time.Second
}

// DefaultWorkerConfig mirrors the defaults implied by spec.md's examples
// (S1-S6) and original_source/src/memman/MemMan.h's stated defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MemMan: MemMan{Class: "Lockable", MemoryMB: 4096, Location: "/data/qserv"},
		Scheduler: Scheduler{
			ThreadPoolSize:         8,
			MaxPoolThreads:         16,
			GroupSize:              2,
			RequiredTasksCompleted: 5,
			Fast:                   SchedulerLane{Priority: 3, Reserve: 2, MaxActiveChunks: 2, ScanMaxMinutes: 60},
			Medium:                 SchedulerLane{Priority: 2, Reserve: 2, MaxActiveChunks: 2, ScanMaxMinutes: 90},
			Slow:                   SchedulerLane{Priority: 1, Reserve: 1, MaxActiveChunks: 1, ScanMaxMinutes: 120},
			Snail:                  SchedulerLane{Priority: 0, Reserve: 1, MaxActiveChunks: 1, ScanMaxMinutes: 300},
			MaxTasksBootedPerUserQuery: 3,
			MaxConcurrentBootedTasks:  2,
			ExamineIntervalSec:        300,
		},
		SQLConnections: SQLConnections{MaxSQLConn: 20, ReservedInteractiveConn: 4},
		Transmit:       Transmit{BufferMaxTotalGB: 4, MaxTransmits: 40, MaxPerQID: 4},
		Results: Results{
			DirName:        "results",
			NumHTTPThreads: 4,
			Protocol:       ProtocolHTTP,
			CleanUpOnStart: true,
		},
		Replication: Replication{
			RegistryHeartbeatIvalSec: 1,
			HTTPPort:                 25000,
			NumHTTPThreads:           4,
		},
		MySQL: MySQL{Port: 3306, Username: "qsmaster", DB: "qservw_worker"},
	}
}

// LoadWorkerConfig reads and parses a YAML worker config file, applying
// DefaultWorkerConfig for any zero-valued fields the file omits.
func LoadWorkerConfig(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// CzarConfig is the full czar configuration document: the C12 status
// round, C14 health monitor, and the chunk-map document the replication
// control plane publishes are all czar-only concerns spec.md §6 leaves as
// operator knobs rather than worker config keys.
type CzarConfig struct {
	Health          HealthMonitorConfig `yaml:"health"`
	StatusRound     CzarStatusRound     `yaml:"status_round"`
	ChunkMapPath    string              `yaml:"chunk_map_path"`
	MaxAttempts     int                 `yaml:"max_attempts"`
	CollectPoolSize int                 `yaml:"collect_pool_size"`
	// Workers maps a worker id to its base HTTP address
	// (e.g. "http://worker-1:25000"), the czar's static address book in
	// the absence of the replication registry service (dropped per
	// SPEC_FULL.md §3.4).
	Workers map[string]string `yaml:"workers"`
	// MySQL names the database the infile merger (C11) writes each
	// query's result table into — distinct from a worker's own mysql
	// key, which names the chunk-data source database.
	MySQL MySQL `yaml:"mysql"`
	// MaxMergeBatchBytes bounds the merger's per-query insert batch
	// before it flushes (spec.md §4.9's infile-merger buffering).
	MaxMergeBatchBytes int64 `yaml:"max_merge_batch_bytes"`
}

// CzarStatusRound holds the C12 round cadence and per-call timeout.
type CzarStatusRound struct {
	IntervalSec int `yaml:"interval_sec"`
	TimeoutSec  int `yaml:"timeout_sec"`
}

// DefaultCzarConfig mirrors spec.md's stated defaults: a 1s status round
// (StatusIntervalSec), and health-monitor timeouts loose enough not to
// evict a worker over a single missed probe.
func DefaultCzarConfig() CzarConfig {
	return CzarConfig{
		Health:             HealthMonitorConfig{ResponseTimeoutSec: 5, EvictTimeoutSec: 30},
		StatusRound:        CzarStatusRound{IntervalSec: StatusIntervalSec, TimeoutSec: 5},
		MaxAttempts:        3,
		CollectPoolSize:    8,
		MySQL:              MySQL{Port: 3306, Username: "qsmaster", DB: "qservResult"},
		MaxMergeBatchBytes: 16 * 1024 * 1024,
	}
}

// LoadCzarConfig reads and parses a YAML czar config file, applying
// DefaultCzarConfig for any zero-valued fields the file omits.
func LoadCzarConfig(path string) (CzarConfig, error) {
	cfg := DefaultCzarConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
