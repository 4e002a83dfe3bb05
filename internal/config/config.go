package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"
)

type (
	// Config holds configuration settings for the orchestration service
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores & Backup
		StateStore    StateStoreConfig
		EngineStore   timebox.StoreConfig
		WorkflowStore timebox.StoreConfig
		Backup        BackupConfig

		// Messaging
		Topics Topics
		Events EventNames

		// Workflows
		Activities      ActivityConfig
		Remote          RemoteConfig
		RemoteTimeout   time.Duration
		ApprovalTimeout time.Duration

		// Engine
		WorkflowCacheSize int
		StatusRetries     int
		ShutdownTimeout   time.Duration
	}

	// StateStoreConfig locates the key-value store holding the shared
	// status record and stored batch results
	StateStoreConfig struct {
		Addr      string
		Password  string
		DB        int
		Prefix    string
		StatusKey string
	}

	// BackupConfig locates the bucket that receives status snapshots
	BackupConfig struct {
		BucketURL string
		FileName  string
	}

	// Topics names every message bus topic the service uses
	Topics struct {
		SystemEvents     string
		WorkflowProgress string
		BatchRequest     string
		BatchResponse    string
		RemoteRequest    string
		RemoteProgress   string
		RemoteComplete   string
	}

	// EventNames names the external events workflows wait on
	EventNames struct {
		Approval       string
		RemoteComplete string
	}

	// ActivityConfig sets the simulated durations of local activities
	ActivityConfig struct {
		InitializeDuration  time.Duration
		ConfigureDuration   time.Duration
		ValidateDuration    time.Duration
		FinalizeDuration    time.Duration
		ValidationDelay     time.Duration
		EnrichmentDelay     time.Duration
		NotificationDelay   time.Duration
		MinProgressInterval time.Duration
	}

	// RemoteConfig drives the simulated remote data processor
	RemoteConfig struct {
		Enabled bool

		// StepUnit is one unit of simulated work; each processing step
		// takes a fixed number of units
		StepUnit  time.Duration
		Intervals int
	}
)

const (
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "orchestrator"
	DefaultStatusKey           = "system-state"
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second
	DefaultCacheSize           = 4096
	DefaultStatusRetries       = 5

	DefaultBackupBucketURL = "file:///tmp/orchestrator-backup"
	DefaultBackupFileName  = "system-state.json"

	DefaultRemoteTimeout   = 5 * time.Minute
	DefaultApprovalTimeout = 3 * time.Minute

	DefaultRemoteStepUnit  = time.Second
	DefaultRemoteIntervals = 4

	MaxWorkflowCacheSize = 1_000_000
	MaxStatusRetries     = 100
	MaxWaitTimeout       = 24 * time.Hour
)

var (
	ErrInvalidAPIPort         = errors.New("invalid API port")
	ErrInvalidStatusKey       = errors.New("status key must not be empty")
	ErrInvalidStatusRetries   = errors.New("status retries must be positive")
	ErrInvalidBackupBucket    = errors.New("backup bucket URL must be set")
	ErrInvalidBackupFileName  = errors.New("backup file name must be set")
	ErrInvalidTopic           = errors.New("topic name must not be empty")
	ErrInvalidEventName       = errors.New("event name must not be empty")
	ErrInvalidWaitTimeout     = errors.New("wait timeout must be positive")
	ErrInvalidActivityDelay   = errors.New("activity delay cannot be negative")
	ErrInvalidProgressPeriod  = errors.New("progress interval must be positive")
	ErrInvalidRemoteIntervals = errors.New("remote intervals must be positive")
)

// NewDefaultConfig creates a configuration with the durations, topic names,
// and store locations the service runs with out of the box
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:  DefaultAPIPort,
		APIHost:  DefaultAPIHost,
		LogLevel: "info",
		StateStore: StateStoreConfig{
			Addr:      DefaultRedisEndpoint,
			DB:        DefaultRedisDB,
			Prefix:    DefaultRedisPrefix,
			StatusKey: DefaultStatusKey,
		},
		EngineStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
			TrimEvents:   true,
		},
		WorkflowStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		Backup: BackupConfig{
			BucketURL: DefaultBackupBucketURL,
			FileName:  DefaultBackupFileName,
		},
		Topics: Topics{
			SystemEvents:     "system-events",
			WorkflowProgress: "workflow-progress",
			BatchRequest:     "batch-process-request",
			BatchResponse:    "batch-process-response",
			RemoteRequest:    "servicec-request",
			RemoteProgress:   "servicec-progress",
			RemoteComplete:   "servicec-complete",
		},
		Events: EventNames{
			Approval:       "ApprovalReceived",
			RemoteComplete: "RemoteComplete",
		},
		Activities: ActivityConfig{
			InitializeDuration:  3000 * time.Millisecond,
			ConfigureDuration:   2000 * time.Millisecond,
			ValidateDuration:    2500 * time.Millisecond,
			FinalizeDuration:    1500 * time.Millisecond,
			ValidationDelay:     2000 * time.Millisecond,
			EnrichmentDelay:     4000 * time.Millisecond,
			NotificationDelay:   1500 * time.Millisecond,
			MinProgressInterval: 500 * time.Millisecond,
		},
		Remote: RemoteConfig{
			Enabled:   true,
			StepUnit:  DefaultRemoteStepUnit,
			Intervals: DefaultRemoteIntervals,
		},
		RemoteTimeout:     DefaultRemoteTimeout,
		ApprovalTimeout:   DefaultApprovalTimeout,
		WorkflowCacheSize: DefaultCacheSize,
		StatusRetries:     DefaultStatusRetries,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.EngineStore, "ENGINE")
	LoadStoreConfigFromEnv(&c.WorkflowStore, "WORKFLOW")
	loadStateStoreFromEnv(&c.StateStore)

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if bucket := os.Getenv("BACKUP_BUCKET_URL"); bucket != "" {
		c.Backup.BucketURL = bucket
	}
	if fileName := os.Getenv("BACKUP_FILE_NAME"); fileName != "" {
		c.Backup.FileName = fileName
	}
	if enabled := os.Getenv("REMOTE_PROCESSOR_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			c.Remote.Enabled = v
		}
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"WORKFLOW_CACHE_SIZE", &c.WorkflowCacheSize, 0, MaxWorkflowCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"STATUS_RETRIES", &c.StatusRetries, 0, MaxStatusRetries,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"REMOTE_TIMEOUT", &c.RemoteTimeout, MaxWaitTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"APPROVAL_TIMEOUT", &c.ApprovalTimeout, MaxWaitTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"REMOTE_STEP_UNIT", &c.Remote.StepUnit, MaxWaitTimeout,
	); err != nil {
		return err
	}
	return loadEnvDuration(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout, MaxWaitTimeout,
	)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.StateStore.StatusKey == "" {
		return ErrInvalidStatusKey
	}

	if c.StatusRetries <= 0 {
		return ErrInvalidStatusRetries
	}

	if c.Backup.BucketURL == "" {
		return ErrInvalidBackupBucket
	}

	if c.Backup.FileName == "" {
		return ErrInvalidBackupFileName
	}

	for name, topic := range c.Topics.byName() {
		if topic == "" {
			return fmt.Errorf("%w: %s", ErrInvalidTopic, name)
		}
	}

	if c.Events.Approval == "" || c.Events.RemoteComplete == "" {
		return ErrInvalidEventName
	}

	if c.RemoteTimeout <= 0 || c.ApprovalTimeout <= 0 {
		return ErrInvalidWaitTimeout
	}

	if err := c.Activities.validate(); err != nil {
		return err
	}

	if c.Remote.Intervals <= 0 {
		return ErrInvalidRemoteIntervals
	}

	return nil
}

func (t Topics) byName() map[string]string {
	return map[string]string{
		"system events":     t.SystemEvents,
		"workflow progress": t.WorkflowProgress,
		"batch request":     t.BatchRequest,
		"batch response":    t.BatchResponse,
		"remote request":    t.RemoteRequest,
		"remote progress":   t.RemoteProgress,
		"remote complete":   t.RemoteComplete,
	}
}

func (a ActivityConfig) validate() error {
	for _, d := range []time.Duration{
		a.InitializeDuration, a.ConfigureDuration, a.ValidateDuration,
		a.FinalizeDuration, a.ValidationDelay, a.EnrichmentDelay,
		a.NotificationDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidActivityDelay, d)
		}
	}
	if a.MinProgressInterval <= 0 {
		return ErrInvalidProgressPeriod
	}
	return nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix (e.g., "ENGINE" or "WORKFLOW")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

func loadStateStoreFromEnv(s *StateStoreConfig) {
	if addr := os.Getenv("STATE_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv("STATE_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv("STATE_REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv("STATE_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if key := os.Getenv("STATE_STATUS_KEY"); key != "" {
		s.StatusKey = key
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key as a Go duration string ("90s", "3m") and sets
// *dst if the value is positive and no greater than max
func loadEnvDuration(key string, dst *time.Duration, max time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if d <= 0 || d > max {
		return fmt.Errorf("invalid %s: %s out of range (0, %s]", key, d, max)
	}
	*dst = d
	return nil
}
