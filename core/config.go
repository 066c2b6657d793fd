package core

import (
	"fmt"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type WebhookConfig struct {
	MaxAttempts     int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	RetryDelay      time.Duration `koanf:"retry_delay" mapstructure:"retry_delay"`
	SignatureHeader string        `koanf:"signature_header" mapstructure:"signature_header"`
	RequestTimeout  time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

type CronTaskConfig struct {
	Interval  time.Duration `koanf:"interval" mapstructure:"interval"`
	BatchSize int           `koanf:"batch_size" mapstructure:"batch_size"`
}

type CronConfig struct {
	ProcessJobLauncherWebhooks       CronTaskConfig `koanf:"process_job_launcher_webhooks" mapstructure:"process_job_launcher_webhooks"`
	ProcessRecordingOracleWebhooks   CronTaskConfig `koanf:"process_recording_oracle_webhooks" mapstructure:"process_recording_oracle_webhooks"`
	ProcessReputationOracleWebhooks  CronTaskConfig `koanf:"process_reputation_oracle_webhooks" mapstructure:"process_reputation_oracle_webhooks"`
	ProcessOutgoingWebhooks          CronTaskConfig `koanf:"process_outgoing_webhooks" mapstructure:"process_outgoing_webhooks"`
	TrackEscrowCreation              CronTaskConfig `koanf:"track_escrow_creation" mapstructure:"track_escrow_creation"`
	TrackCompletedTasks              CronTaskConfig `koanf:"track_completed_tasks" mapstructure:"track_completed_tasks"`
	TrackCompletedProjects           CronTaskConfig `koanf:"track_completed_projects" mapstructure:"track_completed_projects"`
	TrackCompletedEscrows            CronTaskConfig `koanf:"track_completed_escrows" mapstructure:"track_completed_escrows"`
	TrackAssignments                 CronTaskConfig `koanf:"track_assignments" mapstructure:"track_assignments"`
	ProcessRecordingOracleCompletion CronTaskConfig `koanf:"process_recording_oracle_completion" mapstructure:"process_recording_oracle_completion"`
	Queued                           bool           `koanf:"queued" mapstructure:"queued"`
}

type CVATConfig struct {
	URL                   string                   `koanf:"url" mapstructure:"url"`
	Username              string                   `koanf:"username" mapstructure:"username"`
	Password              string                   `koanf:"password" mapstructure:"password"`
	RequestTimeout        time.Duration            `koanf:"request_timeout" mapstructure:"request_timeout"`
	DefaultAssignmentTime time.Duration            `koanf:"default_assignment_time" mapstructure:"default_assignment_time"`
	AssignmentTimes       map[string]time.Duration `koanf:"assignment_times" mapstructure:"assignment_times"`
	DownloadRetries       int                      `koanf:"download_retries" mapstructure:"download_retries"`
	DownloadRetryDelay    time.Duration            `koanf:"download_retry_delay" mapstructure:"download_retry_delay"`
	WebhookSecret         string                   `koanf:"webhook_secret" mapstructure:"webhook_secret"`
}

type StorageConfig struct {
	Endpoint  string `koanf:"endpoint" mapstructure:"endpoint"`
	Region    string `koanf:"region" mapstructure:"region"`
	Bucket    string `koanf:"bucket" mapstructure:"bucket"`
	AccessKey string `koanf:"access_key" mapstructure:"access_key"`
	SecretKey string `koanf:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl" mapstructure:"use_ssl"`
}

type ChainConfig struct {
	ChainIDs         []int64           `koanf:"chain_ids" mapstructure:"chain_ids"`
	EscrowGatewayURL string            `koanf:"escrow_gateway_url" mapstructure:"escrow_gateway_url"`
	SigningKey       string            `koanf:"signing_key" mapstructure:"signing_key"`
	RoleAddresses    map[string]string `koanf:"role_addresses" mapstructure:"role_addresses"`
	RoleURLs         map[string]string `koanf:"role_urls" mapstructure:"role_urls"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	Webhook     WebhookConfig  `koanf:"webhook" mapstructure:"webhook"`
	Cron        CronConfig     `koanf:"cron" mapstructure:"cron"`
	CVAT        CVATConfig     `koanf:"cvat" mapstructure:"cvat"`
	Storage     StorageConfig  `koanf:"storage" mapstructure:"storage"`
	Chain       ChainConfig    `koanf:"chain" mapstructure:"chain"`
}

func DefaultConfig() Config {
	task := CronTaskConfig{Interval: 30 * time.Second, BatchSize: 5}
	return Config{
		ServiceName: "exchange-oracle",
		HTTP:        HTTPConfig{Addr: ":8000"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:oracle.db?cache=shared&_foreign_keys=on",
		},
		Webhook: WebhookConfig{
			MaxAttempts:     5,
			RetryDelay:      time.Minute,
			SignatureHeader: "human-signature",
			RequestTimeout:  10 * time.Second,
		},
		Cron: CronConfig{
			ProcessJobLauncherWebhooks:       task,
			ProcessRecordingOracleWebhooks:   task,
			ProcessReputationOracleWebhooks:  task,
			ProcessOutgoingWebhooks:          task,
			TrackEscrowCreation:              task,
			TrackCompletedTasks:              task,
			TrackCompletedProjects:           task,
			TrackCompletedEscrows:            task,
			TrackAssignments:                 CronTaskConfig{Interval: 5 * time.Second, BatchSize: 10},
			ProcessRecordingOracleCompletion: task,
		},
		CVAT: CVATConfig{
			RequestTimeout:        30 * time.Second,
			DefaultAssignmentTime: 300 * time.Second,
			AssignmentTimes:       map[string]time.Duration{},
			DownloadRetries:       3,
			DownloadRetryDelay:    time.Second,
		},
		Storage: StorageConfig{
			Region: "us-east-1",
			Bucket: "results",
		},
		Chain: ChainConfig{
			RoleAddresses: map[string]string{},
			RoleURLs:      map[string]string{},
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Webhook.MaxAttempts < 0 {
		return fmt.Errorf("core: webhook.max_attempts must be positive")
	}
	if c.Webhook.RetryDelay < 0 {
		return fmt.Errorf("core: webhook.retry_delay must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "sqlite3", "postgres", "pg":
	default:
		return fmt.Errorf("core: database.driver %q is not supported", c.Database.Driver)
	}
	for role := range c.Chain.RoleAddresses {
		if _, err := ParseRole(role); err != nil {
			return fmt.Errorf("core: chain.role_addresses: %w", err)
		}
	}
	for role := range c.Chain.RoleURLs {
		if _, err := ParseRole(role); err != nil {
			return fmt.Errorf("core: chain.role_urls: %w", err)
		}
	}
	return nil
}

// AssignmentTime returns the assignment expiry for a job type.
func (c CVATConfig) AssignmentTime(jobType string) time.Duration {
	if duration, ok := c.AssignmentTimes[strings.TrimSpace(jobType)]; ok && duration > 0 {
		return duration
	}
	if c.DefaultAssignmentTime > 0 {
		return c.DefaultAssignmentTime
	}
	return 300 * time.Second
}

// ChainAllowed reports whether chainID is one of the configured networks.
// An empty list accepts every chain.
func (c ChainConfig) ChainAllowed(chainID int64) bool {
	if len(c.ChainIDs) == 0 {
		return true
	}
	for _, candidate := range c.ChainIDs {
		if candidate == chainID {
			return true
		}
	}
	return false
}
