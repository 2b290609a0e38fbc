package config

import "time"

const (
	defaultMaxAttempts      = 8
	defaultRetryBaseSeconds = 5
	defaultRetryMaxSeconds  = 300
	defaultJobTimeout       = 600 * time.Second
	defaultSweeperInterval  = 10 * time.Second
	defaultWorkerConcurrency = 16
	defaultAuditBuffer      = 256
)

// JobConfig holds the retry/timeout knobs named in job.* config keys.
type JobConfig struct {
	MaxAttempts      int
	RetryBaseSeconds int
	RetryMaxSeconds  int
	Timeout          time.Duration
}

// LoadJobConfig reads job.* configuration from the environment.
func LoadJobConfig() *JobConfig {
	return &JobConfig{
		MaxAttempts:      GetEnvInt("JOBCORE_JOB_MAX_ATTEMPTS", defaultMaxAttempts),
		RetryBaseSeconds: GetEnvInt("JOBCORE_JOB_RETRY_BASE_SECONDS", defaultRetryBaseSeconds),
		RetryMaxSeconds:  GetEnvInt("JOBCORE_JOB_RETRY_MAX_SECONDS", defaultRetryMaxSeconds),
		Timeout:          GetEnvDuration("JOBCORE_JOB_TIMEOUT", defaultJobTimeout),
	}
}

// WorkerConfig holds worker.* and sweeper configuration.
type WorkerConfig struct {
	QueueNames      []string
	Concurrency     int
	SweeperInterval time.Duration
}

// LoadWorkerConfig reads worker.* configuration from the environment.
func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		QueueNames:      ParseCommaSeparatedList(GetEnvStr("JOBCORE_WORKER_QUEUE_NAMES", "default")),
		Concurrency:     GetEnvInt("JOBCORE_WORKER_CONCURRENCY", defaultWorkerConcurrency),
		SweeperInterval: GetEnvDuration("JOBCORE_SWEEPER_INTERVAL", defaultSweeperInterval),
	}
}

// BrokerConfig holds broker.* configuration for the Kafka-backed adapter.
type BrokerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// LoadBrokerConfig reads broker.* configuration from the environment.
// Brokers is empty when JOBCORE_BROKER_ADDRS is unset, signaling callers to
// fall back to the in-memory adapter rather than dial Kafka.
func LoadBrokerConfig() *BrokerConfig {
	return &BrokerConfig{
		Brokers: ParseCommaSeparatedList(GetEnvStr("JOBCORE_BROKER_ADDRS", "")),
		Topic:   GetEnvStr("JOBCORE_BROKER_TOPIC", "jobs"),
		GroupID: GetEnvStr("JOBCORE_BROKER_GROUP_ID", "jobcore-worker"),
	}
}

// AuditConfig holds audit sink tuning.
type AuditConfig struct {
	BufferSize int
}

// LoadAuditConfig reads the audit sink's buffer size from the environment.
func LoadAuditConfig() *AuditConfig {
	return &AuditConfig{
		BufferSize: GetEnvInt("JOBCORE_AUDIT_BUFFER", defaultAuditBuffer),
	}
}
