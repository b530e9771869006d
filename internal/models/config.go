package models

// ServerConfig holds the HTTP/WebSocket surface settings.
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds the SQLite store settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// BusConfig holds the NATS event bus settings.
type BusConfig struct {
	URL string `json:"url"`
}

// SchedulerConfig tunes the deferred-send engine. Zero values fall back to
// the defaults in internal/constants.
type SchedulerConfig struct {
	GraceSec         int `json:"graceSec"`
	OverdueWindowSec int `json:"overdueWindowSec"`
}

// RetryConfig tunes startup retries for the store and the bus.
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

// Config is the full application configuration.
type Config struct {
	LogLevel  string          `json:"logLevel"`
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Bus       BusConfig       `json:"bus"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retry     RetryConfig     `json:"retry"`
	Tracing   TracingConfig   `json:"tracing"`
}

// ConfigError reports an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
