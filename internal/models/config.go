package models

// ConfigError indicates an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

type APIConfig struct {
	BaseURL    string `json:"baseUrl"`
	AuthToken  string `json:"authToken,omitempty"`
	TimeoutSec int    `json:"timeoutSec,omitempty"`
}

type FeedConfig struct {
	GroupID          string `json:"groupId"`
	UserID           string `json:"userId"`
	PageSize         int    `json:"pageSize,omitempty"`
	MaxContentLength int    `json:"maxContentLength,omitempty"`
}

type PollConfig struct {
	Enabled           bool `json:"enabled"`
	IntervalSec       int  `json:"intervalSec,omitempty"`
	RequestTimeoutSec int  `json:"requestTimeoutSec,omitempty"`
}

type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs,omitempty"`
	MaxBackoffMs     int `json:"maxBackoffMs,omitempty"`
	MaxAttempts      int `json:"maxAttempts,omitempty"`
}

type CacheConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path,omitempty"`
	SeedLimit     int    `json:"seedLimit,omitempty"`
	RetentionDays int    `json:"retentionDays,omitempty"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName,omitempty"`
	ServiceVersion string  `json:"serviceVersion,omitempty"`
	Environment    string  `json:"environment,omitempty"`
	OTLPEndpoint   string  `json:"otlpEndpoint,omitempty"`
	SampleRate     float64 `json:"sampleRate,omitempty"`
	UseStdout      bool    `json:"useStdout,omitempty"`
}

type Config struct {
	API      APIConfig     `json:"api"`
	Feed     FeedConfig    `json:"feed"`
	Poll     PollConfig    `json:"poll"`
	Retry    RetryConfig   `json:"retry"`
	Cache    CacheConfig   `json:"cache"`
	Tracing  TracingConfig `json:"tracing"`
	LogLevel string        `json:"logLevel,omitempty"`
}
