package constants

// Default polling configuration values
const (
	DefaultPollIntervalSec     = 3
	DefaultPollTimeoutSec      = 10
	DefaultRetryBackoffMs      = 1000
	DefaultMaxBackoffMs        = 60000
	DefaultMaxAttempts         = 5
	PendingDedupWindowSec      = 10
	PollBreakerMaxFailures     = 5
	PollBreakerResetTimeoutSec = 30
)

// Default feed configuration values
const (
	DefaultPageSize         = 50
	DefaultMaxContentLength = 2000
	MaxMessageIDLength      = 128
	MaxGroupIDLength        = 128
)

// Default viewport values
const (
	NearBottomThresholdPx = 100
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec      = 30
	DefaultGracefulShutdownSec = 30
	DefaultCacheRetryAttempts  = 3
	DefaultCacheSeedLimit      = 200
	DefaultCacheRetentionDays  = 30
)
