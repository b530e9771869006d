package constants

// Default server configuration values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
)

// Scheduling policy values. The grace window tolerates request-transit
// latency before a timestamp counts as past; the overdue window marks
// recovered jobs for immediate delivery instead of near-instant timers.
const (
	DefaultScheduleGraceSec         = 2
	DefaultRecoveryOverdueWindowSec = 10
)

// Ephemeral message defaults
const (
	DefaultEphemeralDurationSec = 5
	MaxEphemeralDurationSec     = 86400
)

// Retry and backoff defaults
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
)

// Input bounds
const (
	MaxUserIDLength    = 128
	MaxMessageIDLength = 128
	MaxTextLength      = 4096
	MaxImageURLLength  = 2048
	MaxOriginTagLength = 255
)

// DeletedMessagePlaceholder replaces the text of a message redacted for
// everyone.
const DeletedMessagePlaceholder = "🚫 This message was deleted"

// DefaultOriginTag partitions presence when a connection does not name one.
const DefaultOriginTag = "ember.main.org"

// Encryption parameters for optional at-rest encryption of message content.
const (
	EncryptionSalt       = "emberchat-store-salt-v1"
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
	EncryptionIterations = 100000
)
