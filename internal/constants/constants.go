package constants

import "time"

const (
	DefaultBaseURL  = "https://www.warcraftlogs.com"
	OAuthTokenPath  = "/oauth/token"
	GraphQLPath     = "/client/api/v2/client"
	EventsPageLimit = 10000
)

const (
	TokenRefreshMargin = 60 * time.Second
)

const (
	DefaultCacheCapacity   = 64
	DefaultCacheTTL        = 30 * time.Minute
	DefaultCompletedJobTTL = 10 * time.Minute
	DefaultFastReturn      = 750 * time.Millisecond
	DefaultWorkerCount     = 2
	DefaultMaxInflight     = 4
)

const (
	HTTPTimeout     = 30 * time.Second
	JobTimeout      = 10 * time.Minute
	ShutdownTimeout = 5 * time.Second
)

// Paging gives up after this many consecutive pages that fail to advance
// the cursor.
const MaxStalledPages = 3

const (
	MaxConnsPerHost     = 100
	MaxIdleConnDuration = 1 * time.Minute
)
