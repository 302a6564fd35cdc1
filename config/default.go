package config

// DefaultValues is the built-in configuration every run starts from. The
// user's config file and BRIDGEWATCH_* environment variables override it.
// Networks and Bridges have no defaults, they come from the directory in the
// user's config file.
const DefaultValues = `
[Log]
Environment = "development"
Level = "info"
Outputs = ["stderr"]

[Discovery]
WindowHours = 72
InterBridgeDelay = "1s"
InterChunkDelay = "1s"
MaxRetryAttemptsAfterError = 5
RetryAfterErrorPeriod = "300ms"

[Cache]
DBPath = "/tmp/bridgewatch_cache.sqlite"
TTL = "24h"

[Reconcile]
SkipMissingRecipient = false
SignedRepatriationReward = false
`
