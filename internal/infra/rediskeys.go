package infra

import "fmt"

const (
	// RedisNamespace prefixes every key so a shared Redis can host other tenants.
	RedisNamespace = "lynex"
)

// Stream and consumer-group names for the durable event queue.
const (
	RedisKeyEventStream  = RedisNamespace + ":events:stream"
	RedisGroupProcessors = RedisNamespace + ":events:processors"
)

// Pub/Sub channels (signals).
const (
	// RedisChanRulesUpdated is published by the rule management API after any
	// rule mutation; evaluators refresh their snapshot on receipt.
	RedisChanRulesUpdated = RedisNamespace + ":alerts:rules-updated"
)

// RateLimitKey is the fixed-window ingest counter for one project.
func RateLimitKey(projectID string, windowStart int64) string {
	return fmt.Sprintf("%s:rl:%s:%d", RedisNamespace, projectID, windowStart)
}

// AlertWindowKey holds the running aggregate for one rule in one tumbling bucket.
func AlertWindowKey(ruleID string, bucket int64) string {
	return fmt.Sprintf("%s:alerts:win:%s:%d", RedisNamespace, ruleID, bucket)
}

// AlertFiredKey is the once-per-bucket fire flag for one rule.
func AlertFiredKey(ruleID string, bucket int64) string {
	return fmt.Sprintf("%s:alerts:fired:%s:%d", RedisNamespace, ruleID, bucket)
}
