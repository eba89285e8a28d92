package queue

import (
	"time"
	"unicode/utf8"
)

const (
	DefaultBatchSize   = 10
	DefaultBaseDelay   = 60 * time.Second
	DefaultErrorLimit  = 500
	maxBackoffExponent = 20
)

// RetryDelay is the backoff before the next attempt of an item that has
// already been retried retryCount times: base * 2^retryCount.
// The exponent is capped so the duration cannot overflow.
func RetryDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffExponent {
		retryCount = maxBackoffExponent
	}
	return base * time.Duration(1<<uint(retryCount))
}

// Truncate cuts msg to at most limit characters.
func Truncate(msg string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:limit])
}
