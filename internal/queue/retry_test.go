package queue

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{-1, time.Minute},
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{5, 32 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryDelay(DefaultBaseDelay, tt.retries), "retries=%d", tt.retries)
	}
}

func TestRetryDelay_MonotonicAndCapped(t *testing.T) {
	t.Parallel()

	prev := time.Duration(0)
	for n := 0; n <= 40; n++ {
		d := RetryDelay(DefaultBaseDelay, n)
		assert.Greater(t, d, time.Duration(0))
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
	assert.Equal(t, RetryDelay(DefaultBaseDelay, maxBackoffExponent), RetryDelay(DefaultBaseDelay, 1000))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", Truncate("short", 500))
	assert.Len(t, Truncate(strings.Repeat("a", 501), 500), 500)
	assert.Equal(t, "unchanged", Truncate("unchanged", 0))

	multi := strings.Repeat("é", 600)
	got := Truncate(multi, 500)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 500, utf8.RuneCountInString(got))
}
