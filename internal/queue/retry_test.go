package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
		{100, 30 * time.Second},
		{-1, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.retries), "retries=%d", tt.retries)
	}
}

func TestRetryPolicy_DelayNonDecreasing(t *testing.T) {
	p := RetryPolicy{BaseDelay: 250 * time.Millisecond, MaxDelay: time.Hour}

	prev := time.Duration(0)
	for n := 0; n < 80; n++ {
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, prev, "retries=%d", n)
		assert.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))

	forever := RetryPolicy{}
	assert.False(t, forever.Exhausted(1000))
}
