package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/wirectl/internal/testutil/testlog"
)

func TestBackoffDelayWithoutJitter(t *testing.T) {
	testlog.Start(t)
	b := BackoffConfig{InitialDelay: 250 * time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Second}
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 250 * time.Millisecond},
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{4, 2 * time.Second},
		{6, 5 * time.Second},
		{60, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.n, nil); got != tc.want {
			t.Fatalf("attempt %d: got=%v want=%v", tc.n, got, tc.want)
		}
	}

	b.Multiplier = 0.5
	if got := b.Delay(3, nil); got != 250*time.Millisecond {
		t.Fatalf("multiplier below one should hold the delay, got %v", got)
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config should not wait, got %v", got)
	}
}

func TestBackoffDelayJitterStaysBelowCap(t *testing.T) {
	testlog.Start(t)
	b := DefaultConfig().Backoff
	flat := b
	flat.Jitter = false
	rng := rand.New(rand.NewSource(7))
	for n := 1; n < 16; n++ {
		full := flat.Delay(n, nil)
		got := b.Delay(n, rng)
		if got < full/2 || got >= full || got > b.MaxDelay {
			t.Fatalf("attempt %d out of range: got=%v full=%v", n, got, full)
		}
	}
	if got := b.Delay(40, nil); got != b.MaxDelay*3/4 {
		t.Fatalf("nil rng should take the midpoint, got %v", got)
	}
}
