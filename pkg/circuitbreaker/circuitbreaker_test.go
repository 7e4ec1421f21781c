package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"alarmd/pkg/clock"
)

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(Config{FailureThreshold: 3, OpenTimeout: time.Minute}, c)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatal("success should reset the failure streak")
	}

	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitBreakerOpen) || called {
		t.Fatalf("open breaker let the call through: %v", err)
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var transitions []string
	cb := NewCircuitBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 30 * time.Second}, c).
		OnStateChange(func(from, to State) { transitions = append(transitions, from.String()+"->"+to.String()) })

	_ = cb.Execute(fail)
	c.Advance(29 * time.Second)
	if cb.State() != StateOpen {
		t.Fatal("opened too early")
	}
	c.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s", cb.State())
	}

	// 半开时失败重新打开
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatal("half-open failure should reopen")
	}

	c.Advance(30 * time.Second)
	if err := cb.Execute(succeed); err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s", cb.State())
	}

	want := []string{"closed->open", "open->half_open", "half_open->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}
