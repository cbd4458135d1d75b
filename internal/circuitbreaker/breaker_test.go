package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := New(threshold, cooldown)
	b.now = clk.Now
	return b, clk
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	if !b.Allow("get_miner_information") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.Failure("info")
	b.Failure("info")
	if !b.Allow("info") {
		t.Fatal("should still allow before threshold")
	}

	b.Failure("info")
	if b.Allow("info") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("info") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("info"))
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(2, time.Minute)

	b.Failure("info")
	b.Failure("info")
	clk.Advance(59 * time.Second)
	if b.Allow("info") {
		t.Fatal("should still be open before cooldown")
	}

	clk.Advance(time.Second)
	if !b.Allow("info") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("info") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("info"))
	}
	if b.Allow("info") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clk := newTestBreaker(2, time.Minute)

	b.Failure("info")
	b.Failure("info")
	clk.Advance(time.Minute)
	b.Allow("info")

	b.Success("info")
	if b.State("info") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("info"))
	}
	if !b.Allow("info") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2, time.Minute)

	b.Failure("info")
	b.Failure("info")
	clk.Advance(time.Minute)
	b.Allow("info")

	b.Failure("info")
	if b.State("info") != StateOpen {
		t.Fatalf("expected StateOpen after failed probe, got %v", b.State("info"))
	}
}

func TestBreaker_EndpointsIndependent(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	b.Failure("info")
	if b.Allow("info") {
		t.Fatal("info should be open")
	}
	if !b.Allow("statistics") {
		t.Fatal("statistics should be unaffected")
	}
}

func TestBreaker_Call(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	boom := errors.New("boom")
	ignored := errors.New("bad request")

	countOnlyBoom := func(err error) bool { return errors.Is(err, boom) }

	if err := b.Call("info", func() error { return ignored }, countOnlyBoom); !errors.Is(err, ignored) {
		t.Fatalf("expected ignored error passthrough, got %v", err)
	}
	if b.State("info") != StateClosed {
		t.Fatal("non-counted errors must not trip the breaker")
	}

	if err := b.Call("info", func() error { return boom }, countOnlyBoom); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	called := false
	err := b.Call("info", func() error { called = true; return nil }, countOnlyBoom)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := New(100, time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Allow("info")
			b.Failure("info")
			b.Success("info")
			_ = b.State("info")
		}()
	}
	wg.Wait()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
