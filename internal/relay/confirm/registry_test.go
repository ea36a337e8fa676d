package confirm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bdobrica/relay/common/spec/command"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRegistry(ttl time.Duration) (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(ttl)
	r.SetClock(clock.Now)
	return r, clock
}

func TestTake_Once(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)
	r.Put("X", PendingAction{Kind: command.KindRestart, Services: []string{"api"}})

	p, ok := r.Take("X")
	if !ok {
		t.Fatal("expected entry")
	}
	if p.ActionID != "X" || p.Kind != command.KindRestart {
		t.Errorf("unexpected entry %#v", p)
	}
	if _, ok := r.Take("X"); ok {
		t.Error("second Take must report not found")
	}
	if _, ok := r.Take("never"); ok {
		t.Error("Take of unknown id must report not found")
	}
}

func TestPut_LastWriteWins(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)
	r.Put("X", PendingAction{Kind: command.KindStart})
	r.Put("X", PendingAction{Kind: command.KindStop})

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	p, _ := r.Take("X")
	if p.Kind != command.KindStop {
		t.Errorf("kind = %q, want stop", p.Kind)
	}
}

func TestPut_CopiesCollections(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)
	services := []string{"api"}
	params := map[string]any{"timeout": 5}
	r.Put("X", PendingAction{Kind: command.KindStart, Services: services, Parameters: params})

	services[0] = "mutated"
	params["timeout"] = 99

	p, _ := r.Take("X")
	if p.Services[0] != "api" {
		t.Errorf("services mutated through caller slice: %v", p.Services)
	}
	if p.Parameters["timeout"] != 5 {
		t.Errorf("parameters mutated through caller map: %v", p.Parameters)
	}
}

func TestTake_Expired(t *testing.T) {
	r, clock := newTestRegistry(time.Minute)
	r.Put("X", PendingAction{Kind: command.KindStart})

	clock.Advance(time.Minute)
	if _, ok := r.Take("X"); ok {
		t.Error("expired entry must not resolve")
	}
	if r.Len() != 0 {
		t.Errorf("expired entry should be removed on Take, Len = %d", r.Len())
	}
}

func TestSweep(t *testing.T) {
	r, clock := newTestRegistry(10 * time.Minute)
	r.Put("old", PendingAction{Kind: command.KindStart})
	clock.Advance(6 * time.Minute)
	r.Put("new", PendingAction{Kind: command.KindStop})
	clock.Advance(5 * time.Minute)

	if n := r.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if _, ok := r.Take("new"); !ok {
		t.Error("unexpired entry was swept")
	}
}

func TestNegativeTTLNeverExpires(t *testing.T) {
	r, clock := newTestRegistry(-1)
	p := r.Put("X", PendingAction{Kind: command.KindStart})
	if !p.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", p.ExpiresAt)
	}
	clock.Advance(1000 * time.Hour)
	if r.Sweep() != 0 {
		t.Error("nothing should expire")
	}
	if _, ok := r.Take("X"); !ok {
		t.Error("entry should still resolve")
	}
}

func TestNewRegistry_DefaultTTL(t *testing.T) {
	if got := NewRegistry(0).TTL(); got != DefaultTTL {
		t.Errorf("TTL = %v, want %v", got, DefaultTTL)
	}
}

func TestTake_ConcurrentSingleWinner(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Put("X", PendingAction{Kind: command.KindRestart})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Take("X"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("%d goroutines took the same entry, want 1", wins.Load())
	}
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewRegistry(time.Millisecond)
	r.Put("X", PendingAction{Kind: command.KindStart})

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunSweeper(ctx, time.Millisecond, func(n int) {
			select {
			case swept <- n:
			default:
			}
		})
	}()

	deadline := time.After(2 * time.Second)
	for r.Len() != 0 {
		select {
		case <-swept:
		case <-deadline:
			t.Fatal("sweeper never removed the expired entry")
		}
	}

	cancel()
	<-done
}
