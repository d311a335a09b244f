//go:build linux

package nbpoll

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sys/unix"
)

func newReactor(t *testing.T, cfg Config) *Reactor {
	t.Helper()
	if cfg.Logger == nil {
		logger, _ := test.NewNullLogger()
		cfg.Logger = logger
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newSocketPair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func send(t *testing.T, fd int) {
	t.Helper()
	if _, err := unix.Write(fd, []byte("ping")); err != nil {
		t.Fatal(err)
	}
}

// runFor runs r until Stop, or for at most d seconds.
func runFor(t *testing.T, r *Reactor, d float64) {
	t.Helper()
	must(t, r.Schedule(d, func(any) { r.Stop() }, nil))
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestReactor_ScheduleOrder(t *testing.T) {
	r := newReactor(t, Config{})
	var got []any
	record := func(ctx any) { got = append(got, ctx) }
	must(t, r.Schedule(0.02, func(ctx any) {
		record(ctx)
		r.Stop()
	}, "late"))
	must(t, r.Schedule(0, record, "zero"))
	must(t, r.Schedule(0, record, 42))
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{"zero", 42, "late"}, got); diff != "" {
		t.Fatalf("call order (-want +got):\n%s", diff)
	}
	if v := testutil.ToFloat64(r.metrics.DeferredCalls); v != 3 {
		t.Fatalf("deferred calls %v, want 3", v)
	}
}

func TestReactor_ScheduleNoEarlier(t *testing.T) {
	r := newReactor(t, Config{})
	start := time.Now()
	var fired time.Duration
	must(t, r.Schedule(0.05, func(any) {
		fired = time.Since(start)
		r.Stop()
	}, nil))
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if fired < 45*time.Millisecond {
		t.Fatalf("fired after %v", fired)
	}
}

func TestReactor_ScheduleErrors(t *testing.T) {
	r := newReactor(t, Config{MaxTimers: 2})
	noop := func(any) {}
	for _, tc := range []struct {
		name  string
		delta float64
		fn    func(any)
	}{
		{name: "nil callback", delta: 1, fn: nil},
		{name: "negative delta", delta: -1, fn: noop},
		{name: "nan delta", delta: math.NaN(), fn: noop},
	} {
		if err := r.Schedule(tc.delta, tc.fn, nil); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: got %v, want %v", tc.name, err, ErrInvalidArgument)
		}
	}
	// the watchdog holds the first slot
	must(t, r.Schedule(1, noop, nil))
	if err := r.Schedule(1, noop, nil); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("got %v, want %v", err, ErrResourceExhausted)
	}
}

func TestReactor_StopIdempotent(t *testing.T) {
	r := newReactor(t, Config{})
	r.Stop()
	must(t, r.Schedule(0, func(any) {
		r.Stop()
		r.Stop()
	}, nil))
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	// and the loop can be started again
	runFor(t, r, 0.01)
}

func TestReactor_RunWhileRunning(t *testing.T) {
	r := newReactor(t, Config{})
	var nested error
	must(t, r.Schedule(0, func(any) {
		nested = r.Run()
		r.Stop()
	}, nil))
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(nested, ErrRunning) {
		t.Fatalf("got %v, want %v", nested, ErrRunning)
	}
}

func TestReactor_Close(t *testing.T) {
	r := newReactor(t, Config{})
	a, _ := newSocketPair(t)
	closes, fired := 0, 0
	p := NewPollable(r, HandlerFuncs{OnClose: func(*Pollable) { closes++ }}, nil)
	must(t, p.Attach(a))
	must(t, p.SetReadable())
	must(t, r.Schedule(0, func(any) { fired++ }, nil))

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if closes != 0 || fired != 0 {
		t.Fatalf("closes %d, fired %d after reactor close", closes, fired)
	}
	if p.Fileno() != -1 || r.Len() != 0 {
		t.Fatalf("fileno %d, len %d after reactor close", p.Fileno(), r.Len())
	}
	if err := r.Run(); !errors.Is(err, ErrClosed) {
		t.Fatalf("run: got %v, want %v", err, ErrClosed)
	}
	if err := r.Schedule(0, func(any) {}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("schedule: got %v, want %v", err, ErrClosed)
	}
	if err := p.Attach(a); !errors.Is(err, ErrClosed) {
		t.Fatalf("attach: got %v, want %v", err, ErrClosed)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestReactor_Metrics(t *testing.T) {
	r := newReactor(t, Config{})
	if n := len(r.Metrics()); n != 4 {
		t.Fatalf("got %d collectors, want 4", n)
	}
	a, _ := newSocketPair(t)
	p := NewPollable(r, nil, nil)
	must(t, p.Attach(a))
	if v := testutil.ToFloat64(r.metrics.Attached); v != 1 {
		t.Fatalf("attached %v, want 1", v)
	}
	must(t, p.Detach())
	if v := testutil.ToFloat64(r.metrics.Attached); v != 0 {
		t.Fatalf("attached %v, want 0", v)
	}
}
