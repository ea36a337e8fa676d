// Package executor carries out bus commands against a container runtime.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bdobrica/relay/common/spec/command"
	"github.com/bdobrica/relay/common/trace"
	"github.com/bdobrica/relay/internal/agent/docker"
	"github.com/bdobrica/relay/internal/relay/metrics"
)

var (
	// ErrUnsupported is returned for kinds the runtime cannot perform.
	ErrUnsupported = errors.New("executor: unsupported action")
	// ErrBadParameters is returned when a command's parameters are unusable.
	ErrBadParameters = errors.New("executor: bad parameters")
)

const (
	// DefaultMaxTimeout caps start_with_timeout.
	DefaultMaxTimeout = 24 * time.Hour

	scheduledStopTimeout = 30 * time.Second
)

// Runtime is the container surface the executor drives.
type Runtime interface {
	Services(ctx context.Context) ([]string, error)
	Status(ctx context.Context, service string) (docker.Status, error)
	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
	Restart(ctx context.Context, service string) error
}

// Result is the outcome for one service.
type Result struct {
	Service string
	Status  docker.Status // set for status commands
	Err     error
}

type timer interface {
	Stop() bool
}

// Executor runs commands. Scheduled stops from start_with_timeout run in the
// background until Close.
type Executor struct {
	rt         Runtime
	maxTimeout time.Duration
	afterFunc  func(time.Duration, func()) timer

	mu      sync.Mutex
	pending map[string]timer
	closed  bool
	wg      sync.WaitGroup
}

// New returns an Executor. maxTimeout <= 0 means DefaultMaxTimeout.
func New(rt Runtime, maxTimeout time.Duration) *Executor {
	if maxTimeout <= 0 {
		maxTimeout = DefaultMaxTimeout
	}
	return &Executor{
		rt:         rt,
		maxTimeout: maxTimeout,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		pending: make(map[string]timer),
	}
}

// Handle executes cmd and logs the per-service outcome. It has the shape of
// a bus handler.
func (e *Executor) Handle(ctx context.Context, cmd *command.Command) {
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithTraceID(ctx, cmd.RequestID)
	}
	log := trace.Logger(ctx).With("kind", cmd.Kind, "request_id", cmd.RequestID)

	results, err := e.Execute(ctx, *cmd)
	if err != nil {
		metrics.AgentCommandsTotal.WithLabelValues(string(cmd.Kind), "rejected").Inc()
		log.Warn("executor: command rejected", "err", err)
		return
	}

	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			log.Error("executor: service failed", "service", r.Service, "err", r.Err)
		case cmd.Kind == command.KindStatus:
			log.Info("executor: status", "service", r.Service,
				"state", r.Status.State, "started_at", r.Status.StartedAt, "exit_code", r.Status.ExitCode)
		default:
			log.Info("executor: done", "service", r.Service)
		}
	}
	result := "ok"
	if failed > 0 {
		result = "failed"
	}
	metrics.AgentCommandsTotal.WithLabelValues(string(cmd.Kind), result).Inc()
}

// Execute performs cmd on every named service, or on every managed service
// when none are named. The returned error covers the command as a whole;
// per-service failures are reported in the results.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) ([]Result, error) {
	var op func(context.Context, string) Result

	switch cmd.Kind {
	case command.KindStatus:
		op = func(ctx context.Context, svc string) Result {
			st, err := e.rt.Status(ctx, svc)
			return Result{Service: svc, Status: st, Err: err}
		}
	case command.KindStart:
		op = e.simple(e.rt.Start)
	case command.KindStop:
		op = e.simple(func(ctx context.Context, svc string) error {
			e.cancelScheduled(svc)
			return e.rt.Stop(ctx, svc)
		})
	case command.KindRestart:
		op = e.simple(e.rt.Restart)
	case command.KindStartWithTimeout:
		d, err := e.timeoutParam(cmd.Parameters)
		if err != nil {
			return nil, err
		}
		op = e.simple(func(ctx context.Context, svc string) error {
			if err := e.rt.Start(ctx, svc); err != nil {
				return err
			}
			e.scheduleStop(svc, d)
			return nil
		})
	case command.KindConfigure:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cmd.Kind)
	default:
		return nil, fmt.Errorf("%w: %q", command.ErrUnknownKind, cmd.Kind)
	}

	services := cmd.Services
	if len(services) == 0 {
		all, err := e.rt.Services(ctx)
		if err != nil {
			return nil, fmt.Errorf("executor: list services: %w", err)
		}
		services = all
	}

	results := make([]Result, 0, len(services))
	for _, svc := range services {
		results = append(results, op(ctx, svc))
	}
	return results, nil
}

func (e *Executor) simple(f func(context.Context, string) error) func(context.Context, string) Result {
	return func(ctx context.Context, svc string) Result {
		return Result{Service: svc, Err: f(ctx, svc)}
	}
}

// timeoutParam reads parameters.timeout in seconds. JSON numbers, integers
// and numeric strings are accepted.
func (e *Executor) timeoutParam(params map[string]any) (time.Duration, error) {
	raw, ok := params["timeout"]
	if !ok {
		return 0, fmt.Errorf("%w: timeout is required", ErrBadParameters)
	}
	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: timeout %q: %v", ErrBadParameters, v, err)
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: timeout %q: %v", ErrBadParameters, v, err)
		}
		secs = f
	default:
		return 0, fmt.Errorf("%w: timeout has type %T", ErrBadParameters, raw)
	}
	d := time.Duration(secs * float64(time.Second))
	if d <= 0 {
		return 0, fmt.Errorf("%w: timeout must be positive", ErrBadParameters)
	}
	if d > e.maxTimeout {
		return 0, fmt.Errorf("%w: timeout exceeds %s", ErrBadParameters, e.maxTimeout)
	}
	return d, nil
}

// scheduleStop stops svc after d. A later schedule for the same service
// replaces the earlier one.
func (e *Executor) scheduleStop(svc string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if prev, ok := e.pending[svc]; ok && prev.Stop() {
		e.wg.Done()
	}

	var t timer
	e.wg.Add(1)
	t = e.afterFunc(d, func() {
		defer e.wg.Done()
		e.mu.Lock()
		if e.pending[svc] == t {
			delete(e.pending, svc)
		}
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), scheduledStopTimeout)
		defer cancel()
		if err := e.rt.Stop(ctx, svc); err != nil {
			slog.Error("executor: scheduled stop failed", "service", svc, "err", err)
			return
		}
		slog.Info("executor: scheduled stop done", "service", svc, "after", d)
	})
	e.pending[svc] = t
}

func (e *Executor) cancelScheduled(svc string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.pending[svc]; ok {
		if t.Stop() {
			e.wg.Done()
		}
		delete(e.pending, svc)
	}
}

// Pending returns the number of scheduled stops.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close cancels scheduled stops that have not fired and waits for any that
// are running. The containers they would have stopped keep running.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	for svc, t := range e.pending {
		if t.Stop() {
			e.wg.Done()
		}
		delete(e.pending, svc)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
