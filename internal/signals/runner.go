package signals

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"
)

// Runner fans collectors out in parallel under one processing budget.
//
// Run always returns exactly one Signal per registered collector. Collectors
// still running when the budget expires are recorded as timed out and their
// late results are discarded.
type Runner struct {
	registrations []Registration
	weights       Weights
	budget        time.Duration
	logger        *slog.Logger
	observer      Observer
}

// Observer is notified exactly once per signal Run returns (metrics).
type Observer interface {
	ObserveSignal(name string, status string, seconds float64)
}

type RunnerOption func(*Runner)

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// NewRunner validates that every collector timeout fits in the budget.
func NewRunner(budget time.Duration, weights Weights, regs []Registration, opts ...RunnerOption) (*Runner, error) {
	if budget <= 0 {
		return nil, errors.New("processing budget must be positive")
	}
	seen := make(map[Name]bool, len(regs))
	for _, reg := range regs {
		if reg.Collector == nil {
			return nil, errors.New("nil collector registration")
		}
		name := reg.Collector.Name()
		if seen[name] {
			return nil, fmt.Errorf("duplicate collector %s", name)
		}
		seen[name] = true
		if reg.Timeout <= 0 || reg.Timeout > budget {
			return nil, fmt.Errorf("collector %s timeout %s must be in (0, %s]", name, reg.Timeout, budget)
		}
	}
	r := &Runner{
		registrations: regs,
		weights:       weights,
		budget:        budget,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Budget is the overall deadline applied to one Run.
func (r *Runner) Budget() time.Duration { return r.budget }

type result struct {
	index  int
	signal Signal
}

// Run executes all collectors and returns their signals in registration order.
func (r *Runner) Run(ctx context.Context, in Input) []Signal {
	ctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	results := make(chan result, len(r.registrations))
	for i, reg := range r.registrations {
		go func() {
			results <- result{index: i, signal: r.collect(ctx, reg, in)}
		}()
	}

	out := make([]Signal, len(r.registrations))
	done := make([]bool, len(r.registrations))
	for pending := len(r.registrations); pending > 0; pending-- {
		select {
		case res := <-results:
			out[res.index] = r.finish(ctx, res.signal, in)
			done[res.index] = true
		case <-ctx.Done():
			for i, reg := range r.registrations {
				if !done[i] {
					out[i] = r.finish(ctx, Signal{
						Name:     reg.Collector.Name(),
						Status:   StatusTimedOut,
						Weight:   r.weights[reg.Collector.Name()],
						Detail:   "processing budget exhausted",
						Duration: r.budget,
					}, in)
				}
			}
			return out
		}
	}
	return out
}

// collect runs one collector under its own timeout and never blocks past it.
// Run records the signal; a result arriving after the budget is dropped
// unrecorded.
func (r *Runner) collect(parent context.Context, reg Registration, in Input) Signal {
	name := reg.Collector.Name()
	ctx, cancel := context.WithTimeout(parent, reg.Timeout)
	defer cancel()

	type outcome struct {
		reading Reading
		err     error
	}
	start := time.Now()
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("collector panic: %v", p)}
			}
		}()
		reading, err := reg.Collector.Collect(ctx, in)
		ch <- outcome{reading: reading, err: err}
	}()

	sig := Signal{Name: name, Weight: r.weights[name]}
	select {
	case o := <-ch:
		sig.Duration = time.Since(start)
		switch {
		case o.err == nil:
			sig.Status = StatusOK
			sig.Score = clampScore(o.reading.Score)
			sig.RiskTier = o.reading.RiskTier
			sig.Detail = o.reading.Detail
		case errors.Is(o.err, context.DeadlineExceeded):
			sig.Status = StatusTimedOut
			sig.Detail = o.err.Error()
		default:
			sig.Status = StatusError
			sig.Detail = o.err.Error()
		}
	case <-ctx.Done():
		sig.Duration = time.Since(start)
		sig.Status = StatusTimedOut
		sig.Detail = fmt.Sprintf("no result within %s", reg.Timeout)
	}
	return sig
}

func (r *Runner) finish(ctx context.Context, sig Signal, in Input) Signal {
	if r.observer != nil {
		r.observer.ObserveSignal(string(sig.Name), string(sig.Status), sig.Duration.Seconds())
	}
	if sig.Status != StatusOK {
		r.logger.WarnContext(ctx, "signal not ok",
			"claim_id", in.ClaimID.String(),
			"signal", sig.Name,
			"status", sig.Status,
			"detail", sig.Detail,
		)
	}
	return sig
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
