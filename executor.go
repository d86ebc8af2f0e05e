package hpo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

//////
// Const, vars, types.
//////

// DefaultCostPattern matches the `cost=<float>` line trial executables print.
var DefaultCostPattern = regexp.MustCompile(`(?m)^\s*cost\s*[=:]\s*(\S+)\s*$`)

// maxReasonBytes bounds the output tail kept in a failure reason.
const maxReasonBytes = 512

// Outcome is the result of one evaluation.
type Outcome struct {
	Status   TrialStatus
	Cost     float64
	Reason   string
	Duration time.Duration
}

// Err returns nil for a successful outcome, otherwise an error wrapping
// ErrTrialFailed or ErrTrialTimedOut.
func (o Outcome) Err() error {
	switch o.Status {
	case TrialSucceeded:
		return nil
	case TrialTimedOut:
		return fmt.Errorf("%w: %s", ErrTrialTimedOut, o.Reason)
	default:
		return fmt.Errorf("%w: %s", ErrTrialFailed, o.Reason)
	}
}

// Executor evaluates a configuration against the objective.
//
// Evaluate must not panic and must return within roughly timeout (zero means
// no deadline): failures and timeouts are reported through the Outcome, not
// as errors, so that the optimization loop records them and continues.
type Executor interface {
	Evaluate(ctx context.Context, cfg Configuration, seed int64, timeout time.Duration) Outcome
}

// ObjectiveFunc adapts an in-process cost function to Executor. The context
// it receives is cancelled when the timeout elapses; functions that ignore
// it are abandoned and reported as timed out.
//
// Usage example:
//
//	exec := ObjectiveFunc(func(ctx context.Context, cfg Configuration, seed int64) (float64, error) {
//	    c := cfg["c"].(float64)
//	    return (c - 1) * (c - 1), nil
//	})
type ObjectiveFunc func(ctx context.Context, cfg Configuration, seed int64) (float64, error)

// Evaluate implements Executor.
func (f ObjectiveFunc) Evaluate(ctx context.Context, cfg Configuration, seed int64, timeout time.Duration) Outcome {
	runCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		cost float64
		err  error
	}

	done := make(chan result, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()

		cost, err := f(runCtx, cfg.Clone(), seed)
		done <- result{cost: cost, err: err}
	}()

	select {
	case r := <-done:
		elapsed := time.Since(start)

		if r.err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return Outcome{Status: TrialTimedOut, Reason: fmt.Sprintf("exceeded %s", timeout), Duration: elapsed}
			}

			return Outcome{Status: TrialFailed, Reason: r.err.Error(), Duration: elapsed}
		}

		return costOutcome(r.cost, elapsed)
	case <-runCtx.Done():
		elapsed := time.Since(start)

		if ctx.Err() != nil {
			return Outcome{Status: TrialFailed, Reason: ctx.Err().Error(), Duration: elapsed}
		}

		return Outcome{Status: TrialTimedOut, Reason: fmt.Sprintf("exceeded %s", timeout), Duration: elapsed}
	}
}

// CommandExecutor runs the trial executable as a subprocess.
//
// The configuration is passed as flags, `--seed <seed> --<name> <value>...`
// in sorted name order, after Args. The cost is parsed from stdout with
// CostPattern (the last match wins); when nothing matches, a last line that
// is a bare number is accepted.
//
// Usage example:
//
//	exec := NewCommandExecutor("./target/release/hyper")
//	outcome := exec.Evaluate(ctx, cfg, 42, time.Minute)
type CommandExecutor struct {
	// Path is the executable.
	Path string

	// Args are passed before the configuration flags.
	Args []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Env, when non-nil, replaces the inherited environment.
	Env []string

	// FlagPrefix precedes every flag name. Default "--".
	FlagPrefix string

	// SeedFlag names the seed flag. Empty disables it.
	SeedFlag string

	// CostPattern extracts the cost; its first group is parsed as a float.
	CostPattern *regexp.Regexp

	// WaitDelay bounds how long to wait for output pipes after the process
	// is killed.
	WaitDelay time.Duration
}

//////
// Factory.
//////

// NewCommandExecutor returns an executor for path with default flag format.
func NewCommandExecutor(path string, args ...string) *CommandExecutor {
	return &CommandExecutor{
		Path:        path,
		Args:        args,
		FlagPrefix:  "--",
		SeedFlag:    "seed",
		CostPattern: DefaultCostPattern,
		WaitDelay:   2 * time.Second,
	}
}

//////
// Methods.
//////

// Arguments builds the command line for a configuration.
func (e *CommandExecutor) Arguments(cfg Configuration, seed int64) []string {
	args := append([]string(nil), e.Args...)

	if e.SeedFlag != "" {
		args = append(args, e.FlagPrefix+e.SeedFlag, strconv.FormatInt(seed, 10))
	}

	for _, k := range cfg.Keys() {
		args = append(args, e.FlagPrefix+k, FormatValue(cfg[k]))
	}

	return args
}

// Evaluate implements Executor. A timed-out subprocess is killed.
func (e *CommandExecutor) Evaluate(ctx context.Context, cfg Configuration, seed int64, timeout time.Duration) Outcome {
	runCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.Path, e.Arguments(cfg, seed)...)
	cmd.Dir = e.Dir
	cmd.WaitDelay = e.WaitDelay

	if e.Env != nil {
		cmd.Env = e.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return Outcome{Status: TrialTimedOut, Reason: fmt.Sprintf("killed after %s", timeout), Duration: elapsed}
	}

	if ctx.Err() != nil {
		return Outcome{Status: TrialFailed, Reason: ctx.Err().Error(), Duration: elapsed}
	}

	if err != nil {
		return Outcome{Status: TrialFailed, Reason: fmt.Sprintf("%v: %s", err, tail(stderr.Bytes())), Duration: elapsed}
	}

	pattern := e.CostPattern
	if pattern == nil {
		pattern = DefaultCostPattern
	}

	cost, err := ParseCost(stdout.Bytes(), pattern)
	if err != nil {
		return Outcome{Status: TrialFailed, Reason: err.Error(), Duration: elapsed}
	}

	return costOutcome(cost, elapsed)
}

// ParseCost extracts the last cost reported in output.
func ParseCost(output []byte, pattern *regexp.Regexp) (float64, error) {
	if matches := pattern.FindAllSubmatch(output, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		if len(last) < 2 {
			return 0, errors.New("cost pattern has no capture group")
		}

		cost, err := strconv.ParseFloat(string(last[1]), 64)
		if err != nil {
			return 0, fmt.Errorf("unparsable cost %q", last[1])
		}

		return cost, nil
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		if cost, err := strconv.ParseFloat(last, 64); err == nil {
			return cost, nil
		}
	}

	return 0, fmt.Errorf("no cost in output: %s", tail(output))
}

func costOutcome(cost float64, elapsed time.Duration) Outcome {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return Outcome{Status: TrialFailed, Reason: fmt.Sprintf("non-finite cost %v", cost), Duration: elapsed}
	}

	return Outcome{Status: TrialSucceeded, Cost: cost, Duration: elapsed}
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

// tail returns the last maxReasonBytes of b, trimmed.
func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxReasonBytes {
		b = b[len(b)-maxReasonBytes:]
	}

	return string(b)
}
