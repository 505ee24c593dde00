// Package hostdriver is a typed surface over the host's simulator
// command-line tools (spec.md §4.3). Every operation treats the external
// command as fallible and wraps stdout, stderr, exit code and duration;
// nothing above this package ever shells out directly.
package hostdriver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

const (
	defaultActionTimeout   = 10 * time.Second
	defaultCreationTimeout = 120 * time.Second
	busyWaitTimeout        = 2 * time.Second
	maxRetries              = 3
)

// Driver wraps the simulator control CLI ("xcrun simctl" on a real macOS
// host; any CLI with an equivalent contract can be substituted by changing
// Binary). Control operations against a single device are serialized
// through a per-UDID mutex so that a device never sees two concurrent
// automation calls (spec.md §5 ordering guarantees).
type Driver struct {
	Binary string // defaults to "xcrun"; first arg is always "simctl"
	log    *logrus.Entry

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a Driver. binary overrides the CLI entry point, used by tests
// to point at a fake.
func New(binary string, log *logrus.Entry) *Driver {
	if binary == "" {
		binary = "xcrun"
	}
	return &Driver{
		Binary: binary,
		log:    log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Available checks that the configured CLI entry point resolves on PATH,
// letting the server fail fast at startup instead of on the first control
// call (spec.md §6 exit code 4).
func (d *Driver) Available() error {
	if _, err := exec.LookPath(d.Binary); err != nil {
		return apperr.Wrap(apperr.KindHostDriver, "host driver binary not found: "+d.Binary, err)
	}
	return nil
}

func (d *Driver) deviceLock(udid string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[udid]
	if !ok {
		l = &sync.Mutex{}
		d.locks[udid] = l
	}
	return l
}

// withDeviceLock runs fn while holding udid's mutex, failing fast with
// KindBusy if it cannot be acquired within busyWaitTimeout — control
// messages never queue (spec.md §5 back-pressure policy).
func (d *Driver) withDeviceLock(ctx context.Context, udid string, fn func(ctx context.Context) error) error {
	l := d.deviceLock(udid)
	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		defer l.Unlock()
		return fn(ctx)
	case <-time.After(busyWaitTimeout):
		go func() { <-acquired; l.Unlock() }()
		return apperr.New(apperr.KindBusy, fmt.Sprintf("device %s busy", udid))
	case <-ctx.Done():
		go func() { <-acquired; l.Unlock() }()
		return apperr.Wrap(apperr.KindTimeout, "context cancelled waiting for device lock", ctx.Err())
	}
}

// result captures the outcome of one child process invocation.
type result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// run executes the simctl CLI with args bounded by timeout. Exit codes
// considered transient and per-attempt timeouts are retried up to
// maxRetries times with exponential backoff inside this function (spec.md
// §7 propagation policy). A timeout that persists surfaces as KindTimeout;
// any other exit code surfaces immediately as KindHostDriver, as does a
// transient failure that outlasts the retries.
func (d *Driver) run(ctx context.Context, timeout time.Duration, args ...string) (result, error) {
	var res result
	op := func() error {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		cmd := exec.CommandContext(runCtx, d.Binary, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		res = result{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Duration: time.Since(start),
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		}

		if runCtx.Err() == context.DeadlineExceeded {
			return apperr.New(apperr.KindTimeout, fmt.Sprintf("%s %v timed out after %s", d.Binary, args, timeout))
		}
		if err != nil {
			if isTransient(res.ExitCode) {
				return fmt.Errorf("transient host driver failure: %w", err)
			}
			return backoff.Permanent(apperr.Wrap(apperr.KindHostDriver,
				fmt.Sprintf("%s %v failed (exit %d): %s", d.Binary, args, res.ExitCode, stderr.String()), err))
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		if d.log != nil {
			d.log.WithError(err).Warnf("retrying host driver call %v in %s", args, wait)
		}
	})
	if err != nil {
		var ae *apperr.Error
		if aerr, ok := err.(*apperr.Error); ok {
			ae = aerr
		} else {
			ae = apperr.Wrap(apperr.KindHostDriver, fmt.Sprintf("%s %v failed after retries", d.Binary, args), err)
		}
		return res, ae
	}
	return res, nil
}

// isTransient reports whether an exit code is known to be safe to retry.
// Exit code 2 on simctl commonly indicates a momentary device-state race
// (e.g. booting) rather than a permanent failure.
func isTransient(exitCode int) bool {
	return exitCode == 2
}
