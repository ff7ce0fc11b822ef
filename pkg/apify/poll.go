package apify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 5 * time.Minute
)

// ErrRunUnsuccessful is returned when a run ends in any terminal status
// other than SUCCEEDED.
var ErrRunUnsuccessful = eris.New("apify: run did not succeed")

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) { c.initial = d }
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) { c.cap = d }
}

// WithPollTimeout overrides the default timeout, applied only when the
// parent context has no deadline.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) { c.timeout = d }
}

// PollRun polls GetRun until the run reaches a terminal status or ctx
// expires. The interval doubles from 2s up to a 15s cap.
func PollRun(ctx context.Context, client Client, runID string, opts ...PollOption) (*Run, error) {
	cfg := pollConfig{initial: defaultPollInitial, cap: defaultPollCap, timeout: defaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok && cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	for {
		run, err := client.GetRun(ctx, runID)
		if err != nil {
			return nil, eris.Wrapf(err, "apify: poll run %s", runID)
		}
		if run.Terminal() {
			if run.Status != StatusSucceeded {
				return run, eris.Wrapf(ErrRunUnsuccessful, "apify: run %s ended %s", runID, run.Status)
			}
			return run, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrapf(ctx.Err(), "apify: poll run %s timed out", runID)
		case <-timer.C:
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}

// RunAndCollect starts actorID, waits for it to succeed, and returns its
// dataset items.
func RunAndCollect(ctx context.Context, client Client, actorID string, input any, opts ...PollOption) ([]map[string]any, error) {
	run, err := client.StartRun(ctx, actorID, input)
	if err != nil {
		return nil, err
	}
	if !run.Terminal() {
		if run, err = PollRun(ctx, client, run.ID, opts...); err != nil {
			return nil, err
		}
	} else if run.Status != StatusSucceeded {
		return nil, eris.Wrapf(ErrRunUnsuccessful, "apify: run %s ended %s", run.ID, run.Status)
	}
	return client.DatasetItems(ctx, run.DefaultDatasetID)
}
