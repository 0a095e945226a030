package providers

import (
	"context"
	"fmt"
	"time"
)

// WaitForSplit polls a split job until it reaches a terminal status. The
// wait between polls starts at Interval and grows by half each round up to
// MaxInterval. It fails once Timeout has elapsed.
func WaitForSplit(ctx context.Context, s Splitter, jobID string, cfg PollConfig) (*SplitJob, error) {
	def := DefaultPollConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	deadline := time.Now().Add(cfg.Timeout)
	interval := cfg.Interval
	for {
		job, err := s.GetSplitJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}

		if time.Now().Add(interval).After(deadline) {
			return nil, fmt.Errorf("%s split job %s did not finish within %s (last status %q)", LlamaCloudName, jobID, cfg.Timeout, job.Status)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		interval = interval + interval/2
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}
}
