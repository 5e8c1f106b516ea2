package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loykin/slamon/pkg/client"
)

// command groups the CLI operations that talk to a running daemon.
type command struct{}

func apiClient(url string, timeout time.Duration) (*client.Client, time.Duration) {
	cfg := client.DefaultConfig()
	if url != "" {
		cfg.BaseURL = url
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return client.New(cfg), cfg.Timeout
}

// Record submits one measurement to the daemon.
func (command) Record(flags RecordFlags) error {
	if flags.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	c, timeout := apiClient(flags.APIUrl, flags.APITimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Record(ctx, client.RecordRequest{
		Channel:        flags.Channel,
		ElapsedSeconds: flags.Elapsed,
	}); err != nil {
		return err
	}
	fmt.Printf("recorded %.3fs on channel %q\n", flags.Elapsed, flags.Channel)
	return nil
}

// Status prints the daemon status.
func (command) Status(flags StatusFlags) error {
	c, timeout := apiClient(flags.APIUrl, flags.APITimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("breaker: %s (consecutive failures: %d)\n", st.BreakerState, st.Failures)
	fmt.Printf("backlog: %d unsynced record(s)\n", st.BacklogUnsynced)
	channels := make([]string, 0, len(st.Channels))
	for ch := range st.Channels {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		s := st.Channels[ch]
		fmt.Printf("%-10s count=%d mean=%.2fs min=%.2fs max=%.2fs violations=%d\n",
			ch, s.Count, s.Mean, s.Min, s.Max, s.Violations)
	}
	return nil
}

// Resync triggers a reconciliation cycle on the daemon.
func (command) Resync(flags ResyncFlags) error {
	c, timeout := apiClient(flags.APIUrl, flags.APITimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	synced, err := c.Resync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("resync complete: %d record(s) delivered\n", synced)
	return nil
}
