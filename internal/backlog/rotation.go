package backlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/slamon/internal/event"
)

// Default rotation configuration constants.
const (
	DefaultMaxFileBytes  = 8 * 1024 * 1024
	DefaultRetentionDays = 7
)

// RotationPolicy controls when a new backlog segment starts and how long
// fully-synced segments are kept. A segment rotates at the UTC day boundary
// or when it would exceed MaxFileBytes, whichever comes first.
type RotationPolicy struct {
	MaxFileBytes  int64
	RetentionDays int
}

func (p RotationPolicy) withDefaults() RotationPolicy {
	if p.MaxFileBytes <= 0 {
		p.MaxFileBytes = DefaultMaxFileBytes
	}
	if p.RetentionDays <= 0 {
		p.RetentionDays = DefaultRetentionDays
	}
	return p
}

// Sweep removes backlog segments older than the retention window whose
// records have all been synced. Segments that still hold unsynced records
// are never removed, regardless of age. Returns the number of files removed.
func (s *Store) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.segmentNames()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().AddDate(0, 0, -s.policy.RetentionDays).Format(dayLayout)

	removed := 0
	for _, name := range names {
		day, _, ok := parseSegmentName(name)
		if !ok || day >= cutoff || name == s.curName {
			continue
		}
		path := filepath.Join(s.dir, name)
		allSynced, err := s.segmentFullySyncedLocked(path)
		if err != nil {
			return removed, err
		}
		if !allSynced {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		s.logger.Info("removed expired backlog segment", "file", name)
		removed++
	}
	return removed, nil
}

// SweepLoop runs Sweep once per interval until stop is closed.
func (s *Store) SweepLoop(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if _, err := s.Sweep(); err != nil {
				s.logger.Error("backlog retention sweep failed", "error", err)
			}
		}
	}
}

func (s *Store) segmentFullySyncedLocked(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec event.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if _, ok := s.synced[rec.ID]; !ok {
			return false, nil
		}
	}
	return sc.Err() == nil, sc.Err()
}
