// Package backlog is the durable local fallback store for telemetry events
// that could not be delivered to the remote ingestion service. Records are
// appended one JSON object per line to day-partitioned files; synced records
// are tombstoned through an append-only sidecar index so that scans never
// re-send them. A single process owns the backlog directory at a time;
// multi-process access is not supported and no file lock is taken.
package backlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/slamon/internal/event"
)

const (
	filePrefix = "backlog-"
	fileSuffix = ".jsonl"
	indexName  = "synced.idx"

	dayLayout = "20060102"
)

// Store is the append-only backlog. All writes are serialized so concurrent
// appends never interleave partial lines; Append returns only after the
// record has been flushed to disk.
type Store struct {
	mu     sync.Mutex
	dir    string
	policy RotationPolicy
	logger *slog.Logger

	cur     *os.File
	curName string
	curSize int64
	curDay  string
	curSeq  int

	idx    *os.File
	synced map[string]struct{}

	now func() time.Time
}

// Open prepares the backlog directory, loads the synced index and resumes
// the newest file of the current day if one exists.
func Open(dir string, policy RotationPolicy, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("empty backlog directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backlog dir: %w", err)
	}
	s := &Store{
		dir:    dir,
		policy: policy.withDefaults(),
		logger: logger,
		synced: make(map[string]struct{}),
		now:    time.Now,
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	if err := s.resume(); err != nil {
		_ = s.idx.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the current file and the synced index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	if s.cur != nil {
		if err := s.cur.Sync(); err != nil && first == nil {
			first = err
		}
		if err := s.cur.Close(); err != nil && first == nil {
			first = err
		}
		s.cur = nil
	}
	if s.idx != nil {
		if err := s.idx.Close(); err != nil && first == nil {
			first = err
		}
		s.idx = nil
	}
	return first
}

// Append durably writes one record. The write is a single complete line and
// the file is fsynced before Append returns: a crash immediately afterwards
// must not lose the record.
func (s *Store) Append(rec event.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode backlog record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return errors.New("backlog store is closed")
	}
	if err := s.rotateIfNeededLocked(int64(len(line))); err != nil {
		return err
	}
	if _, err := s.cur.Write(line); err != nil {
		return fmt.Errorf("append backlog record: %w", err)
	}
	if err := s.cur.Sync(); err != nil {
		return fmt.Errorf("sync backlog file: %w", err)
	}
	s.curSize += int64(len(line))
	return nil
}

// MarkSynced tombstones a delivered record. Idempotent: marking the same id
// twice is a no-op the second time.
func (s *Store) MarkSynced(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.synced[id]; ok {
		return nil
	}
	if s.idx == nil {
		return errors.New("backlog store is closed")
	}
	if _, err := s.idx.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("append synced index: %w", err)
	}
	if err := s.idx.Sync(); err != nil {
		return fmt.Errorf("sync synced index: %w", err)
	}
	s.synced[id] = struct{}{}
	return nil
}

// IsSynced reports whether an id has been tombstoned.
func (s *Store) IsSynced(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.synced[id]
	return ok
}

// UnsyncedCount walks the backlog and counts records not yet synced.
func (s *Store) UnsyncedCount() (int, error) {
	sc, err := s.ScanUnsynced()
	if err != nil {
		return 0, err
	}
	defer func() { _ = sc.Close() }()
	n := 0
	for sc.Next() {
		n++
	}
	return n, sc.Err()
}

// RotateIfNeeded closes the current file and starts a new one when the UTC
// day has changed or the size threshold is exceeded. It is also called
// implicitly before every append.
func (s *Store) RotateIfNeeded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return errors.New("backlog store is closed")
	}
	return s.rotateIfNeededLocked(0)
}

func (s *Store) rotateIfNeededLocked(incoming int64) error {
	day := s.now().UTC().Format(dayLayout)
	switch {
	case s.curDay != day:
		return s.openSegmentLocked(day, 1)
	case s.curSize > 0 && s.curSize+incoming > s.policy.MaxFileBytes:
		return s.openSegmentLocked(day, s.curSeq+1)
	}
	return nil
}

func (s *Store) openSegmentLocked(day string, seq int) error {
	if s.cur != nil {
		if err := s.cur.Sync(); err != nil {
			return fmt.Errorf("sync backlog file before rotation: %w", err)
		}
		if err := s.cur.Close(); err != nil {
			return fmt.Errorf("close backlog file before rotation: %w", err)
		}
		s.cur = nil
	}
	name := segmentName(day, seq)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open backlog file %s: %w", name, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.cur = f
	s.curName = name
	s.curSize = st.Size()
	s.curDay = day
	s.curSeq = seq
	return nil
}

// segmentName encodes the rotation date; lexical order equals chronological
// order across days and sequences within a day.
func segmentName(day string, seq int) string {
	return fmt.Sprintf("%s%s-%03d%s", filePrefix, day, seq, fileSuffix)
}

func (s *Store) loadIndex() error {
	path := filepath.Join(s.dir, indexName)
	if b, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(b), "\n") {
			if id := strings.TrimSpace(line); id != "" {
				s.synced[id] = struct{}{}
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read synced index: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open synced index: %w", err)
	}
	s.idx = f
	return nil
}

func (s *Store) resume() error {
	names, err := s.segmentNames()
	if err != nil {
		return err
	}
	day := s.now().UTC().Format(dayLayout)
	seq := 1
	for _, n := range names {
		d, q, ok := parseSegmentName(n)
		if ok && d == day && q >= seq {
			seq = q
		}
	}
	return s.openSegmentLocked(day, seq)
}

func (s *Store) segmentNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list backlog dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, filePrefix) && strings.HasSuffix(n, fileSuffix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func parseSegmentName(name string) (day string, seq int, ok bool) {
	body := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	parts := strings.SplitN(body, "-", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &seq); err != nil {
		return "", 0, false
	}
	return parts[0], seq, true
}

// Scanner iterates unsynced records in stored order. Each ScanUnsynced call
// re-reads persisted state, so a scan is restartable across process
// restarts.
type Scanner struct {
	store *Store
	paths []string

	file *bufio.Scanner
	f    *os.File
	rec  event.Record
	err  error
}

// ScanUnsynced returns a scanner over every record whose id has not been
// tombstoned, oldest file first, append order within a file.
func (s *Store) ScanUnsynced() (*Scanner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.segmentNames()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.dir, n)
	}
	return &Scanner{store: s, paths: paths}, nil
}

// Next advances to the next unsynced record. It returns false at the end of
// the backlog or on error; check Err afterwards.
func (sc *Scanner) Next() bool {
	for {
		if sc.file == nil {
			if len(sc.paths) == 0 {
				return false
			}
			f, err := os.Open(sc.paths[0])
			sc.paths = sc.paths[1:]
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue // swept between listing and open
				}
				sc.err = err
				return false
			}
			sc.f = f
			sc.file = bufio.NewScanner(f)
			sc.file.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		}
		for sc.file.Scan() {
			line := strings.TrimSpace(sc.file.Text())
			if line == "" {
				continue
			}
			var rec event.Record
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				// Skip a torn or corrupted line rather than wedging resync.
				sc.store.logger.Warn("skipping corrupt backlog line", "error", err)
				continue
			}
			if sc.store.IsSynced(rec.ID) {
				continue
			}
			sc.rec = rec
			return true
		}
		if err := sc.file.Err(); err != nil {
			sc.err = err
			_ = sc.f.Close()
			sc.file, sc.f = nil, nil
			return false
		}
		_ = sc.f.Close()
		sc.file, sc.f = nil, nil
	}
}

// Record returns the record at the current position.
func (sc *Scanner) Record() event.Record { return sc.rec }

// Err returns the first error encountered during the scan.
func (sc *Scanner) Err() error { return sc.err }

// Close releases the scanner's open file, if any.
func (sc *Scanner) Close() error {
	if sc.f != nil {
		err := sc.f.Close()
		sc.file, sc.f = nil, nil
		return err
	}
	return nil
}
