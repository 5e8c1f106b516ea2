package alertlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/slamon/internal/event"
)

func TestWriteAppendsAlertsAsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.log")
	l := New(Config{File: path})
	defer func() { _ = l.Close() }()

	first := event.New("chat", event.KindAlert, map[string]any{"elapsed_seconds": 9.5})
	second := event.New("email", event.KindAlert, map[string]any{"elapsed_seconds": 120.0})
	for _, ev := range []event.Event{first, second} {
		if err := l.Write(ev); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open alert log: %v", err)
	}
	defer func() { _ = f.Close() }()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev event.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		ids = append(ids, ev.ID)
	}
	if len(ids) != 2 || ids[0] != first.ID || ids[1] != second.ID {
		t.Fatalf("alert log ids = %v", ids)
	}
}

func TestWriteRejectsMeasurements(t *testing.T) {
	l := New(Config{File: filepath.Join(t.TempDir(), "alerts.log")})
	defer func() { _ = l.Close() }()

	ev := event.New("chat", event.KindMeasurement, nil)
	if err := l.Write(ev); err == nil {
		t.Fatalf("Write accepted a measurement event")
	}
}

func TestDisabledLogIsNoop(t *testing.T) {
	l := New(Config{})
	if err := l.Write(event.New("chat", event.KindAlert, nil)); err != nil {
		t.Fatalf("disabled log returned error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
