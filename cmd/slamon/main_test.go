package main

import (
	"testing"
)

func TestBuildRootHasSubcommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{"serve": false, "record": false, "status": false, "resync": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestServeRequiresConfig(t *testing.T) {
	if err := Serve(ServeFlags{}); err == nil {
		t.Fatalf("serve without config accepted")
	}
}

func TestRecordRequiresChannel(t *testing.T) {
	var cmd command
	if err := cmd.Record(RecordFlags{Elapsed: 1.0}); err == nil {
		t.Fatalf("record without channel accepted")
	}
}
