package controller_test

import (
	"strings"
	"testing"

	"github.com/downfa11-org/chronos/pkg/config"
	"github.com/downfa11-org/chronos/pkg/controller"
	"github.com/downfa11-org/chronos/pkg/metastore"
)

func newHandler(t *testing.T) *controller.CommandHandler {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.BlockInitialPages = 2
	s, err := metastore.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return controller.NewCommandHandler(s)
}

func TestHandleCommand_SaveGetDelete(t *testing.T) {
	ch := newHandler(t)

	resp := ch.HandleCommand("SAVE id=1 tags=kafka,prod payload=hello world =)")
	if !strings.Contains(resp, "Record 1 saved") {
		t.Fatalf("expected save to succeed, got: %s", resp)
	}

	if resp = ch.HandleCommand("get id=1"); resp != "hello world =)" {
		t.Fatalf("GET wrong result: %s", resp)
	}

	resp = ch.HandleCommand("RECORD id=1")
	if !strings.HasPrefix(resp, "id=1 tags=kafka,prod updated=") || !strings.HasSuffix(resp, "payload=hello world =)") {
		t.Fatalf("RECORD wrong result: %s", resp)
	}

	if resp = ch.HandleCommand("DELETE id=1"); !strings.Contains(resp, "deleted") {
		t.Fatalf("DELETE failed: %s", resp)
	}
	if resp = ch.HandleCommand("GET id=1"); resp != "record 1 not found" {
		t.Fatalf("expected not found, got: %s", resp)
	}
}

func TestHandleCommand_TagQueries(t *testing.T) {
	ch := newHandler(t)

	for _, line := range []string{
		"SAVE id=3 tags=a,b payload=x",
		"SAVE id=1 tags=a payload=y",
		"SAVE id=2 tags=a,b payload=z",
	} {
		if resp := ch.HandleCommand(line); strings.HasPrefix(resp, "ERROR:") {
			t.Fatalf("%s: %s", line, resp)
		}
	}

	if resp := ch.HandleCommand("LIST tags=a,b"); resp != "2, 3" {
		t.Errorf("LIST wrong result: %s", resp)
	}
	if resp := ch.HandleCommand("LIST tags=a page=2 size=2"); resp != "3" {
		t.Errorf("LIST page 2 wrong result: %s", resp)
	}
	if resp := ch.HandleCommand("LIST tags=missing"); resp != "(no records)" {
		t.Errorf("expected empty list, got: %s", resp)
	}
	if resp := ch.HandleCommand("COUNT tags=a"); resp != "3" {
		t.Errorf("COUNT wrong result: %s", resp)
	}
}

func TestHandleCommand_Replay(t *testing.T) {
	ch := newHandler(t)

	for _, line := range []string{"SAVE id=5 payload=a", "SAVE id=6 payload=b", "DELETE id=5"} {
		ch.HandleCommand(line)
	}

	if resp := ch.HandleCommand("REPLAY"); resp != "5, 6, 5 next=12" {
		t.Errorf("REPLAY wrong result: %s", resp)
	}
	if resp := ch.HandleCommand("REPLAY from=4 max=1"); resp != "6 next=8" {
		t.Errorf("REPLAY with limit wrong result: %s", resp)
	}
	if resp := ch.HandleCommand("REPLAY from=12"); resp != "(no records) next=12" {
		t.Errorf("REPLAY at end wrong result: %s", resp)
	}
}

func TestHandleCommand_Errors(t *testing.T) {
	ch := newHandler(t)

	tests := []string{
		"",
		"FROB id=1",
		"SAVE payload=x",
		"SAVE id=0 payload=x",
		"SAVE id=1",
		"SAVE id=1 tags=this_tag_is_far_too_long payload=x",
		"GET id=abc",
		"LIST",
		"LIST tags=a page=x",
		"COUNT",
	}
	for _, line := range tests {
		if resp := ch.HandleCommand(line); !strings.HasPrefix(resp, "ERROR:") {
			t.Errorf("%q: expected an error, got: %s", line, resp)
		}
	}
}

func TestHandleCommand_StatsAndHelp(t *testing.T) {
	ch := newHandler(t)
	ch.HandleCommand("SAVE id=9 tags=t payload=p")

	resp := ch.HandleCommand("STATS")
	for _, want := range []string{"records=1", "max_id=9", "tags=1", "wal_bytes=4"} {
		if !strings.Contains(resp, want) {
			t.Errorf("STATS missing %s: %s", want, resp)
		}
	}
	if resp := ch.HandleCommand("HELP"); !strings.Contains(resp, "Available commands") {
		t.Errorf("HELP wrong result: %s", resp)
	}
}
