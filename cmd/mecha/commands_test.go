package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mecha/internal/session"
)

func TestShowJournalReplaysTruncatedPrefix(t *testing.T) {
	dir := t.TempDir()
	reg, err := session.OpenRegistry(dir)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	j, err := reg.Create("s1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := j.Append(session.AuthorHuman, session.KindMessage, json.RawMessage(`"first message"`)); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Append(session.AuthorAgent, session.KindMessage, json.RawMessage(`"second message"`)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Close(); err != nil {
		t.Fatal(err)
	}

	// Corrupt the checksum of the last record.
	path := filepath.Join(dir, "s1.journal")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	reg2, err := session.OpenRegistry(dir)
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	defer reg2.Close()

	var out, errOut bytes.Buffer
	if err := showJournal(&out, &errOut, reg2, "s1"); err != nil {
		t.Fatalf("truncated journal must still replay: %v", err)
	}
	if !strings.Contains(out.String(), "first message") {
		t.Fatalf("valid prefix missing from replay:\n%s", out.String())
	}
	if strings.Contains(out.String(), "second message") {
		t.Fatalf("corrupt record replayed:\n%s", out.String())
	}
	if !strings.Contains(errOut.String(), "truncated") {
		t.Fatalf("no truncation warning:\n%s", errOut.String())
	}
}

func TestShowJournalUnknownSession(t *testing.T) {
	reg, err := session.OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	defer reg.Close()

	var out, errOut bytes.Buffer
	if err := showJournal(&out, &errOut, reg, "no-such-id"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
