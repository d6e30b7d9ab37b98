package mta

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestSendmailBackendSuccess(t *testing.T) {
	dir, err := ioutil.TempDir("", "mta-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	captured := filepath.Join(dir, "captured")
	script := filepath.Join(dir, "fakesendmail.sh")
	if err := ioutil.WriteFile(script, []byte("#!/bin/sh\ncat > "+captured+"\n"), 0755); err != nil {
		t.Fatal(err)
	}

	backend := SendmailBackend{Path: "/bin/sh", Args: []string{script}}
	content := []byte("Subject: hi\r\n\r\nbody\r\n")
	results, err := backend.Send(context.Background(), "alice@example.com", []string{"bob@example.com"}, bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if len(results) != 1 || !results[0].Success || results[0].Recipient != "bob@example.com" {
		t.Fatalf("results = %v", results)
	}

	got, err := ioutil.ReadFile(captured)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("captured content = %q, want %q", got, content)
	}
}

func TestSendmailBackendFailure(t *testing.T) {
	backend := SendmailBackend{Path: "/bin/sh", Args: []string{"-c", "exit 1"}}
	content := []byte("x")
	_, err := backend.Send(context.Background(), "a@example.com", []string{"b@example.com"}, bytes.NewReader(content), int64(len(content)))
	if err == nil {
		t.Fatal("Send() = nil, want error for non-zero exit")
	}
}
