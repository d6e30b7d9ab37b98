// Package mta implements the two submission backends the send
// pipeline's final step (§4.5 step 6) can hand a finished message to:
// a local sendmail-compatible pipe, and direct SMTP. Both are a single
// synchronous call per send attempt rather than a scan loop over a
// staging table — the compose pipeline sends one message at a time
// and needs the result inline to decide the exit code (§6).
//
// SMTPBackend wraps transport/smtpclient.Client directly, used the
// same way a staging-table delivery daemon would call it, minus the
// sqlite staging scan loop that doesn't fit a single-session MUA.
package mta

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"mailcore.dev/transport/smtpclient"
)

// Result is one recipient's outcome from a submission attempt.
type Result struct {
	Recipient string
	Success   bool
	Details   string
}

// Backend is the MTA submission contract the send pipeline's finalize
// step depends on; SendmailBackend and SMTPBackend both implement it.
type Backend interface {
	Send(ctx context.Context, from string, recipients []string, r io.ReaderAt, size int64) ([]Result, error)
}

// SendmailBackend pipes a finished message to a local
// sendmail-compatible binary, the default MTA backend ($sendmail).
// Recipients are passed as argv, matching sendmail's own command-line
// convention; there is no per-recipient delivery status from a single
// pipe invocation, so every recipient shares the pipe's exit outcome.
type SendmailBackend struct {
	Path string   // e.g. "/usr/sbin/sendmail"
	Args []string // extra flags inserted before the recipient list, e.g. {"-oi", "-oem"}
}

func (s SendmailBackend) Send(ctx context.Context, from string, recipients []string, r io.ReaderAt, size int64) ([]Result, error) {
	args := append([]string{}, s.Args...)
	args = append(args, "-f", from, "--")
	args = append(args, recipients...)

	cmd := exec.CommandContext(ctx, s.Path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mta: sendmail stdin: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mta: sendmail start: %v", err)
	}

	copyErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, io.NewSectionReader(r, 0, size))
		if clErr := stdin.Close(); err == nil {
			err = clErr
		}
		copyErr <- err
	}()

	waitErr := cmd.Wait()
	if err := <-copyErr; err != nil && waitErr == nil {
		waitErr = err
	}

	results := make([]Result, len(recipients))
	for i, rcpt := range recipients {
		results[i] = Result{Recipient: rcpt, Success: waitErr == nil}
		if waitErr != nil {
			results[i].Details = waitErr.Error()
		}
	}
	if waitErr != nil {
		return results, fmt.Errorf("mta: sendmail: %v", waitErr)
	}
	return results, nil
}

// SMTPBackend submits a message by direct SMTP delivery via
// transport/smtpclient, used for $smtp_url-configured accounts.
type SMTPBackend struct {
	Client *smtpclient.Client
}

func (s SMTPBackend) Send(ctx context.Context, from string, recipients []string, r io.ReaderAt, size int64) ([]Result, error) {
	deliveries, err := s.Client.Send(ctx, from, recipients, r, size)
	if err != nil {
		return nil, fmt.Errorf("mta: smtp: %v", err)
	}
	results := make([]Result, len(deliveries))
	for i, d := range deliveries {
		results[i] = Result{
			Recipient: d.Recipient,
			Success:   d.Success(),
			Details:   d.Details,
		}
		if d.Error != nil {
			if results[i].Details != "" {
				results[i].Details += ", "
			}
			results[i].Details += "error: " + d.Error.Error()
		}
	}
	return results, nil
}
