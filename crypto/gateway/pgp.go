package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
)

// PGP implements Signer, Encryptor, and Verifier for the PGP backend
// by shelling out to a gpg-compatible binary, the way mutt itself
// forks gpg and the way send.Background forks an editor for
// background composition — no ecosystem OpenPGP implementation exists
// in the retrieval pack to link against instead (see DESIGN.md).
type PGP struct {
	// Path is the gpg-compatible binary, e.g. "gpg" or "gpg2".
	Path string

	Keys KeyResolver

	// TempDir is where detached signature/ciphertext files are
	// written; defaults to os.TempDir() when empty.
	TempDir string
}

func (p *PGP) binary() string {
	if p.Path == "" {
		return "gpg"
	}
	return p.Path
}

func (p *PGP) Sign(ctx context.Context, keyID string, body io.Reader) (*SignResult, error) {
	in, err := ioutil.TempFile(p.TempDir, "pgp-sign-in-")
	if err != nil {
		return nil, fmt.Errorf("gateway/pgp: %v", err)
	}
	defer os.Remove(in.Name())
	defer in.Close()
	if _, err := io.Copy(in, body); err != nil {
		return nil, fmt.Errorf("gateway/pgp: %v", err)
	}
	in.Close()

	sigPath := in.Name() + ".sig"
	defer os.Remove(sigPath)

	args := []string{"--batch", "--yes", "--detach-sign", "--armor",
		"--local-user", keyID, "--output", sigPath, in.Name()}
	cmd := exec.CommandContext(ctx, p.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gateway/pgp: gpg sign: %v: %s", err, stderr.String())
	}

	sig, err := ioutil.ReadFile(sigPath)
	if err != nil {
		return nil, fmt.Errorf("gateway/pgp: reading signature: %v", err)
	}
	return &SignResult{
		Signature: sig,
		Protocol:  "application/pgp-signature",
		MicAlg:    "pgp-sha256",
	}, nil
}

func (p *PGP) Verify(ctx context.Context, signed, signature []byte) error {
	in, err := ioutil.TempFile(p.TempDir, "pgp-verify-in-")
	if err != nil {
		return fmt.Errorf("gateway/pgp: %v", err)
	}
	defer os.Remove(in.Name())
	defer in.Close()
	if _, err := in.Write(signed); err != nil {
		return fmt.Errorf("gateway/pgp: %v", err)
	}
	in.Close()

	sigFile, err := ioutil.TempFile(p.TempDir, "pgp-verify-sig-")
	if err != nil {
		return fmt.Errorf("gateway/pgp: %v", err)
	}
	defer os.Remove(sigFile.Name())
	defer sigFile.Close()
	if _, err := sigFile.Write(signature); err != nil {
		return fmt.Errorf("gateway/pgp: %v", err)
	}
	sigFile.Close()

	cmd := exec.CommandContext(ctx, p.binary(), "--batch", "--verify", sigFile.Name(), in.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gateway/pgp: bad signature: %s", stderr.String())
	}
	return nil
}

func (p *PGP) Encrypt(ctx context.Context, recipientKeyIDs []string, body io.Reader) (io.Reader, error) {
	args := []string{"--batch", "--yes", "--armor", "--encrypt", "--trust-model", "always"}
	for _, r := range recipientKeyIDs {
		args = append(args, "--recipient", r)
	}
	cmd := exec.CommandContext(ctx, p.binary(), args...)
	cmd.Stdin = body
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gateway/pgp: gpg encrypt: %v: %s", err, stderr.String())
	}
	return bytes.NewReader(out.Bytes()), nil
}

func (p *PGP) Decrypt(ctx context.Context, body io.Reader) (io.Reader, error) {
	cmd := exec.CommandContext(ctx, p.binary(), "--batch", "--yes", "--decrypt")
	cmd.Stdin = body
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gateway/pgp: gpg decrypt: %v: %s", err, stderr.String())
	}
	return bytes.NewReader(out.Bytes()), nil
}

func (p *PGP) FindKeys(addr string, ability Ability) ([]Key, error) {
	if p.Keys == nil {
		return nil, nil
	}
	return p.Keys.FindKeys(addr, ability)
}
